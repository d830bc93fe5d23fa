package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by index.backend.
const (
	BackendSparse = "sparse"
	BackendDense  = "dense"
)

// Config represents the complete docrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// StorageConfig locates the document store and index artifacts.
type StorageConfig struct {
	// DataDir holds docrag.db and the index/ artifact tree.
	DataDir string `yaml:"data_dir" json:"data_dir" validate:"required"`
}

// ChunkingConfig configures paragraph chunking (characters).
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

// IndexConfig selects the embedding backend and the TF-IDF vocabulary bounds.
type IndexConfig struct {
	// Backend is "dense" (sentence embeddings, falls back to sparse) or "sparse".
	Backend     string  `yaml:"backend" json:"backend" validate:"oneof=sparse dense"`
	MaxDF       float64 `yaml:"max_df" json:"max_df" validate:"gt=0,lte=1"`
	MinDF       int     `yaml:"min_df" json:"min_df" validate:"gte=1"`
	MaxFeatures int     `yaml:"max_features" json:"max_features" validate:"gt=0"`
}

// EmbeddingsConfig configures the dense encoder.
type EmbeddingsConfig struct {
	Model      string `yaml:"model" json:"model" validate:"required"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host" validate:"required,url"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size" validate:"gt=0"`
	Timeout    string `yaml:"timeout" json:"timeout"`
	// CacheSize bounds the query embedding LRU; 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size" validate:"gte=0"`
}

// SearchConfig configures retrieval.
type SearchConfig struct {
	TopK int `yaml:"top_k" json:"top_k" validate:"gt=0"`
	// Threshold is the primary cosine cutoff. Cosine can be negative.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gte=-1,lte=1"`
	// LowerThreshold is tried when nothing passes Threshold.
	LowerThreshold float64 `yaml:"lower_threshold" json:"lower_threshold" validate:"gte=-1,ltefield=Threshold"`
}

// WatchConfig configures `docrag watch`.
type WatchConfig struct {
	Debounce   string   `yaml:"debounce" json:"debounce"`
	Extensions []string `yaml:"extensions" json:"extensions" validate:"dive,startswith=."`
}

// LoggingConfig configures the log level and file.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Index: IndexConfig{
			Backend:     BackendDense,
			MaxDF:       0.85,
			MinDF:       2,
			MaxFeatures: 10000,
		},
		Embeddings: EmbeddingsConfig{
			Model:      "paraphrase-multilingual",
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			Timeout:    "60s",
			CacheSize:  1000,
		},
		Search: SearchConfig{
			TopK:           3,
			Threshold:      -0.1,
			LowerThreshold: -0.5,
		},
		Watch: WatchConfig{
			Debounce:   "500ms",
			Extensions: []string{".txt", ".md"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docrag", "data")
	}
	return filepath.Join(home, ".docrag", "data")
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/docrag/config.yaml, else ~/.config/docrag/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml")
}

// Load loads configuration for the given project directory.
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/docrag/config.yaml)
//  3. Project config (.docrag.yaml or .docrag.yml in dir)
//  4. dir/.env (never overrides variables already set)
//  5. Environment variables (DOCRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAMLIfExists(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	for _, name := range []string{".docrag.yaml", ".docrag.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAMLIfExists(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.Storage.DataDir = ExpandHome(cfg.Storage.DataDir)
	cfg.Logging.FilePath = ExpandHome(cfg.Logging.FilePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAMLIfExists decodes path over the current values, so keys absent
// from the file keep whatever an earlier layer set.
func (c *Config) loadYAMLIfExists(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("DOCRAG_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DOCRAG_BACKEND"); v != "" {
		c.Index.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DOCRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("DOCRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	ints := map[string]*int{
		"DOCRAG_CHUNK_SIZE":    &c.Chunking.ChunkSize,
		"DOCRAG_CHUNK_OVERLAP": &c.Chunking.ChunkOverlap,
		"DOCRAG_TOP_K":         &c.Search.TopK,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s must be an integer, got %q", name, v)
			}
			*dst = n
		}
	}

	if v := os.Getenv("DOCRAG_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DOCRAG_THRESHOLD must be a number, got %q", v)
		}
		c.Search.Threshold = f
	}
	return nil
}

// Validate checks struct tags plus the duration fields.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", strings.TrimPrefix(e.Namespace(), "Config."), e.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	for name, v := range map[string]string{
		"embeddings.timeout": c.Embeddings.Timeout,
		"watch.debounce":     c.Watch.Debounce,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s must be a duration, got %q", name, v)
		}
	}
	return nil
}

// EmbeddingTimeout returns embeddings.timeout, defaulting to 60s.
func (c *Config) EmbeddingTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Embeddings.Timeout); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

// WatchDebounce returns watch.debounce, defaulting to 500ms.
func (c *Config) WatchDebounce() time.Duration {
	if d, err := time.ParseDuration(c.Watch.Debounce); err == nil && d > 0 {
		return d
	}
	return 500 * time.Millisecond
}

// IndexDir is where backend artifacts live.
func (c *Config) IndexDir() string {
	return filepath.Join(c.Storage.DataDir, "index")
}

// DatabasePath is the SQLite document store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "docrag.db")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
