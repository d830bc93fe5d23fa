package embed

import "time"

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a multilingual sentence-embedding model.
	DefaultOllamaModel = "paraphrase-multilingual"

	// OllamaConnectTimeout bounds the health check at construction.
	OllamaConnectTimeout = 30 * time.Second

	// DefaultOllamaTimeout bounds a single /api/embed request.
	DefaultOllamaTimeout = 60 * time.Second
)

// FallbackOllamaModels are tried in order if the configured model is not installed.
var FallbackOllamaModels = []string{
	"bge-m3",
	"nomic-embed-text",
}

// OllamaConfig configures the Ollama encoder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	Model string

	// FallbackModels are tried in order if Model is not installed
	FallbackModels []string

	// Dimensions overrides auto-detection (0 = detect from a probe embedding)
	Dimensions int

	// BatchSize is the number of inputs per /api/embed request
	BatchSize int

	// Timeout for a single API request
	Timeout time.Duration

	// ConnectTimeout for the health check
	ConnectTimeout time.Duration

	// MaxRetries for transient failures
	MaxRetries int

	// SkipHealthCheck skips model discovery (tests)
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultOllamaTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     3,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// OllamaEmbedResponse is the Ollama /api/embed response
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the Ollama /api/tags response
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes an installed model
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
