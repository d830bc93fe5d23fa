package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	docerrors "github.com/Aman-CERP/docrag/internal/errors"
)

// OllamaEncoder produces sentence embeddings through Ollama's HTTP API.
type OllamaEncoder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Encoder = (*OllamaEncoder)(nil)

// NewOllamaEncoder connects to Ollama, picks an installed model and probes
// its dimensions. It fails when the server or model is unavailable, which
// callers treat as "model could not be loaded".
func NewOllamaEncoder(ctx context.Context, cfg OllamaConfig) (*OllamaEncoder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = def.FallbackModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}

	// No client-wide timeout; each request gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEncoder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		e.modelName = modelName

		if e.dims == 0 {
			vecs, err := e.doEmbed(checkCtx, []string{"dimension probe"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, docerrors.New(docerrors.ErrCodeOllamaUnavailable, "failed to detect embedding dimensions", err)
			}
			if len(vecs) == 0 || len(vecs[0]) == 0 {
				transport.CloseIdleConnections()
				return nil, docerrors.New(docerrors.ErrCodeEmbeddingFailed, "empty embedding returned by dimension probe", nil)
			}
			e.dims = len(vecs[0])
		}
	}

	slog.Debug("ollama_encoder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.modelName),
		slog.Int("dimensions", e.dims))
	return e, nil
}

func (e *OllamaEncoder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeOllamaUnavailable, "failed to connect to Ollama at "+e.config.Host, err).
			WithSuggestion("start Ollama (ollama serve) or use index.backend: sparse")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, docerrors.New(docerrors.ErrCodeOllamaUnavailable,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel returns the installed name of the configured model or
// the first installed fallback. Names match with or without a ":tag".
func (e *OllamaEncoder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	for _, candidate := range append([]string{e.config.Model}, e.config.FallbackModels...) {
		name := strings.ToLower(candidate)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, nil
		}
	}

	return "", docerrors.New(docerrors.ErrCodeModelNotFound,
		fmt.Sprintf("no embedding model available (tried %s and %v)", e.config.Model, e.config.FallbackModels), nil).
		WithSuggestion("ollama pull " + e.config.Model)
}

// Embed implements Encoder. Blank text maps to a zero vector.
func (e *OllamaEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Encoder.
func (e *OllamaEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("encoder is closed")
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(pending))
		batch := make([]string, 0, end-start)
		for _, idx := range pending[start:end] {
			batch = append(batch, texts[idx])
		}

		vecs, err := e.doEmbedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, docerrors.New(docerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(vecs), len(batch)), nil)
		}
		for j, idx := range pending[start:end] {
			results[idx] = vecs[j]
		}
	}

	return results, nil
}

func (e *OllamaEncoder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	retry := docerrors.DefaultRetryConfig()
	retry.MaxRetries = e.config.MaxRetries
	retry.InitialDelay = 100 * time.Millisecond

	attempt := 0
	return docerrors.RetryWithResult(ctx, retry, func() ([][]float32, error) {
		attempt++
		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vecs, err := e.doEmbed(reqCtx, texts)
		if err != nil {
			slog.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts_count", len(texts)),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
}

// doEmbed performs one /api/embed request.
func (e *OllamaEncoder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeNetworkTimeout, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		code := docerrors.ErrCodeEmbeddingFailed
		if resp.StatusCode >= http.StatusInternalServerError {
			code = docerrors.ErrCodeOllamaUnavailable
		}
		return nil, docerrors.New(code,
			fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var apiResult OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions implements Encoder.
func (e *OllamaEncoder) Dimensions() int { return e.dims }

// ModelName implements Encoder.
func (e *OllamaEncoder) ModelName() string { return e.modelName }

// Close implements Encoder.
func (e *OllamaEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
