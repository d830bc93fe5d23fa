package embed

import (
	"context"
	"log/slog"
)

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Kind Kind
	// Root is the index directory; each kind writes under Root/<kind>.
	Root   string
	Sparse SparseConfig
	Dense  DenseConfig
	Ollama OllamaConfig
	// CacheSize bounds the encoder LRU; 0 disables caching.
	CacheSize int
}

// NewBackend builds the backend for cfg.Kind. A dense backend whose model
// cannot be loaded is returned degraded rather than as an error.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}

	sparse := NewSparse(cfg.Root, cfg.Sparse)
	if kind == KindSparse {
		slog.Debug("embedding_backend_selected", slog.String("backend", string(KindSparse)))
		return sparse, nil
	}

	var enc Encoder
	ollama, err := NewOllamaEncoder(ctx, cfg.Ollama)
	if err != nil {
		slog.Warn("dense_model_unavailable",
			slog.String("model", cfg.Ollama.Model),
			slog.String("host", cfg.Ollama.Host),
			slog.String("error", err.Error()))
	} else {
		enc = ollama
		if cfg.CacheSize > 0 {
			enc = NewCachedEncoder(ollama, cfg.CacheSize)
		}
	}

	slog.Debug("embedding_backend_selected",
		slog.String("backend", string(KindDense)),
		slog.Bool("degraded", enc == nil))
	return NewDense(cfg.Root, enc, sparse, cfg.Dense), nil
}
