// Package index binds an embedding backend to the chunk corpus: it builds
// and persists the index, reloads it at startup and answers queries.
package index

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Aman-CERP/docrag/internal/chunk"
	"github.com/Aman-CERP/docrag/internal/embed"
	docerrors "github.com/Aman-CERP/docrag/internal/errors"
)

// ChunkSource supplies the live chunk set that search results resolve
// against.
type ChunkSource interface {
	AllChunks(ctx context.Context) ([]chunk.Chunk, error)
}

// Info describes the state of an index.
type Info struct {
	Kind     embed.Kind `json:"kind"`
	Degraded bool       `json:"degraded"`
	Rows     int        `json:"rows"`
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithThreshold sets the first similarity cut used by Search.
func WithThreshold(v float64) StoreOption {
	return func(s *Store) {
		s.threshold = v
	}
}

// WithRetrieverOptions passes options through to the Retriever.
func WithRetrieverOptions(opts ...RetrieverOption) StoreOption {
	return func(s *Store) {
		s.retrieverOpts = append(s.retrieverOpts, opts...)
	}
}

// Store is a vector index bound to one backend for its lifetime. Callers
// own the instance; there is no package-level index.
type Store struct {
	backend embed.Backend
	// dense is non-nil when backend is a *embed.Dense, enabling the sparse
	// artifact fallback in LoadIndex.
	dense  *embed.Dense
	source ChunkSource

	threshold     float64
	retrieverOpts []RetrieverOption
	retriever     *Retriever
}

// NewStore creates a store over backend. source is consulted on every
// Search.
func NewStore(backend embed.Backend, source ChunkSource, opts ...StoreOption) *Store {
	s := &Store{
		backend:   backend,
		source:    source,
		threshold: DefaultThreshold,
	}
	if d, ok := backend.(*embed.Dense); ok {
		s.dense = d
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retriever = NewRetriever(backend, s.retrieverOpts...)
	return s
}

// CreateIndex fits the backend on chunks and persists the result. On a fit
// failure the previous in-memory and on-disk index are left as they were.
func (s *Store) CreateIndex(ctx context.Context, chunks []chunk.Chunk) error {
	texts := make([]string, len(chunks))
	keys := make([]string, len(chunks))
	for i, c := range chunks {
		c = c.Normalize()
		texts[i] = c.Text
		keys[i] = c.Key().String()
	}

	if err := s.backend.Fit(ctx, texts, keys); err != nil {
		return docerrors.IndexError("failed to fit "+string(s.backend.Kind())+" index", err).
			WithDetail("chunks", strconv.Itoa(len(chunks)))
	}
	if err := s.backend.Save(); err != nil {
		return docerrors.IndexError("failed to save index", err)
	}

	slog.Info("index_created",
		slog.String("backend", string(s.backend.Kind())),
		slog.Bool("degraded", s.backend.Degraded()),
		slog.Int("chunks", len(chunks)))
	return nil
}

// LoadIndex restores persisted artifacts. A dense store tries its dense
// artifacts first and then falls back to the sparse ones, serving them
// degraded. It returns false when nothing could be loaded.
func (s *Store) LoadIndex() bool {
	if s.backend.Load() {
		return true
	}
	if s.dense != nil && !s.dense.Degraded() && s.dense.LoadSparse() {
		return true
	}

	slog.Info("index_not_loaded", slog.String("backend", string(s.backend.Kind())))
	return false
}

// Search returns up to topK chunks relevant to query, resolved against the
// live chunk set.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, docerrors.New(docerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	chunks, err := s.source.AllChunks(ctx)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeSearchFailed, "failed to read chunks", err)
	}

	return s.retriever.Search(ctx, query, chunks, topK, s.threshold), nil
}

// Info reports the backend kind, degraded state and indexed row count.
func (s *Store) Info() Info {
	return Info{
		Kind:     s.backend.Kind(),
		Degraded: s.backend.Degraded(),
		Rows:     s.backend.Matrix().Rows(),
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
