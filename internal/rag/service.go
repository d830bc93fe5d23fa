// Package rag wires the document store and the vector index into the
// retrieval service used by the CLI.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Aman-CERP/docrag/internal/chunk"
	"github.com/Aman-CERP/docrag/internal/config"
	"github.com/Aman-CERP/docrag/internal/docstore"
	"github.com/Aman-CERP/docrag/internal/embed"
	docerrors "github.com/Aman-CERP/docrag/internal/errors"
	"github.com/Aman-CERP/docrag/internal/index"
)

// DocumentStore is the document persistence the service needs.
type DocumentStore interface {
	Add(ctx context.Context, filename string, content []byte) (string, error)
	AllChunks(ctx context.Context) ([]chunk.Chunk, error)
	Documents(ctx context.Context) ([]docstore.Document, error)
	Stats(ctx context.Context) (docstore.Stats, error)
	Delete(ctx context.Context, docID string) error
	Close() error
}

// File is a document to add.
type File struct {
	Name    string
	Content []byte
}

// AddResult reports one added document.
type AddResult struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
}

// Info describes the service state.
type Info struct {
	Documents  int        `json:"documents"`
	Chunks     int        `json:"chunks"`
	Embeddings embed.Kind `json:"embeddings"`
	Degraded   bool       `json:"degraded"`
	IndexRows  int        `json:"index_rows"`
	Loaded     bool       `json:"loaded"`
}

// Service adds documents, keeps the index in step with them and answers
// retrieval queries. Writes are serialised in-process by a mutex and
// across processes by a lock file in the data directory.
type Service struct {
	docs  DocumentStore
	index *index.Store
	lock  *FileLock

	mu     sync.RWMutex
	loaded bool
}

// New creates a service over an existing store and index. lockDir is the
// directory for the cross-process lock file.
func New(docs DocumentStore, idx *index.Store, lockDir string) *Service {
	return &Service{
		docs:  docs,
		index: idx,
		lock:  NewFileLock(lockDir),
	}
}

// Open builds the document store, backend and index described by cfg.
// A dense backend whose model is unavailable comes up degraded.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	chunker := chunk.NewChunker(
		chunk.WithChunkSize(cfg.Chunking.ChunkSize),
		chunk.WithOverlap(cfg.Chunking.ChunkOverlap),
	)

	docs, err := docstore.Open(cfg.DatabasePath(), chunker)
	if err != nil {
		return nil, err
	}

	ollama := embed.DefaultOllamaConfig()
	ollama.Host = cfg.Embeddings.OllamaHost
	ollama.Model = cfg.Embeddings.Model
	ollama.BatchSize = cfg.Embeddings.BatchSize
	ollama.Timeout = cfg.EmbeddingTimeout()

	backend, err := embed.NewBackend(ctx, embed.BackendConfig{
		Kind: embed.Kind(cfg.Index.Backend),
		Root: cfg.IndexDir(),
		Sparse: embed.SparseConfig{
			MaxDF:       cfg.Index.MaxDF,
			MinDF:       cfg.Index.MinDF,
			MaxFeatures: cfg.Index.MaxFeatures,
		},
		Dense:     embed.DenseConfig{BatchSize: cfg.Embeddings.BatchSize},
		Ollama:    ollama,
		CacheSize: cfg.Embeddings.CacheSize,
	})
	if err != nil {
		_ = docs.Close()
		return nil, docerrors.ConfigError("invalid index backend", err)
	}

	idx := index.NewStore(backend, docs,
		index.WithThreshold(cfg.Search.Threshold),
		index.WithRetrieverOptions(index.WithLowerThreshold(cfg.Search.LowerThreshold)),
	)
	return New(docs, idx, cfg.Storage.DataDir), nil
}

// Init loads the persisted index. When there is none but documents are
// stored, the index is rebuilt from them.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index.LoadIndex() {
		s.loaded = true
		info := s.index.Info()
		slog.Info("index_loaded",
			slog.String("backend", string(info.Kind)),
			slog.Bool("degraded", info.Degraded),
			slog.Int("rows", info.Rows))
		return nil
	}

	st, err := s.docs.Stats(ctx)
	if err != nil {
		return err
	}
	if st.Chunks == 0 {
		slog.Info("index_empty", slog.String("reason", "no documents"))
		return nil
	}

	slog.Info("index_rebuild_on_init", slog.Int("chunks", st.Chunks))
	return s.rebuildLocked(ctx)
}

// AddDocument stores one document and rebuilds the index.
func (s *Service) AddDocument(ctx context.Context, filename string, content []byte) (AddResult, error) {
	results, err := s.AddDocuments(ctx, []File{{Name: filename, Content: content}})
	if len(results) == 0 {
		return AddResult{}, err
	}
	return results[0], err
}

// AddDocuments stores files in order and rebuilds the index once. Files
// that cannot be stored are reported in the joined error and skipped; the
// index is rebuilt if at least one was stored.
func (s *Service) AddDocuments(ctx context.Context, files []File) ([]AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		added []AddResult
		errs  []error
	)
	for _, f := range files {
		id, err := s.docs.Add(ctx, f.Name, f.Content)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}
		added = append(added, AddResult{DocID: id, Filename: f.Name})
	}

	if len(added) > 0 {
		if err := s.rebuildLocked(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return added, errors.Join(errs...)
}

// SyncFiles brings the store in line with changes to files on disk:
// documents whose filename matches a changed or removed path are dropped,
// changed files are added again, and the index is rebuilt once.
func (s *Service) SyncFiles(ctx context.Context, changed []File, removed []string) ([]AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.docs.Documents(ctx)
	if err != nil {
		return nil, err
	}
	stale := make(map[string][]string, len(docs))
	for _, d := range docs {
		stale[d.Filename] = append(stale[d.Filename], d.ID)
	}

	var (
		errs    []error
		dirty   bool
		added   []AddResult
		targets = slices.Clone(removed)
	)
	for _, f := range changed {
		targets = append(targets, f.Name)
	}
	for _, name := range targets {
		for _, id := range stale[name] {
			if err := s.docs.Delete(ctx, id); err != nil && !errors.Is(err, docstore.ErrNotFound) {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			dirty = true
		}
		delete(stale, name)
	}

	for _, f := range changed {
		id, err := s.docs.Add(ctx, f.Name, f.Content)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}
		dirty = true
		added = append(added, AddResult{DocID: id, Filename: f.Name})
	}

	if dirty {
		if err := s.rebuildLocked(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("files_synced",
		slog.Int("changed", len(changed)),
		slog.Int("removed", len(removed)),
		slog.Int("added", len(added)))
	return added, errors.Join(errs...)
}

// DeleteDocument removes a document and rebuilds the index over what
// remains.
func (s *Service) DeleteDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.docs.Delete(ctx, docID); err != nil {
		return err
	}
	return s.rebuildLocked(ctx)
}

// Reindex rebuilds the index from every stored chunk.
func (s *Service) Reindex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

// rebuildLocked refits the index over all chunks. s.mu must be held. The
// chunk snapshot is read under the file lock so a concurrent writer's
// documents are never overwritten by an older snapshot.
func (s *Service) rebuildLocked(ctx context.Context) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("index_lock_release_failed", slog.String("error", err.Error()))
		}
	}()

	chunks, err := s.docs.AllChunks(ctx)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		slog.Info("index_rebuild_skipped", slog.String("reason", "no chunks"))
		return nil
	}

	if err := s.index.CreateIndex(ctx, chunks); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// Retrieve returns the chunks most relevant to question. topK <= 0 uses
// the index default.
func (s *Service) Retrieve(ctx context.Context, question string, topK int) ([]index.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.index.Search(ctx, question, topK)
	if err != nil {
		return nil, err
	}

	slog.Info("retrieve_complete",
		slog.Int("top_k", topK),
		slog.Int("results", len(results)))
	return results, nil
}

// Documents lists stored documents.
func (s *Service) Documents(ctx context.Context) ([]docstore.Document, error) {
	return s.docs.Documents(ctx)
}

// Info reports document and chunk counts and the index state.
func (s *Service) Info(ctx context.Context) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.docs.Stats(ctx)
	if err != nil {
		return Info{}, err
	}
	idx := s.index.Info()
	return Info{
		Documents:  st.Documents,
		Chunks:     st.Chunks,
		Embeddings: idx.Kind,
		Degraded:   idx.Degraded,
		IndexRows:  idx.Rows,
		Loaded:     s.loaded,
	}, nil
}

// Close releases the index and the document store.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.index.Close(), s.docs.Close())
}
