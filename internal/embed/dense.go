package embed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/coder/hnsw"
	"golang.org/x/sync/errgroup"
)

// denseModel is the persisted model identity, model.gob.
type denseModel struct {
	Model string
	Dims  int
	Rows  int
}

// DenseConfig configures a dense backend.
type DenseConfig struct {
	// BatchSize is the number of texts per encoder call during Fit.
	BatchSize int
	// Workers is the number of batches encoded concurrently.
	Workers int
}

// Dense is the sentence-embedding backend. When its encoder could not be
// built it is degraded: Fit, Transform, Save, Load, Matrix and Keys are
// all served by the held sparse backend.
type Dense struct {
	dir      string
	enc      Encoder
	fallback *Sparse
	cfg      DenseConfig

	mu       sync.RWMutex
	degraded bool
	matrix   *Matrix
	keys     []string
}

var _ Backend = (*Dense)(nil)

// NewDense creates a dense backend whose artifacts live in root/dense.
// A nil enc marks the backend degraded for its lifetime.
func NewDense(root string, enc Encoder, fallback *Sparse, cfg DenseConfig) *Dense {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if fallback == nil {
		fallback = NewSparse(root, DefaultSparseConfig())
	}

	d := &Dense{
		dir:      filepath.Join(root, string(KindDense)),
		enc:      enc,
		fallback: fallback,
		cfg:      cfg,
		degraded: enc == nil,
	}
	if d.degraded {
		slog.Warn("dense_backend_degraded",
			slog.String("reason", "embedding model unavailable"),
			slog.String("serving", string(KindSparse)))
	}
	return d
}

// Kind implements Backend.
func (d *Dense) Kind() Kind { return KindDense }

// Degraded implements Backend.
func (d *Dense) Degraded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.degraded
}

// ModelName returns the encoder's model, or "" when there is none.
func (d *Dense) ModelName() string {
	if d.enc == nil {
		return ""
	}
	return d.enc.ModelName()
}

// Dir returns the artifact directory.
func (d *Dense) Dir() string { return d.dir }

// Fit implements Backend. A successful dense fit clears a degraded state
// entered through LoadSparse.
func (d *Dense) Fit(ctx context.Context, texts, keys []string) error {
	if d.enc == nil {
		return d.fallback.Fit(ctx, texts, keys)
	}
	if len(texts) != len(keys) {
		return fmt.Errorf("%w: %d texts, %d keys", ErrLengthMismatch, len(texts), len(keys))
	}
	if len(texts) == 0 {
		return ErrEmptyCorpus
	}

	rows, err := d.encodeAll(ctx, texts)
	if err != nil {
		return err
	}

	dims := len(rows[0])
	for i, row := range rows {
		if len(row) != dims || dims == 0 {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(row), dims)
		}
		rows[i] = normalizeVector(row)
	}

	d.mu.Lock()
	d.matrix = &Matrix{Kind: KindDense, Cols: dims, Dense: rows}
	d.keys = slices.Clone(keys)
	d.degraded = false
	d.mu.Unlock()

	slog.Debug("dense_fit_complete",
		slog.Int("rows", len(rows)),
		slog.Int("dimensions", dims),
		slog.String("model", d.enc.ModelName()))
	return nil
}

// encodeAll encodes texts in batches, a few batches at a time.
func (d *Dense) encodeAll(ctx context.Context, texts []string) ([][]float32, error) {
	rows := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for start := 0; start < len(texts); start += d.cfg.BatchSize {
		end := min(start+d.cfg.BatchSize, len(texts))
		g.Go(func() error {
			embeddings, err := d.enc.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("failed to encode chunks %d-%d: %w", start, end-1, err)
			}
			if len(embeddings) != end-start {
				return fmt.Errorf("encoder returned %d embeddings for %d texts", len(embeddings), end-start)
			}
			copy(rows[start:end], embeddings)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Transform implements Backend.
func (d *Dense) Transform(ctx context.Context, query string) (Vector, error) {
	if d.Degraded() {
		return d.fallback.Transform(ctx, query)
	}

	vec, err := d.enc.Embed(ctx, query)
	if err != nil {
		return Vector{}, fmt.Errorf("failed to encode query: %w", err)
	}
	return Vector{Dense: normalizeVector(vec)}, nil
}

// Matrix implements Backend.
func (d *Dense) Matrix() *Matrix {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.degraded {
		return d.fallback.Matrix()
	}
	return d.matrix
}

// Keys implements Backend.
func (d *Dense) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.degraded {
		return d.fallback.Keys()
	}
	return d.keys
}

// Save implements Backend. The matrix is written as an HNSW graph export
// keyed by row number; the key list is written last.
func (d *Dense) Save() error {
	d.mu.RLock()
	degraded, matrix, keys := d.degraded, d.matrix, d.keys
	d.mu.RUnlock()

	if degraded {
		return d.fallback.Save()
	}
	if matrix == nil {
		return ErrUnfitted
	}

	model := denseModel{Model: d.enc.ModelName(), Dims: matrix.Cols, Rows: len(matrix.Dense)}
	if err := writeGob(filepath.Join(d.dir, denseModelFile), model); err != nil {
		return err
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	for i, row := range matrix.Dense {
		graph.Add(hnsw.MakeNode(uint64(i), row))
	}
	if err := writeAtomic(filepath.Join(d.dir, denseVectorsFile), func(w io.Writer) error {
		return graph.Export(w)
	}); err != nil {
		return err
	}

	if err := writeGob(filepath.Join(d.dir, keysFile), keys); err != nil {
		return err
	}

	slog.Info("dense_index_saved",
		slog.String("dir", d.dir),
		slog.String("model", model.Model),
		slog.Int("rows", model.Rows))
	return nil
}

// Load implements Backend. It only reads dense artifacts; see LoadSparse.
func (d *Dense) Load() bool {
	if d.enc == nil {
		return d.fallback.Load()
	}

	paths := []string{
		filepath.Join(d.dir, denseModelFile),
		filepath.Join(d.dir, denseVectorsFile),
		filepath.Join(d.dir, keysFile),
	}
	if missing := firstMissing(paths); missing != "" {
		slog.Debug("dense_index_missing", slog.String("artifact", missing))
		return false
	}

	var model denseModel
	if err := readGob(paths[0], &model); err != nil {
		logCorrupt(KindDense, paths[0], err)
		return false
	}
	if model.Model != d.enc.ModelName() {
		slog.Warn("dense_index_model_mismatch",
			slog.String("persisted", model.Model),
			slog.String("current", d.enc.ModelName()))
		return false
	}

	rows, err := importRows(paths[1], model)
	if err != nil {
		logCorrupt(KindDense, paths[1], err)
		return false
	}

	var keys []string
	if err := readGob(paths[2], &keys); err != nil {
		logCorrupt(KindDense, paths[2], err)
		return false
	}
	if len(keys) != len(rows) {
		logCorrupt(KindDense, d.dir, fmt.Errorf("%d rows but %d keys", len(rows), len(keys)))
		return false
	}

	d.mu.Lock()
	d.matrix = &Matrix{Kind: KindDense, Cols: model.Dims, Dense: rows}
	d.keys = keys
	d.degraded = false
	d.mu.Unlock()

	slog.Info("dense_index_loaded",
		slog.String("dir", d.dir),
		slog.String("model", model.Model),
		slog.Int("rows", len(rows)))
	return true
}

// importRows reads an HNSW export and recovers rows 0..model.Rows-1.
func importRows(path string, model denseModel) ([][]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	// coder/hnsw Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	if graph.Len() != model.Rows {
		return nil, fmt.Errorf("graph holds %d vectors, model.gob records %d", graph.Len(), model.Rows)
	}

	rows := make([][]float32, model.Rows)
	for i := range rows {
		vec, ok := graph.Lookup(uint64(i))
		if !ok {
			return nil, fmt.Errorf("row %d missing from graph", i)
		}
		if len(vec) != model.Dims {
			return nil, fmt.Errorf("row %d has %d dimensions, expected %d", i, len(vec), model.Dims)
		}
		rows[i] = vec
	}
	return rows, nil
}

// LoadSparse restores the held sparse backend's artifacts and, on success,
// serves them in place of dense vectors until the next dense Fit.
func (d *Dense) LoadSparse() bool {
	if !d.fallback.Load() {
		return false
	}

	d.mu.Lock()
	wasDegraded := d.degraded
	d.degraded = true
	d.mu.Unlock()

	if !wasDegraded {
		slog.Warn("dense_backend_degraded",
			slog.String("reason", "no dense artifacts, loaded sparse index"),
			slog.String("serving", string(KindSparse)))
	}
	return true
}

// Close implements Backend.
func (d *Dense) Close() error {
	if d.enc == nil {
		return nil
	}
	return d.enc.Close()
}
