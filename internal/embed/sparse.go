package embed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"sync"
)

// SparseConfig bounds the TF-IDF vocabulary.
type SparseConfig struct {
	// MaxDF drops terms found in more than this fraction of chunks.
	MaxDF float64
	// MinDF drops terms found in fewer than this many chunks.
	MinDF int
	// MaxFeatures keeps only the most frequent terms across the corpus.
	MaxFeatures int
	// NgramMax is the longest word n-gram indexed (1 = unigrams only).
	NgramMax int
}

// DefaultSparseConfig returns the TF-IDF defaults.
func DefaultSparseConfig() SparseConfig {
	return SparseConfig{
		MaxDF:       0.85,
		MinDF:       2,
		MaxFeatures: 10000,
		NgramMax:    2,
	}
}

// vectorizer is the fitted TF-IDF state persisted as vectorizer.gob.
type vectorizer struct {
	Vocabulary map[string]int
	IDF        []float64
	NgramMax   int
}

// sparseVectors is the persisted form of the sparse matrix.
type sparseVectors struct {
	Cols int
	Rows []SparseVector
}

// Sparse is the TF-IDF backend. Rows are L2-normalised raw term counts
// weighted by smoothed idf, ln((1+n)/(1+df)) + 1.
type Sparse struct {
	dir string
	cfg SparseConfig

	mu     sync.RWMutex
	vec    *vectorizer
	matrix *Matrix
	keys   []string
}

var _ Backend = (*Sparse)(nil)

// NewSparse creates an unfitted sparse backend whose artifacts live in
// root/sparse.
func NewSparse(root string, cfg SparseConfig) *Sparse {
	def := DefaultSparseConfig()
	if cfg.MaxDF <= 0 || cfg.MaxDF > 1 {
		cfg.MaxDF = def.MaxDF
	}
	if cfg.MinDF < 1 {
		cfg.MinDF = def.MinDF
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = def.MaxFeatures
	}
	if cfg.NgramMax < 1 {
		cfg.NgramMax = def.NgramMax
	}
	return &Sparse{
		dir: filepath.Join(root, string(KindSparse)),
		cfg: cfg,
	}
}

// Kind implements Backend.
func (s *Sparse) Kind() Kind { return KindSparse }

// Degraded implements Backend. A sparse backend is never degraded.
func (s *Sparse) Degraded() bool { return false }

// Dir returns the artifact directory.
func (s *Sparse) Dir() string { return s.dir }

// Fit implements Backend.
func (s *Sparse) Fit(ctx context.Context, texts, keys []string) error {
	if len(texts) != len(keys) {
		return fmt.Errorf("%w: %d texts, %d keys", ErrLengthMismatch, len(texts), len(keys))
	}
	if len(texts) == 0 {
		return ErrEmptyCorpus
	}

	docs := make([]map[string]int, len(texts))
	df := make(map[string]int)
	total := make(map[string]int)
	for i, text := range texts {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		counts := termCounts(text, s.cfg.NgramMax)
		docs[i] = counts
		for term, n := range counts {
			df[term]++
			total[term] += n
		}
	}

	terms := s.selectVocabulary(df, total, len(texts))
	if len(terms) == 0 {
		return ErrEmptyVocabulary
	}

	vocab := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(texts))
	for col, term := range terms {
		vocab[term] = col
		idf[col] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	vec := &vectorizer{Vocabulary: vocab, IDF: idf, NgramMax: s.cfg.NgramMax}

	rows := make([]SparseVector, len(docs))
	for i, counts := range docs {
		rows[i] = vec.weigh(counts)
	}

	s.mu.Lock()
	s.vec = vec
	s.matrix = &Matrix{Kind: KindSparse, Cols: len(terms), Sparse: rows}
	s.keys = slices.Clone(keys)
	s.mu.Unlock()

	slog.Debug("sparse_fit_complete",
		slog.Int("rows", len(rows)),
		slog.Int("vocabulary", len(terms)))
	return nil
}

// selectVocabulary applies the document-frequency bounds and max_features,
// returning surviving terms in column order (sorted).
//
// When the bounds cannot be met for a corpus this small (max_df*n below
// min_df) or they prune every term, they relax to min_df=1, max_df=1.0.
func (s *Sparse) selectVocabulary(df, total map[string]int, n int) []string {
	minDocs := s.cfg.MinDF
	maxDocs := s.cfg.MaxDF * float64(n)

	var terms []string
	if maxDocs >= float64(minDocs) {
		for term, d := range df {
			if d >= minDocs && float64(d) <= maxDocs {
				terms = append(terms, term)
			}
		}
	}
	if len(terms) == 0 {
		slog.Debug("sparse_df_bounds_relaxed",
			slog.Int("documents", n),
			slog.Int("min_df", s.cfg.MinDF),
			slog.Float64("max_df", s.cfg.MaxDF))
		terms = make([]string, 0, len(df))
		for term := range df {
			terms = append(terms, term)
		}
	}

	if len(terms) > s.cfg.MaxFeatures {
		slices.SortFunc(terms, func(a, b string) int {
			if c := cmp.Compare(total[b], total[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		terms = terms[:s.cfg.MaxFeatures]
	}

	slices.Sort(terms)
	return terms
}

// weigh turns raw counts into a normalised tf-idf row over the vocabulary.
// Out-of-vocabulary terms are ignored.
func (v *vectorizer) weigh(counts map[string]int) SparseVector {
	type entry struct {
		col int
		val float64
	}
	entries := make([]entry, 0, len(counts))
	for term, n := range counts {
		if col, ok := v.Vocabulary[term]; ok {
			entries = append(entries, entry{col: col, val: float64(n) * v.IDF[col]})
		}
	}
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.col, b.col) })

	row := SparseVector{
		Indices: make([]int, len(entries)),
		Values:  make([]float64, len(entries)),
	}
	for i, e := range entries {
		row.Indices[i] = e.col
		row.Values[i] = e.val
	}
	normalizeSparse(row.Values)
	return row
}

// Transform implements Backend.
func (s *Sparse) Transform(ctx context.Context, query string) (Vector, error) {
	s.mu.RLock()
	vec := s.vec
	s.mu.RUnlock()

	if vec == nil {
		return Vector{}, ErrUnfitted
	}
	if err := ctx.Err(); err != nil {
		return Vector{}, err
	}

	row := vec.weigh(termCounts(query, vec.NgramMax))
	return Vector{Sparse: &row}, nil
}

// Matrix implements Backend.
func (s *Sparse) Matrix() *Matrix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matrix
}

// Keys implements Backend.
func (s *Sparse) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys
}

// VocabularySize returns the number of fitted columns.
func (s *Sparse) VocabularySize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.vec == nil {
		return 0
	}
	return len(s.vec.IDF)
}

// Save implements Backend. The key list is written last.
func (s *Sparse) Save() error {
	s.mu.RLock()
	vec, matrix, keys := s.vec, s.matrix, s.keys
	s.mu.RUnlock()

	if vec == nil || matrix == nil {
		return ErrUnfitted
	}

	if err := writeGob(filepath.Join(s.dir, vectorizerFile), vec); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(s.dir, sparseVectorsFile), sparseVectors{Cols: matrix.Cols, Rows: matrix.Sparse}); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(s.dir, keysFile), keys); err != nil {
		return err
	}

	slog.Info("sparse_index_saved",
		slog.String("dir", s.dir),
		slog.Int("rows", len(keys)))
	return nil
}

// Load implements Backend.
func (s *Sparse) Load() bool {
	paths := []string{
		filepath.Join(s.dir, vectorizerFile),
		filepath.Join(s.dir, sparseVectorsFile),
		filepath.Join(s.dir, keysFile),
	}
	if missing := firstMissing(paths); missing != "" {
		slog.Debug("sparse_index_missing", slog.String("artifact", missing))
		return false
	}

	var (
		vec  vectorizer
		rows sparseVectors
		keys []string
	)
	if err := readGob(paths[0], &vec); err != nil {
		logCorrupt(KindSparse, paths[0], err)
		return false
	}
	if err := readGob(paths[1], &rows); err != nil {
		logCorrupt(KindSparse, paths[1], err)
		return false
	}
	if err := readGob(paths[2], &keys); err != nil {
		logCorrupt(KindSparse, paths[2], err)
		return false
	}

	if len(rows.Rows) != len(keys) {
		logCorrupt(KindSparse, s.dir, fmt.Errorf("%d rows but %d keys", len(rows.Rows), len(keys)))
		return false
	}
	if len(vec.Vocabulary) != len(vec.IDF) || rows.Cols != len(vec.IDF) {
		logCorrupt(KindSparse, s.dir, fmt.Errorf("vocabulary of %d terms, %d idf weights, %d columns",
			len(vec.Vocabulary), len(vec.IDF), rows.Cols))
		return false
	}
	if err := checkSparseColumns(&vec, rows); err != nil {
		logCorrupt(KindSparse, s.dir, err)
		return false
	}

	s.mu.Lock()
	s.vec = &vec
	s.matrix = &Matrix{Kind: KindSparse, Cols: rows.Cols, Sparse: rows.Rows}
	s.keys = keys
	s.mu.Unlock()

	slog.Info("sparse_index_loaded",
		slog.String("dir", s.dir),
		slog.Int("rows", len(keys)))
	return true
}

// checkSparseColumns rejects vocabulary columns outside the idf table and
// row entries outside the matrix width.
func checkSparseColumns(vec *vectorizer, rows sparseVectors) error {
	for term, col := range vec.Vocabulary {
		if col < 0 || col >= len(vec.IDF) {
			return fmt.Errorf("term %q maps to column %d of %d", term, col, len(vec.IDF))
		}
	}
	for i, row := range rows.Rows {
		if len(row.Indices) != len(row.Values) {
			return fmt.Errorf("row %d has %d indices and %d values", i, len(row.Indices), len(row.Values))
		}
		for _, col := range row.Indices {
			if col < 0 || col >= rows.Cols {
				return fmt.Errorf("row %d references column %d of %d", i, col, rows.Cols)
			}
		}
	}
	return nil
}

// Close implements Backend.
func (s *Sparse) Close() error { return nil }
