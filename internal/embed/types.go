package embed

import (
	"context"
	"errors"
	"math"
)

// Kind names an embedding strategy. An index store is bound to one Kind for
// its lifetime.
type Kind string

const (
	// KindSparse is the TF-IDF bag-of-terms vectorizer.
	KindSparse Kind = "sparse"
	// KindDense is the pretrained sentence-embedding model.
	KindDense Kind = "dense"
)

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSparse, KindDense:
		return Kind(s), nil
	default:
		return "", errors.New("unknown embedding backend: " + s)
	}
}

var (
	// ErrUnfitted is returned when a backend is used before Fit or Load.
	ErrUnfitted = errors.New("embedding backend is not fitted")
	// ErrEmptyCorpus is returned by Fit when there is nothing to fit.
	ErrEmptyCorpus = errors.New("no texts to fit")
	// ErrLengthMismatch is returned by Fit when texts and keys differ in length.
	ErrLengthMismatch = errors.New("texts and keys differ in length")
	// ErrEmptyVocabulary is returned by the sparse Fit when no term survives.
	ErrEmptyVocabulary = errors.New("no terms remain after vocabulary pruning")
)

// Batch size bounds for dense encoding.
const (
	DefaultBatchSize = 32
	MaxBatchSize     = 256
)

// SparseVector holds the non-zero entries of a row, Indices ascending.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// Vector is a query or document vector. Exactly one side is populated,
// matching the Kind that produced it.
type Vector struct {
	Dense  []float32
	Sparse *SparseVector
}

// IsSparse reports whether v came from the sparse backend.
func (v Vector) IsSparse() bool {
	return v.Sparse != nil
}

// Matrix is the fitted document-vector matrix. Row i belongs to key i of
// the backend's key list.
type Matrix struct {
	Kind   Kind
	Cols   int
	Dense  [][]float32
	Sparse []SparseVector
}

// Rows returns the number of indexed vectors.
func (m *Matrix) Rows() int {
	if m == nil {
		return 0
	}
	if m.Kind == KindSparse {
		return len(m.Sparse)
	}
	return len(m.Dense)
}

// Backend turns chunk texts and queries into comparable vectors and
// persists its fitted state under its own artifact namespace.
type Backend interface {
	// Kind is the strategy this backend is bound to.
	Kind() Kind

	// Degraded reports whether a dense backend is being served by its
	// internal sparse fallback.
	Degraded() bool

	// Fit replaces the fitted state with vectors for texts. keys[i] is the
	// encoded chunk key of texts[i]. On error the previous state is kept.
	Fit(ctx context.Context, texts, keys []string) error

	// Transform maps a query into the fitted vector space.
	Transform(ctx context.Context, query string) (Vector, error)

	// Save writes the fitted state, the matrix and the key list.
	Save() error

	// Load restores persisted state. It returns false when any artifact is
	// missing or unreadable and leaves the current state untouched.
	Load() bool

	// Matrix returns the fitted matrix, nil when unfitted.
	Matrix() *Matrix

	// Keys returns the key list aligned with Matrix rows.
	Keys() []string

	// Close releases resources held by the backend.
	Close() error
}

// Encoder produces dense sentence embeddings.
type Encoder interface {
	// Embed encodes a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch encodes texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier persisted with dense artifacts.
	ModelName() string

	Close() error
}

// normalizeVector returns v scaled to unit length. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// normalizeSparse scales values in place to unit length.
func normalizeSparse(values []float64) {
	var sumSquares float64
	for _, v := range values {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return
	}
	norm := math.Sqrt(sumSquares)
	for i := range values {
		values[i] /= norm
	}
}
