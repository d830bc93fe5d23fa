package index

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/Aman-CERP/docrag/internal/chunk"
	"github.com/Aman-CERP/docrag/internal/embed"
)

// Search defaults.
const (
	DefaultTopK = 3

	// DefaultThreshold is the first similarity cut. Negative so that weakly
	// related chunks still pass.
	DefaultThreshold = -0.1

	// DefaultLowerThreshold is tried when nothing clears the threshold.
	DefaultLowerThreshold = -0.5
)

// Result is a retrieved chunk with its similarity score.
type Result struct {
	chunk.Chunk

	Score float64 `json:"score"`

	// Degraded is set when the exact (doc_id, chunk_id) was not found among
	// the live chunks and the first chunk of the same document was returned
	// instead.
	Degraded bool `json:"degraded,omitempty"`
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithLowerThreshold sets the second-chance threshold.
func WithLowerThreshold(v float64) RetrieverOption {
	return func(r *Retriever) {
		r.lowerThreshold = v
	}
}

// Retriever scores a query against a backend's fitted matrix and resolves
// the winning rows to live chunks.
type Retriever struct {
	backend        embed.Backend
	lowerThreshold float64
}

// NewRetriever creates a retriever over backend.
func NewRetriever(backend embed.Backend, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		backend:        backend,
		lowerThreshold: DefaultLowerThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// candidate is one scored matrix row.
type candidate struct {
	row    int
	key    string
	score  float64
	parsed chunk.Key
	err    error // non-nil when key is malformed
}

func newCandidate(row int, key string, score float64) candidate {
	parsed, err := chunk.ParseKey(key)
	return candidate{row: row, key: key, score: score, parsed: parsed, err: err}
}

// Search returns up to topK chunks most similar to query.
//
// Rows scoring at least threshold are kept. If none do, the lower threshold
// is tried, and if still none do, the topK best rows are taken regardless
// of score. Every failure along the way yields fewer results, never an
// error.
func (r *Retriever) Search(ctx context.Context, query string, chunks []chunk.Chunk, topK int, threshold float64) []Result {
	if topK <= 0 {
		return nil
	}

	live := make([]chunk.Chunk, len(chunks))
	for i, c := range chunks {
		live[i] = c.Normalize()
	}

	matrix := r.backend.Matrix()
	keys := r.backend.Keys()
	if matrix.Rows() == 0 || len(keys) == 0 {
		slog.Warn("retriever_index_empty",
			slog.String("backend", string(r.backend.Kind())))
		return nil
	}

	qv, err := r.backend.Transform(ctx, query)
	if err != nil {
		slog.Error("retriever_query_transform_failed",
			slog.String("error", err.Error()))
		return nil
	}

	scores, err := cosineScores(qv, matrix)
	if err != nil {
		slog.Error("retriever_similarity_failed",
			slog.String("error", err.Error()))
		return nil
	}

	rows := min(len(scores), len(keys))
	if rows != len(scores) || rows != len(keys) {
		slog.Warn("retriever_rows_keys_mismatch",
			slog.Int("rows", len(scores)),
			slog.Int("keys", len(keys)))
	}

	all := make([]candidate, rows)
	for i := range rows {
		all[i] = newCandidate(i, keys[i], scores[i])
	}
	slices.SortStableFunc(all, compareCandidates)

	selected := r.selectCandidates(all, topK, threshold)

	results := make([]Result, 0, len(selected))
	for _, c := range selected {
		if c.err != nil {
			slog.Warn("retriever_malformed_key",
				slog.String("key", c.key),
				slog.Int("row", c.row))
			continue
		}
		key := c.parsed

		match, degraded, ok := resolve(live, key)
		if !ok {
			slog.Warn("retriever_chunk_not_found",
				slog.String("doc_id", key.DocID),
				slog.Int("chunk_id", key.ChunkID))
			continue
		}
		if degraded {
			slog.Warn("retriever_fallback_match",
				slog.String("doc_id", key.DocID),
				slog.Int("wanted_chunk_id", key.ChunkID),
				slog.Int("used_chunk_id", match.Metadata.ChunkID))
		}

		results = append(results, Result{Chunk: match, Score: c.score, Degraded: degraded})
	}

	slog.Debug("retriever_search_complete",
		slog.Int("candidates", rows),
		slog.Int("selected", len(selected)),
		slog.Int("results", len(results)))
	return results
}

// selectCandidates applies the threshold cascade to candidates already in
// rank order and truncates to topK.
func (r *Retriever) selectCandidates(ranked []candidate, topK int, threshold float64) []candidate {
	kept := aboveThreshold(ranked, threshold)
	if len(kept) == 0 {
		slog.Warn("retriever_threshold_lowered",
			slog.Float64("threshold", threshold),
			slog.Float64("lower_threshold", r.lowerThreshold))
		kept = aboveThreshold(ranked, r.lowerThreshold)
	}
	if len(kept) == 0 {
		slog.Warn("retriever_threshold_ignored", slog.Int("top_k", topK))
		kept = ranked
	}
	return kept[:min(topK, len(kept))]
}

func aboveThreshold(ranked []candidate, threshold float64) []candidate {
	var kept []candidate
	for _, c := range ranked {
		if c.score >= threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

// compareCandidates orders by score descending, then (doc_id, chunk_id)
// ascending, then row ascending. Malformed keys sort after well-formed
// ones, by their raw text.
func compareCandidates(a, b candidate) int {
	if a.score != b.score {
		return cmp.Compare(b.score, a.score)
	}
	switch {
	case a.err == nil && b.err == nil:
		if c := cmp.Compare(a.parsed.DocID, b.parsed.DocID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.parsed.ChunkID, b.parsed.ChunkID); c != 0 {
			return c
		}
	case a.err == nil:
		return -1
	case b.err == nil:
		return 1
	default:
		if c := cmp.Compare(a.key, b.key); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.row, b.row)
}

// resolve finds the live chunk for key: the exact match, else the first
// chunk of the same document (degraded).
func resolve(live []chunk.Chunk, key chunk.Key) (chunk.Chunk, bool, bool) {
	for _, c := range live {
		if c.Key() == key {
			return c, false, true
		}
	}
	for _, c := range live {
		if c.Metadata.DocID == key.DocID {
			return c, true, true
		}
	}
	return chunk.Chunk{}, false, false
}

// cosineScores returns the cosine similarity of q with each row of m.
// Zero-norm vectors score 0.
func cosineScores(q embed.Vector, m *embed.Matrix) ([]float64, error) {
	switch m.Kind {
	case embed.KindSparse:
		if !q.IsSparse() {
			return nil, fmt.Errorf("dense query against a sparse matrix")
		}
		qn := norm64(q.Sparse.Values)
		scores := make([]float64, len(m.Sparse))
		for i, row := range m.Sparse {
			scores[i] = safeDiv(sparseDot(*q.Sparse, row), qn*norm64(row.Values))
		}
		return scores, nil

	case embed.KindDense:
		if q.IsSparse() {
			return nil, fmt.Errorf("sparse query against a dense matrix")
		}
		if len(q.Dense) != m.Cols {
			return nil, fmt.Errorf("query has %d dimensions, index has %d", len(q.Dense), m.Cols)
		}
		qn := norm32(q.Dense)
		scores := make([]float64, len(m.Dense))
		for i, row := range m.Dense {
			var dot float64
			for j := range row {
				dot += float64(q.Dense[j]) * float64(row[j])
			}
			scores[i] = safeDiv(dot, qn*norm32(row))
		}
		return scores, nil

	default:
		return nil, fmt.Errorf("unknown matrix kind %q", m.Kind)
	}
}

// sparseDot merges two index-sorted sparse vectors.
func sparseDot(a, b embed.SparseVector) float64 {
	var s float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			s += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return s
}

func norm64(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func norm32(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
