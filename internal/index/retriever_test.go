package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docrag/internal/chunk"
	"github.com/Aman-CERP/docrag/internal/embed"
)

var threeDocs = []chunk.Chunk{
	mkChunk("A", 0, "alpha"),
	mkChunk("B", 0, "bravo"),
	mkChunk("C", 0, "charlie"),
}

// =============================================================================
// Ranking
// =============================================================================

func TestRetriever_RanksByScoreDescending(t *testing.T) {
	// Given: rows with cosine 0.6, 1.0 and 0.0 against the query
	b := denseStub([]string{key("A", 0), key("B", 0), key("C", 0)},
		[]float32{0.6, 0.8}, []float32{1, 0}, []float32{0, 1})
	r := NewRetriever(b)

	// When: searching with the default threshold
	results := r.Search(context.Background(), "q", threeDocs, 3, DefaultThreshold)

	// Then: all three clear -0.1 and come back best first
	require.Len(t, results, 3)
	assert.Equal(t, "B", results[0].Metadata.DocID)
	assert.Equal(t, "A", results[1].Metadata.DocID)
	assert.Equal(t, "C", results[2].Metadata.DocID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.6, results[1].Score, 1e-6)
	assert.InDelta(t, 0.0, results[2].Score, 1e-6)
}

func TestRetriever_TruncatesToTopK(t *testing.T) {
	b := denseStub([]string{key("A", 0), key("B", 0), key("C", 0)},
		[]float32{0.6, 0.8}, []float32{1, 0}, []float32{0, 1})

	results := NewRetriever(b).Search(context.Background(), "q", threeDocs, 1, DefaultThreshold)

	require.Len(t, results, 1)
	assert.Equal(t, "B", results[0].Metadata.DocID)
}

func TestRetriever_TiesBreakByKey(t *testing.T) {
	// Given: identical rows stored in reverse key order
	b := denseStub([]string{key("C", 0), key("A", 0), key("B", 0)},
		[]float32{1, 0}, []float32{1, 0}, []float32{1, 0})

	// When: searching
	results := NewRetriever(b).Search(context.Background(), "q", threeDocs, 3, DefaultThreshold)

	// Then: equal scores are ordered by ascending key, not by row
	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].Metadata.DocID)
	assert.Equal(t, "B", results[1].Metadata.DocID)
	assert.Equal(t, "C", results[2].Metadata.DocID)
}

func TestCompareCandidates_SameKeyFallsBackToRow(t *testing.T) {
	a := newCandidate(4, "1:A_0", 0.5)
	b := newCandidate(1, "1:A_0", 0.5)

	assert.Positive(t, compareCandidates(a, b))
	assert.Negative(t, compareCandidates(b, a))
}

func TestCompareCandidates_OrdersByParsedKey(t *testing.T) {
	tests := []struct {
		name          string
		first, second string
	}{
		{"chunk ids numerically", key("A", 2), key("A", 10)},
		{"doc ids regardless of length prefix", key("AB", 0), key("B", 0)},
		{"long doc id after short prefix", key("A", 0), key("ABCDEFGHIJ", 0)},
		{"well-formed before malformed", key("Z", 9), "docid-withdash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: two candidates with equal scores
			first := newCandidate(1, tt.first, 0.5)
			second := newCandidate(0, tt.second, 0.5)

			// Then: the parsed key decides, not the row or the encoded text
			assert.Negative(t, compareCandidates(first, second))
			assert.Positive(t, compareCandidates(second, first))
		})
	}
}

func TestRetriever_TiesBreakByChunkIDNumerically(t *testing.T) {
	// Given: equal rows for chunks 10 and 2 of one document
	chunks := []chunk.Chunk{mkChunk("A", 2, "two"), mkChunk("A", 10, "ten")}
	b := denseStub([]string{key("A", 10), key("A", 2)}, []float32{1, 0}, []float32{1, 0})

	// When: searching
	results := NewRetriever(b).Search(context.Background(), "q", chunks, 2, DefaultThreshold)

	// Then: chunk 2 ranks before chunk 10
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Metadata.ChunkID)
	assert.Equal(t, 10, results[1].Metadata.ChunkID)
}

// =============================================================================
// Threshold cascade
// =============================================================================

func TestRetriever_LowerThresholdWhenNothingClearsFirst(t *testing.T) {
	// Given: scores of -1.0, -0.6 and about -0.41
	b := denseStub([]string{key("A", 0), key("B", 0), key("C", 0)},
		[]float32{-1, 0}, []float32{-0.6, 0.8}, []float32{-0.4, 0.9})

	// When: nothing reaches -0.1
	results := NewRetriever(b).Search(context.Background(), "q", threeDocs, 3, DefaultThreshold)

	// Then: the -0.5 cut keeps only C
	require.Len(t, results, 1)
	assert.Equal(t, "C", results[0].Metadata.DocID)
	assert.Less(t, results[0].Score, DefaultThreshold)
}

func TestRetriever_ForcesTopKWhenNothingClearsLowerThreshold(t *testing.T) {
	// Given: every score below -0.5
	b := denseStub([]string{key("A", 0), key("B", 0), key("C", 0)},
		[]float32{-1, 0}, []float32{-0.9, 0.1}, []float32{-0.8, 0.2})

	// When: searching for two results
	results := NewRetriever(b).Search(context.Background(), "q", threeDocs, 2, DefaultThreshold)

	// Then: the two best are returned anyway
	require.Len(t, results, 2)
	assert.Equal(t, "C", results[0].Metadata.DocID)
	assert.Equal(t, "B", results[1].Metadata.DocID)
	assert.Less(t, results[0].Score, DefaultLowerThreshold)
}

func TestRetriever_ConfigurableLowerThreshold(t *testing.T) {
	b := denseStub([]string{key("A", 0), key("B", 0), key("C", 0)},
		[]float32{-1, 0}, []float32{-0.9, 0.1}, []float32{-0.8, 0.2})

	results := NewRetriever(b, WithLowerThreshold(-0.98)).
		Search(context.Background(), "q", threeDocs, 3, DefaultThreshold)

	require.Len(t, results, 1)
	assert.Equal(t, "C", results[0].Metadata.DocID)
}

func TestRetriever_ThresholdIsInclusive(t *testing.T) {
	b := denseStub([]string{key("A", 0), key("B", 0)}, []float32{0, 1}, []float32{-1, 0})

	results := NewRetriever(b).Search(context.Background(), "q", threeDocs, 3, 0)

	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Metadata.DocID)
}

// =============================================================================
// Key parsing and chunk resolution
// =============================================================================

func TestRetriever_SkipsMalformedKeys(t *testing.T) {
	// Given: a row whose key does not decode
	b := denseStub([]string{"docid-withdash", key("A", 0)}, []float32{1, 0}, []float32{0.5, 0.5})

	// When: both rows are selected
	results := NewRetriever(b).Search(context.Background(), "q", threeDocs, 2, DefaultThreshold)

	// Then: the malformed row is skipped, not fatal
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Metadata.DocID)
}

func TestRetriever_FallsBackToFirstChunkOfDocument(t *testing.T) {
	// Given: the index refers to chunk 5 of doc A, which no longer exists
	b := denseStub([]string{key("A", 5)}, []float32{1, 0})
	live := []chunk.Chunk{mkChunk("A", 0, "first"), mkChunk("A", 1, "second")}

	// When: searching
	results := NewRetriever(b).Search(context.Background(), "q", live, 1, DefaultThreshold)

	// Then: the first chunk of A is returned and flagged
	require.Len(t, results, 1)
	assert.True(t, results[0].Degraded)
	assert.Equal(t, 0, results[0].Metadata.ChunkID)
	assert.Equal(t, "first", results[0].Text)
}

func TestRetriever_ExactMatchIsNotDegraded(t *testing.T) {
	b := denseStub([]string{key("A", 1)}, []float32{1, 0})
	live := []chunk.Chunk{mkChunk("A", 0, "first"), mkChunk("A", 1, "second")}

	results := NewRetriever(b).Search(context.Background(), "q", live, 1, DefaultThreshold)

	require.Len(t, results, 1)
	assert.False(t, results[0].Degraded)
	assert.Equal(t, "second", results[0].Text)
}

func TestRetriever_DropsRowsForUnknownDocuments(t *testing.T) {
	b := denseStub([]string{key("Z", 0), key("A", 0)}, []float32{1, 0}, []float32{0.5, 0.5})

	results := NewRetriever(b).Search(context.Background(), "q", threeDocs, 2, DefaultThreshold)

	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Metadata.DocID)
}

func TestRetriever_DocIDWithUnderscoreResolves(t *testing.T) {
	b := denseStub([]string{key("report_2024_q1", 3)}, []float32{1, 0})
	live := []chunk.Chunk{mkChunk("report_2024_q1", 3, "numbers")}

	results := NewRetriever(b).Search(context.Background(), "q", live, 1, DefaultThreshold)

	require.Len(t, results, 1)
	assert.False(t, results[0].Degraded)
	assert.Equal(t, 3, results[0].Metadata.ChunkID)
}

func TestRetriever_NormalizesLegacyContent(t *testing.T) {
	b := denseStub([]string{key("A", 0)}, []float32{1, 0})
	legacy := chunk.Chunk{Content: "legacy text", Metadata: chunk.Metadata{DocID: "A"}}

	results := NewRetriever(b).Search(context.Background(), "q", []chunk.Chunk{legacy}, 1, DefaultThreshold)

	require.Len(t, results, 1)
	assert.Equal(t, "legacy text", results[0].Text)
}

// =============================================================================
// Failure paths yield empty results
// =============================================================================

func TestRetriever_EmptyIndex(t *testing.T) {
	tests := []struct {
		name    string
		backend *stubBackend
	}{
		{"no matrix", &stubBackend{keys: []string{key("A", 0)}}},
		{"no keys", denseStub(nil, []float32{1, 0})},
		{"unfitted sparse", &stubBackend{matrix: &embed.Matrix{Kind: embed.KindSparse}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := NewRetriever(tt.backend).Search(context.Background(), "q", threeDocs, 3, DefaultThreshold)
			assert.Empty(t, results)
		})
	}
}

func TestRetriever_TransformFailure(t *testing.T) {
	b := denseStub([]string{key("A", 0)}, []float32{1, 0})
	b.transformErr = errors.New("encoder down")

	assert.Empty(t, NewRetriever(b).Search(context.Background(), "q", threeDocs, 3, DefaultThreshold))
}

func TestRetriever_KindMismatch(t *testing.T) {
	b := denseStub([]string{key("A", 0)}, []float32{1, 0})
	b.query = embed.Vector{Sparse: &embed.SparseVector{Indices: []int{0}, Values: []float64{1}}}

	assert.Empty(t, NewRetriever(b).Search(context.Background(), "q", threeDocs, 3, DefaultThreshold))
}

func TestRetriever_NonPositiveTopK(t *testing.T) {
	b := denseStub([]string{key("A", 0)}, []float32{1, 0})

	assert.Empty(t, NewRetriever(b).Search(context.Background(), "q", threeDocs, 0, DefaultThreshold))
}

func TestCosineScores_Sparse(t *testing.T) {
	m := &embed.Matrix{Kind: embed.KindSparse, Cols: 3, Sparse: []embed.SparseVector{
		{Indices: []int{0, 2}, Values: []float64{3, 4}},
		{Indices: []int{1}, Values: []float64{2}},
		{},
	}}
	q := embed.Vector{Sparse: &embed.SparseVector{Indices: []int{2}, Values: []float64{1}}}

	scores, err := cosineScores(q, m)

	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8, 0, 0}, scores, 1e-9)
}
