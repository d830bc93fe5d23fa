package index

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"

	"github.com/Aman-CERP/docrag/internal/chunk"
	"github.com/Aman-CERP/docrag/internal/embed"
)

// stubBackend serves a fixed matrix and query vector so tests control
// scores exactly.
type stubBackend struct {
	matrix       *embed.Matrix
	keys         []string
	query        embed.Vector
	transformErr error
}

var _ embed.Backend = (*stubBackend)(nil)

func (b *stubBackend) Kind() embed.Kind {
	if b.matrix == nil {
		return embed.KindDense
	}
	return b.matrix.Kind
}
func (b *stubBackend) Degraded() bool { return false }
func (b *stubBackend) Fit(context.Context, []string, []string) error {
	return errors.New("stub cannot fit")
}
func (b *stubBackend) Transform(context.Context, string) (embed.Vector, error) {
	return b.query, b.transformErr
}
func (b *stubBackend) Save() error           { return nil }
func (b *stubBackend) Load() bool            { return false }
func (b *stubBackend) Matrix() *embed.Matrix { return b.matrix }
func (b *stubBackend) Keys() []string        { return b.keys }
func (b *stubBackend) Close() error          { return nil }

// denseStub builds a 2-d stub whose query is [1, 0].
func denseStub(keys []string, rows ...[]float32) *stubBackend {
	return &stubBackend{
		matrix: &embed.Matrix{Kind: embed.KindDense, Cols: 2, Dense: rows},
		keys:   keys,
		query:  embed.Vector{Dense: []float32{1, 0}},
	}
}

// memSource is an in-memory ChunkSource.
type memSource struct {
	chunks []chunk.Chunk
	err    error
}

func (m *memSource) AllChunks(context.Context) ([]chunk.Chunk, error) {
	return m.chunks, m.err
}

func mkChunk(docID string, chunkID int, text string) chunk.Chunk {
	return chunk.Chunk{
		Text: text,
		Metadata: chunk.Metadata{
			DocID:    docID,
			Filename: docID + ".txt",
			ChunkID:  chunkID,
		},
	}
}

func key(docID string, chunkID int) string {
	return chunk.Key{DocID: docID, ChunkID: chunkID}.String()
}

// wordEncoder hashes words into 64 buckets.
type wordEncoder struct{}

func (wordEncoder) vector(text string) []float32 {
	vec := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,")))
		vec[h.Sum32()%64]++
	}
	return vec
}

func (e wordEncoder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e wordEncoder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (wordEncoder) Dimensions() int   { return 64 }
func (wordEncoder) ModelName() string { return "word-hash" }
func (wordEncoder) Close() error      { return nil }
