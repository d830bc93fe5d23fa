package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
)

// fakeEncoder hashes words into a small vector space. Texts sharing words
// get similar vectors, which is enough to exercise ranking.
type fakeEncoder struct {
	model      string
	dims       int
	failBatch  atomic.Bool
	batchCalls atomic.Int32
	embedCalls atomic.Int32
	closed     atomic.Bool
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{model: "fake-multilingual", dims: 64}
}

func (f *fakeEncoder) vector(text string) []float32 {
	vec := make([]float32, f.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(f.dims)] += 1
	}
	return vec
}

func (f *fakeEncoder) Embed(_ context.Context, text string) ([]float32, error) {
	f.embedCalls.Add(1)
	return f.vector(text), nil
}

func (f *fakeEncoder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batchCalls.Add(1)
	if f.failBatch.Load() {
		return nil, errors.New("encoder exploded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEncoder) Dimensions() int   { return f.dims }
func (f *fakeEncoder) ModelName() string { return f.model }
func (f *fakeEncoder) Close() error {
	f.closed.Store(true)
	return nil
}

// dot is the cosine of two unit vectors.
func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// sparseDot is the cosine of two unit sparse vectors.
func sparseDot(a, b SparseVector) float64 {
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

var (
	parisText  = "Paris is the capital of France."
	berlinText = "Berlin is the capital of Germany."
	capitals   = []string{parisText, berlinText}
	capitalKey = []string{"1:A_0", "1:B_0"}
)
