package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("dense")
	require.NoError(t, err)
	assert.Equal(t, KindDense, k)

	_, err = ParseKind("hybrid")
	assert.Error(t, err)
}

func TestNewBackend_Sparse(t *testing.T) {
	b, err := NewBackend(context.Background(), BackendConfig{Kind: KindSparse, Root: t.TempDir()})

	require.NoError(t, err)
	assert.Equal(t, KindSparse, b.Kind())
	assert.False(t, b.Degraded())
}

func TestNewBackend_DenseWithoutServer_IsDegraded(t *testing.T) {
	// Given: an Ollama host that is not listening
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.URL
	srv.Close()

	ollama := DefaultOllamaConfig()
	ollama.Host = host
	ollama.ConnectTimeout = time.Second

	// When: building a dense backend
	b, err := NewBackend(context.Background(), BackendConfig{
		Kind:   KindDense,
		Root:   t.TempDir(),
		Ollama: ollama,
	})

	// Then: construction succeeds, degraded to sparse
	require.NoError(t, err)
	assert.Equal(t, KindDense, b.Kind())
	assert.True(t, b.Degraded())

	require.NoError(t, b.Fit(context.Background(), capitals, capitalKey))
	assert.Equal(t, KindSparse, b.Matrix().Kind)
}

func TestNewBackend_DenseWithServer_CachesEncoder(t *testing.T) {
	f := &fakeOllama{models: []string{"paraphrase-multilingual"}}
	srv := newTestOllama(t, f)

	ollama := testOllamaConfig(srv.URL)
	b, err := NewBackend(context.Background(), BackendConfig{
		Kind:      KindDense,
		Root:      t.TempDir(),
		Ollama:    ollama,
		CacheSize: 8,
	})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	d, ok := b.(*Dense)
	require.True(t, ok)
	assert.False(t, d.Degraded())
	assert.Equal(t, "paraphrase-multilingual", d.ModelName())
	_, cached := d.enc.(*CachedEncoder)
	assert.True(t, cached)
}

func TestNewBackend_UnknownKind(t *testing.T) {
	_, err := NewBackend(context.Background(), BackendConfig{Kind: "hybrid"})

	assert.Error(t, err)
}
