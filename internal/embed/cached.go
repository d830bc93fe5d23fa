package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of cached embeddings.
const DefaultEmbeddingCacheSize = 1000

// CachedEncoder wraps an Encoder with an LRU cache so repeated queries and
// unchanged chunk texts are not re-encoded.
type CachedEncoder struct {
	inner Encoder
	cache *lru.Cache[string, []float32]
}

var _ Encoder = (*CachedEncoder)(nil)

// NewCachedEncoder wraps inner with a cache of cacheSize entries.
func NewCachedEncoder(inner Encoder, cacheSize int) *CachedEncoder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEncoder{
		inner: inner,
		cache: cache,
	}
}

// cacheKey hashes text with the model name so a model switch never serves
// stale vectors.
func (c *CachedEncoder) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(hash[:])
}

// Embed implements Encoder.
func (c *CachedEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch implements Encoder. Only cache misses reach the inner encoder.
func (c *CachedEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(texts[idx]), fresh[j])
	}
	return results, nil
}

// Len returns the number of cached embeddings.
func (c *CachedEncoder) Len() int { return c.cache.Len() }

// Dimensions implements Encoder.
func (c *CachedEncoder) Dimensions() int { return c.inner.Dimensions() }

// ModelName implements Encoder.
func (c *CachedEncoder) ModelName() string { return c.inner.ModelName() }

// Close implements Encoder.
func (c *CachedEncoder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
