package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings kept in memory.
// At 768 dimensions * 4 bytes * 2000 entries this is about 6MB.
const DefaultCacheSize = 2000

// CachedBackend wraps a Backend with an LRU cache so repeated texts
// (hot queries, unchanged chunks during reindex) skip the upstream call.
type CachedBackend struct {
	inner Backend
	cache *lru.Cache[string, []float32]
}

var _ Backend = (*CachedBackend)(nil)

// NewCachedBackend wraps inner with a cache of the given size.
func NewCachedBackend(inner Backend, cacheSize int) *CachedBackend {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedBackend{inner: inner, cache: cache}
}

func (c *CachedBackend) ModelID() string { return c.inner.ModelID() }

func (c *CachedBackend) Dim() int { return c.inner.Dim() }

// cacheKey hashes model and text together so backends sharing a cache
// size never collide across models.
func (c *CachedBackend) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.inner.ModelID() + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// EmbedBatch serves cached texts from memory and forwards only the
// misses upstream, preserving input order in the result.
func (c *CachedBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}

	if len(missTexts) > 0 {
		vectors, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, idx := range missIndices {
			results[idx] = vectors[j]
			c.cache.Add(c.cacheKey(missTexts[j]), vectors[j])
		}
	}

	return results, nil
}

func (c *CachedBackend) Health(ctx context.Context) error {
	return c.inner.Health(ctx)
}

func (c *CachedBackend) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Len returns the number of cached embeddings.
func (c *CachedBackend) Len() int {
	return c.cache.Len()
}
