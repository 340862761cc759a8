package vector

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

const (
	embedCacheCounters    = 1e5
	embedCacheBufferItems = 64
)

// CachedEmbedder decorates an Embedder with a ristretto cache keyed by query
// text. The engine embeds each distinct query once; repeat queries skip the
// embedding subsystem entirely.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with a cache bounded by maxCost bytes of
// embeddings. maxCost <= 0 selects a 32MB default.
func NewCachedEmbedder(inner Embedder, maxCost int64) (*CachedEmbedder, error) {
	if maxCost <= 0 {
		maxCost = 32 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: embedCacheCounters,
		MaxCost:     maxCost,
		BufferItems: embedCacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached embedding for text, or computes and caches it.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(text, vec, int64(4*len(vec)))
	return vec, nil
}

// Close releases the cache's resources.
func (e *CachedEmbedder) Close() {
	e.cache.Close()
}
