package core

import (
	"context"
	"fmt"

	"acecore/domain/analysis"
	"acecore/domain/events"
)

// CacheResult stores the request's result under its fingerprint, firing
// CACHE_NEW. Returns the cache key, or the empty string when the module type
// bypasses caching.
func (c *CoreSystem) CacheResult(ctx context.Context, ar *analysis.AnalysisRequest) (string, error) {
	if !ar.IsCachable() || ar.Type == nil || !ar.Type.Cachable() {
		return "", nil
	}
	if err := c.cache.Put(ctx, ar.CacheKey, ar, *ar.Type.CacheTTL); err != nil {
		return "", fmt.Errorf("failed to cache result for %s: %w", ar.CacheKey, err)
	}
	c.fireEvent(ctx, events.CacheNew, ar.CacheKey)
	return ar.CacheKey, nil
}

// CachedResult looks up a prior result for the observable and module type,
// firing CACHE_HIT when one is found. Returns nil on a miss, on an expired
// entry, or when the module type bypasses caching.
func (c *CoreSystem) CachedResult(ctx context.Context, o *analysis.Observable, amt *analysis.ModuleType) (*analysis.AnalysisRequest, error) {
	key := analysis.GenerateCacheKey(o, amt)
	if key == "" {
		return nil, nil
	}
	hit, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache for %s: %w", key, err)
	}
	if hit == nil {
		return nil, nil
	}
	c.fireEvent(ctx, events.CacheHit, key)
	return hit, nil
}

// CacheSize returns the number of cached results, scoped to one module type
// when amtName is non-empty.
func (c *CoreSystem) CacheSize(ctx context.Context, amtName string) (int, error) {
	return c.cache.Size(ctx, amtName)
}
