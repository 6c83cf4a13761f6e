package elevation

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NERVsystems/osmscene/pkg/monitoring"
	"github.com/NERVsystems/osmscene/pkg/tracing"
)

// DefaultCacheSize bounds the number of samples kept in memory.
const DefaultCacheSize = 100000

// CachedResolver remembers samples of an inner resolver. Misses are not
// cached so a flaky service can fill them in later.
type CachedResolver struct {
	inner Resolver
	cache *lru.Cache[string, float64]
}

// NewCachedResolver wraps inner with an LRU of size entries.
func NewCachedResolver(inner Resolver, size int) (*CachedResolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, float64](size)
	if err != nil {
		return nil, fmt.Errorf("create elevation cache: %w", err)
	}
	return &CachedResolver{inner: inner, cache: c}, nil
}

// SampleBatch implements Resolver.
func (r *CachedResolver) SampleBatch(ctx context.Context, points []Point) (Samples, error) {
	samples := make(Samples, len(points))
	var missing []Point

	for _, p := range dedupe(points) {
		if h, ok := r.cache.Get(p.Key()); ok {
			samples[p.Key()] = h
			continue
		}
		missing = append(missing, p)
	}

	hits := len(samples)
	monitoring.CacheHits.WithLabelValues(tracing.CacheTypeElevation).Add(float64(hits))
	monitoring.CacheMisses.WithLabelValues(tracing.CacheTypeElevation).Add(float64(len(missing)))

	if len(missing) == 0 {
		return samples, nil
	}

	fetched, err := r.inner.SampleBatch(ctx, missing)
	if err != nil {
		if hits > 0 && ctx.Err() == nil {
			return samples, nil
		}
		return samples, err
	}
	for k, h := range fetched {
		r.cache.Add(k, h)
		samples[k] = h
	}
	monitoring.UpdateCacheSize(tracing.CacheTypeElevation, r.cache.Len())
	return samples, nil
}

// SampleOne implements Resolver.
func (r *CachedResolver) SampleOne(ctx context.Context, lat, lon float64) (float64, error) {
	return sampleOneVia(ctx, r, lat, lon)
}

// Len returns the number of cached samples.
func (r *CachedResolver) Len() int { return r.cache.Len() }
