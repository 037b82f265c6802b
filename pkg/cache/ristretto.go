package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoCache keeps session views in a Ristretto cache. Every view costs
// one unit, so MaxCost bounds the number of views held.
type RistrettoCache struct {
	views  *ristretto.Cache
	logger *zap.Logger
}

// RistrettoConfig sizes the view cache.
type RistrettoConfig struct {
	NumCounters int64 // admission counters, about 10x MaxCost
	MaxCost     int64 // views held before eviction
	BufferItems int64
	Logger      *zap.Logger
}

// DefaultRistrettoConfig sizes the cache for about ten thousand views.
func DefaultRistrettoConfig(logger *zap.Logger) *RistrettoConfig {
	return &RistrettoConfig{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
		Logger:      logger,
	}
}

// NewRistrettoCache creates the view cache.
func NewRistrettoCache(cfg *RistrettoConfig) (*RistrettoCache, error) {
	views, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RistrettoCache{views: views, logger: logger}, nil
}

func (r *RistrettoCache) Get(key string) (interface{}, bool) {
	start := time.Now()
	view, found := r.views.Get(key)
	CacheOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	kind := kindOf(key)
	if found {
		CacheHitsTotal.WithLabelValues(kind).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(kind).Inc()
	}
	r.logger.Debug("view-lookup",
		zap.String("key", key),
		zap.String("view-kind", kind),
		zap.Bool("hit", found))
	return view, found
}

// Set stores view under key. Ristretto may drop the write under contention;
// the next read then recomputes the view.
func (r *RistrettoCache) Set(key string, view interface{}, ttl time.Duration) bool {
	start := time.Now()
	var stored bool
	if ttl > 0 {
		stored = r.views.SetWithTTL(key, view, 1, ttl)
	} else {
		stored = r.views.Set(key, view, 1)
	}
	CacheOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if stored {
		CacheSetsTotal.WithLabelValues(kindOf(key)).Inc()
	}
	return stored
}

func (r *RistrettoCache) Delete(key string) {
	r.views.Del(key)
	CacheDeletesTotal.Inc()
	r.logger.Debug("view-dropped", zap.String("key", key))
}

func (r *RistrettoCache) Close() {
	r.views.Close()
	r.logger.Info("view-cache-closed")
}

// HitRatio returns Ristretto's running hit ratio and publishes it.
func (r *RistrettoCache) HitRatio() float64 {
	ratio := r.views.Metrics.Ratio()
	CacheHitRate.Set(ratio)
	return ratio
}

// Wait blocks until buffered writes are applied.
func (r *RistrettoCache) Wait() {
	r.views.Wait()
}
