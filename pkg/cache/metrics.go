package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predict_session_cache_hits_total",
		Help: "View cache hits by view kind",
	}, []string{"kind"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predict_session_cache_misses_total",
		Help: "View cache misses by view kind",
	}, []string{"kind"})

	CacheSetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predict_session_cache_sets_total",
		Help: "Views stored by view kind",
	}, []string{"kind"})

	CacheDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predict_session_cache_deletes_total",
		Help: "Views dropped before eviction",
	})

	CacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predict_session_cache_hit_ratio",
		Help: "Ristretto hit ratio since start",
	})

	CacheOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predict_session_cache_operation_duration_seconds",
		Help:    "Duration of view cache operations",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01},
	}, []string{"operation"})
)
