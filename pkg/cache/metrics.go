package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks chunk cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_cache_hits_total",
			Help: "Total number of chunk cache hits",
		},
	)

	// CacheMisses tracks chunk cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_cache_misses_total",
			Help: "Total number of chunk cache misses",
		},
	)

	// CacheSize tracks bytes written to the cache
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_cache_size_bytes",
			Help: "Bytes of chunk tables written to the cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
