package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roster_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses tracks cache misses by reason.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"reason"}, // "absent", "expired", "corrupt"
	)

	// CacheEvictions tracks entries removed to honour the size ceiling or TTL.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_cache_evictions_total",
			Help: "Total number of evicted cache entries",
		},
		[]string{"reason"}, // "expired", "oldest", "invalid"
	)

	// CacheSize tracks the cache footprint in bytes.
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roster_cache_size_bytes",
			Help: "Current size of the cache in bytes",
		},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "list"
	)
)
