package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks page cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparse_page_cache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	// CacheMisses tracks page cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparse_page_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	// CacheWrittenBytes tracks bytes written to Redis
	CacheWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparse_page_cache_written_bytes_total",
			Help: "Total number of bytes written to the page cache",
		},
	)

	// SharedLoads tracks page loads collapsed onto a concurrent load
	SharedLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparse_page_cache_shared_loads_total",
			Help: "Total number of page loads served by a concurrent identical load",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparse_page_cache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "purge", "decode"
	)
)
