// Package cache provides a shared Redis page cache for remote sparse sources.
//
// The cache sits between a sparse.Collection and its remote source. The
// collection keeps its items in memory; the cache only shields the source
// from repeated page requests, for example when several proxy instances or
// collections read the same dataset.
//
// Features:
//
// - Deterministic page keys (source, start, length, query)
// - msgpack encoded pages with a fixed TTL
// - Concurrent misses for one page collapsed into a single source call
// - Cache failures fall back to the source instead of failing the page
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient)
//
//	// Put the cache in front of a page callback
//	fetch := cache.Wrap(manager, "/api/words", 10*time.Minute, client.Fetcher[Word](c, "/api/words"))
//
//	words, err := sparse.Array(fetch, sparse.WithPageSize(25))
//
// # Invalidation
//
// Entries expire on their own. Purge drops every page of a source at once:
//
//	n, err := manager.Purge(ctx, "/api/words")
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - sparse_page_cache_hits_total - Cache hits
//   - sparse_page_cache_misses_total - Cache misses
//   - sparse_page_cache_written_bytes_total - Bytes written to Redis
//   - sparse_page_cache_shared_loads_total - Loads collapsed onto a concurrent load
//   - sparse_page_cache_errors_total{operation} - Cache operation errors
package cache
