// Package metrics provides the Prometheus registry and scrape handler for
// sparse collections and their supporting layers.
// All metrics are defined in their respective packages (sparse, cache,
// client, ratelimit) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by all packages.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Collection Metrics (pkg/sparse):
//   - sparse_page_fetches_total{result} (Counter): Settled page fetches (success, error, stale_generation)
//   - sparse_page_fetch_duration_seconds (Histogram): Duration of page callbacks
//   - sparse_page_dedup_total (Counter): Page requests dropped because the page was in flight
//   - sparse_malformed_totals_total (Counter): Page responses with a rejected total
//   - sparse_expirations_total (Counter): Expire calls, including those made by FilterBy
//   - sparse_filter_changes_total (Counter): FilterBy calls that changed the query
//
// Page Cache Metrics (pkg/cache):
//   - sparse_page_cache_hits_total (Counter): Pages served from Redis
//   - sparse_page_cache_misses_total (Counter): Pages not found in Redis
//   - sparse_page_cache_written_bytes_total (Counter): Bytes written to Redis
//   - sparse_page_cache_shared_loads_total (Counter): Loads served by a concurrent identical load
//   - sparse_page_cache_errors_total{operation} (Counter): Cache operation errors
//
// Error Budget Metrics (pkg/ratelimit):
//   - sparse_source_errors_remaining{source} (Gauge): Errors remaining in the source's window
//   - sparse_source_rate_limit_blocks_total{source} (Counter): Requests blocked at the critical threshold
//   - sparse_source_rate_limit_throttles_total{source} (Counter): Requests throttled at the warning threshold
//
// Remote Request Metrics (pkg/client):
//   - sparse_remote_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - sparse_remote_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - sparse_remote_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - sparse_remote_retries_total{error_class} (Counter): Retry attempts by error class
//   - sparse_remote_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - sparse_remote_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Page Cache Hit Rate
//   sum(rate(sparse_page_cache_hits_total[5m])) /
//   (sum(rate(sparse_page_cache_hits_total[5m])) + sum(rate(sparse_page_cache_misses_total[5m])))
//
//   # Dedup Ratio
//   rate(sparse_page_dedup_total[5m]) / rate(sparse_page_fetches_total[5m])
//
//   # Failed Page Rate
//   rate(sparse_page_fetches_total{result="error"}[5m])
//
//   # Error Budget Status
//   sparse_source_errors_remaining < 20
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(sparse_page_fetch_duration_seconds_bucket[5m]))
