package sparse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PageFetches counts settled page fetches by result
	PageFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparse_page_fetches_total",
			Help: "Total number of settled page fetches by result",
		},
		[]string{"result"}, // "success", "error", "stale_generation"
	)

	// PageFetchDuration tracks how long page callbacks take
	PageFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sparse_page_fetch_duration_seconds",
			Help:    "Duration of page fetch callbacks in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	// PageDedups counts page requests dropped because the page was in flight
	PageDedups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparse_page_dedup_total",
			Help: "Total number of page requests deduplicated against an in-flight fetch",
		},
	)

	// MalformedTotals counts page responses whose total was rejected
	MalformedTotals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparse_malformed_totals_total",
			Help: "Total number of page responses with a malformed total",
		},
	)

	// Expirations counts Expire calls, including those made by FilterBy
	Expirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparse_expirations_total",
			Help: "Total number of collection expirations",
		},
	)

	// FilterChanges counts FilterBy calls that changed the query
	FilterChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparse_filter_changes_total",
			Help: "Total number of filter changes",
		},
	)
)
