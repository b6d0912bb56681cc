// Package observability holds Prometheus metrics and HTTP middleware.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Pipeline stages timed per request
const (
	StageEmbed    = "embed"
	StageRetrieve = "retrieve"
	StageAssemble = "assemble"
	StageRepair   = "generate_validate"
	StageRefresh  = "refresh"
)

// Refresh results
const (
	RefreshUnchanged = "unchanged"
	RefreshStore     = "store"
	RefreshMirror    = "mirror"
	RefreshEmbedded  = "embedded"
	RefreshFailed    = "failed"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlrag_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlrag_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlrag_requests_total",
			Help: "Questions answered, by outcome.",
		},
		[]string{"outcome"},
	)

	generationAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlrag_generation_attempts",
			Help:    "Generations used per finished request.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlrag_stage_duration_seconds",
			Help:    "Latency of pipeline stages.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlrag_refresh_total",
			Help: "Index refreshes, by where the vectors came from.",
		},
		[]string{"result"},
	)

	indexedUnits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlrag_indexed_units",
			Help: "Schema units in the live index.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		requestsTotal,
		generationAttempts,
		stageDurationSeconds,
		refreshTotal,
		indexedUnits,
	)
}

// ObserveRequest records a finished question. attempts is zero when the
// request failed before generation.
func ObserveRequest(outcome string, attempts int) {
	requestsTotal.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		generationAttempts.Observe(float64(attempts))
	}
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveRefresh(result string) {
	refreshTotal.WithLabelValues(result).Inc()
}

func SetIndexedUnits(n int) {
	if n < 0 {
		n = 0
	}
	indexedUnits.Set(float64(n))
}
