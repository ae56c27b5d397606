// Package metrics provides the Prometheus collectors the Dispatcher and
// the stream Forwarder update as they run: attempt outcomes, attempt latency,
// cross-model fallback transitions, and in-flight stream count. Serving
// them on /metrics is the HTTP glue layer's job (§6); this package only
// owns the collectors themselves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60, 120, 180,
}

var (
	// AttemptsTotal counts every upstream attempt by provider and outcome
	// ("success", "client_error", "server_error"; a transport failure
	// counts as "server_error").
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total upstream attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// AttemptLatencySeconds tracks one attempt's wall-clock latency by
	// provider and phase ("primary" or "race").
	AttemptLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_latency_seconds",
			Help:      "Upstream attempt latency by provider and phase",
			Buckets:   latencyBuckets,
		},
		[]string{"provider", "phase"},
	)

	// FallbackTransitionsTotal counts cross-model fallback transitions.
	FallbackTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_transitions_total",
			Help:      "Cross-model fallback transitions by origin and destination model",
		},
		[]string{"from_model", "to_model"},
	)

	// StreamsInFlight gauges the number of SSE streams currently being
	// forwarded.
	StreamsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_in_flight",
			Help:      "Number of SSE streams currently being forwarded",
		},
	)
)
