// Package metrics defines the Prometheus collectors exposed at the
// ambient /metrics endpoint: outbox replay throughput, retrieval latency,
// and observational-memory trigger counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds axiomme's own collectors, kept separate from the default
// global registry so /metrics never picks up unrelated process collectors
// registered by an imported library.
var Registry = prometheus.NewRegistry()

var (
	ReplayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axiomme",
			Subsystem: "outbox",
			Name:      "replay_events_total",
			Help:      "Total outbox events processed by the replay worker, by event_type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	ReplayBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "axiomme",
			Subsystem: "outbox",
			Name:      "replay_batch_duration_seconds",
			Help:      "Duration of one replay worker poll-and-drain cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	RetrievalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "axiomme",
			Subsystem: "retrieval",
			Name:      "find_duration_seconds",
			Help:      "Duration of Find calls, by backend and stop_reason.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"backend", "stop_reason"},
	)

	RetrievalHitsReturned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "axiomme",
			Subsystem: "retrieval",
			Name:      "hits_returned",
			Help:      "Number of hits returned per Find call.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"request_type"},
	)

	OMTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axiomme",
			Subsystem: "om",
			Name:      "triggers_total",
			Help:      "Observational-memory cycle triggers, by trigger kind (threshold, interval, block_after).",
		},
		[]string{"scope", "trigger"},
	)

	PromotionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axiomme",
			Subsystem: "promotion",
			Name:      "outcomes_total",
			Help:      "Memory promotion outcomes, by apply_mode and outcome (applied, replayed, conflict, error).",
		},
		[]string{"apply_mode", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		ReplayEventsTotal, ReplayBatchDuration,
		RetrievalLatency, RetrievalHitsReturned,
		OMTriggersTotal, PromotionOutcomesTotal,
	)
}

// Handler returns the HTTP handler serving axiomme's collectors in the
// Prometheus exposition format, for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
