package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch metrics
	Transitions      *prometheus.CounterVec
	TransitionErrors *prometheus.CounterVec
	CASConflicts     prometheus.Counter
	CallNextRetries  prometheus.Counter
	DispatchLatency  *prometheus.HistogramVec

	// Fan-out metrics
	EventsPublished  *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	ConnectedClients prometheus.Gauge
	DroppedMessages  prometheus.Counter

	// Outbox metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_transitions_total",
			Help:      "Total number of committed queue transitions",
		}, []string{"to_status"}),
		TransitionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_transition_errors_total",
			Help:      "Total number of rejected transition attempts",
		}, []string{"code"}),
		CASConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_cas_conflicts_total",
			Help:      "Total number of compare-and-set conflicts",
		}),
		CallNextRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_call_next_retries_total",
			Help:      "Total number of call-next re-selections after losing a claim",
		}),
		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_dispatch_duration_seconds",
			Help:      "Duration of dispatcher operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_events_published_total",
			Help:      "Total number of events published to the broker",
		}, []string{"event_type"}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_publish_failures_total",
			Help:      "Total number of broker publish failures",
		}),
		ConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fanout_connected_clients",
			Help:      "Current number of connected websocket subscribers",
		}),
		DroppedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_messages_total",
			Help:      "Total number of messages dropped on slow subscribers",
		}),

		OutboxEventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully republished outbox events",
		}),
		OutboxEventsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of outbox events that exhausted retries",
		}),
		OutboxProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox batches",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
