package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Consumer metrics
	EventsConsumed   *prometheus.CounterVec
	DeadLettered     *prometheus.CounterVec
	OffsetsCommitted *prometheus.CounterVec
	Redeliveries     prometheus.Counter
	InFlight         prometheus.Gauge

	// Processor metrics
	EventsProcessed    *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	CommitConflicts    prometheus.Counter
	StoreUnavailable   prometheus.Counter
	RetriesExhausted   prometheus.Counter

	// Outcome metrics
	PublishFailures     prometheus.Counter
	OutcomesRepublished prometheus.Counter
	RecordsPruned       prometheus.Counter

	// Redis metrics
	RedisOperations *prometheus.CounterVec
	RedisErrors     *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics with the default registerer
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all Prometheus metrics and registers them with reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Consumer metrics
		EventsConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txstream_events_consumed_total",
				Help: "Total number of messages fetched from input topics",
			},
			[]string{"topic"},
		),
		DeadLettered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txstream_dead_lettered_total",
				Help: "Total number of messages routed to the dead-letter topic by failure kind",
			},
			[]string{"kind"},
		),
		OffsetsCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txstream_offsets_committed_total",
				Help: "Total number of offset commits by topic",
			},
			[]string{"topic"},
		),
		Redeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "txstream_redeliveries_total",
			Help: "Total number of in-process redeliveries while the store was unavailable",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "txstream_in_flight_messages",
			Help: "Messages fetched but not yet in a terminal state",
		}),

		// Processor metrics
		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txstream_events_processed_total",
				Help: "Total number of processed events by result",
			},
			[]string{"result"},
		),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "txstream_processing_duration_seconds",
			Help:    "Duration of event processing including retries",
			Buckets: prometheus.DefBuckets,
		}),
		CommitConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "txstream_commit_conflicts_total",
			Help: "Total number of commits rejected by a concurrent modification",
		}),
		StoreUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Name: "txstream_store_unavailable_total",
			Help: "Total number of attempts that failed because the store was unavailable",
		}),
		RetriesExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "txstream_retries_exhausted_total",
			Help: "Total number of events that kept conflicting until retries ran out",
		}),

		// Outcome metrics
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "txstream_publish_failures_total",
			Help: "Total number of outcome publish failures",
		}),
		OutcomesRepublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "txstream_outcomes_republished_total",
			Help: "Total number of outcomes published by the re-publish sweep",
		}),
		RecordsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "txstream_idempotency_records_pruned_total",
			Help: "Total number of idempotency records removed after retention",
		}),

		// Redis metrics
		RedisOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txstream_redis_operations_total",
				Help: "Total Redis operations by operation and cache status",
			},
			[]string{"operation", "status"},
		),
		RedisErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txstream_redis_errors_total",
				Help: "Total Redis errors by operation",
			},
			[]string{"operation"},
		),
	}
}
