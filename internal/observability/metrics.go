package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector of the service.
type Metrics struct {
	// Processor
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	AutoZeroedEdits  prometheus.Counter
	AutoAllocated    prometheus.Counter
	Sequence         prometheus.Gauge
	OpenSettlements  prometheus.Gauge
	VersionConflicts *prometheus.CounterVec

	// Channels
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// Idempotency
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// Ingestion
	IngestMessages *prometheus.CounterVec
	RateUpdates    *prometheus.CounterVec

	// Persistence
	PersistCommandsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistStaleWrites     prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		// Processor
		CommandsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_commands_applied_total",
			Help: "Commands successfully applied by the processor",
		}, []string{"command_type"}),

		CommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_commands_rejected_total",
			Help: "Commands rejected (duplicate, version conflict, validation)",
		}, []string{"command_type", "reason"}),

		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contra_command_apply_duration_seconds",
			Help:    "Time to apply a single command, including retotal and invariant checks",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		AutoZeroedEdits: factory.NewCounter(prometheus.CounterOpts{
			Name: "contra_manual_edits_auto_zeroed_total",
			Help: "Manual edits forced to zero because nothing remained to allocate",
		}),

		AutoAllocated: factory.NewCounter(prometheus.CounterOpts{
			Name: "contra_auto_allocations_total",
			Help: "Auto-allocation passes",
		}),

		Sequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contra_sequence",
			Help: "Current global command sequence",
		}),

		OpenSettlements: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contra_open_settlements",
			Help: "Settlements held in memory by the processor",
		}),

		VersionConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_version_conflicts_total",
			Help: "Commands issued against another settlement version, by kind (stale, ahead)",
		}, []string{"kind"}),

		// Channels
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contra_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contra_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contra_channel_utilization",
			Help: "Channel usage ratio",
		}, []string{"channel"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "contra_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "contra_persist_backpressure_total",
			Help: "Times the processor blocked on a full persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contra_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupTier2Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "contra_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		// Ingestion
		IngestMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_ingest_messages_total",
			Help: "Inbound messages by source and result",
		}, []string{"source", "result"}),

		RateUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_rate_updates_total",
			Help: "Exchange-rate updates received",
		}, []string{"currency"}),

		// Persistence
		PersistCommandsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "contra_persist_commands_written_total",
			Help: "Command log rows written",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "contra_persist_batch_size",
			Help:    "Commands per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "contra_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistStaleWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "contra_persist_stale_writes_total",
			Help: "Settlement upserts skipped because the stored edit_version was newer",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contra_persist_last_sequence",
			Help: "Sequence of the last persisted command",
		}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contra_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contra_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
