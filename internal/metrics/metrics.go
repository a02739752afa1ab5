package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeOK          = "ok"
	OutcomeEmitted     = "emitted"
	OutcomeSuppressed  = "suppressed"
	OutcomeFailed      = "failed"
	OutcomeUnreachable = "unreachable"
)

// Metrics holds the process's collectors. Build one per registry with New
// and pass it to the components that record into it.
type Metrics struct {
	// Mutation metrics
	MutationsTotal *prometheus.CounterVec
	ConflictsTotal prometheus.Counter

	// Change derivation metrics
	ChangeRecordsTotal *prometheus.CounterVec
	FeedBatchesTotal   prometheus.Counter

	// Broadcast metrics
	BroadcastSendsTotal    *prometheus.CounterVec
	BroadcastFanoutLatency prometheus.Histogram
	PrunedEndpointsTotal   prometheus.Counter
	ActiveConnections      prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MutationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundsync_mutations_total",
			Help: "The total number of mutation calls by operation and error kind",
		}, []string{"operation", "outcome"}),
		ConflictsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "roundsync_state_conflicts_total",
			Help: "The total number of round state writes rejected for a version mismatch",
		}),
		ChangeRecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundsync_change_records_total",
			Help: "The total number of change records processed by outcome",
		}, []string{"outcome"}),
		FeedBatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "roundsync_feed_batches_total",
			Help: "The total number of change feed batches consumed",
		}),
		BroadcastSendsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundsync_broadcast_sends_total",
			Help: "The total number of per-subscriber sends by outcome",
		}, []string{"outcome"}),
		BroadcastFanoutLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundsync_broadcast_fanout_seconds",
			Help:    "Latency of delivering one event to every subscriber of a round",
			Buckets: prometheus.DefBuckets,
		}),
		PrunedEndpointsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "roundsync_pruned_endpoints_total",
			Help: "The total number of unreachable subscribers deregistered",
		}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "roundsync_active_connections",
			Help: "The number of open subscriber connections",
		}),
	}
}

// NewNop returns collectors registered nowhere, for tests and tools
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
