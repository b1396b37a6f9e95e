package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit module.
type Metrics struct {
	// Events appended to the ledger by type
	EventsRecorded *prometheus.CounterVec

	// Sequence-slot conflicts resolved by retrying
	AppendConflicts prometheus.Counter

	// Chain verification outcomes by result
	ChainVerifications *prometheus.CounterVec

	// Append latency including slot-conflict retries
	RecordLatency prometheus.Histogram
}

// New creates a new Metrics instance with all audit module metrics registered.
func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_audit_events_recorded_total",
			Help: "Total audit events appended to the ledger by event type",
		}, []string{"type"}),

		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_audit_append_conflicts_total",
			Help: "Total sequence-slot conflicts encountered while appending",
		}),

		ChainVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_audit_chain_verifications_total",
			Help: "Total hash chain verifications by result",
		}, []string{"result"}), // result: "valid", "invalid"

		RecordLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signet_audit_record_duration_seconds",
			Help:    "Duration of appending an audit event including retries",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
	}
}

// IncrementRecorded records a successful append by event type.
func (m *Metrics) IncrementRecorded(eventType string) {
	if m != nil {
		m.EventsRecorded.WithLabelValues(eventType).Inc()
	}
}

// IncrementConflict records a sequence-slot conflict.
func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.AppendConflicts.Inc()
	}
}

// IncrementVerification records a chain verification outcome.
func (m *Metrics) IncrementVerification(valid bool) {
	if m != nil {
		result := "valid"
		if !valid {
			result = "invalid"
		}
		m.ChainVerifications.WithLabelValues(result).Inc()
	}
}

// ObserveRecordLatency records the total append duration.
func (m *Metrics) ObserveRecordLatency(d time.Duration) {
	if m != nil {
		m.RecordLatency.Observe(d.Seconds())
	}
}
