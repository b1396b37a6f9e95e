package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the envelope module.
type Metrics struct {
	// Lifecycle transitions by destination status
	Transitions *prometheus.CounterVec

	// Envelopes created by origin
	Created *prometheus.CounterVec

	// Completion attempts refused by the audit gates
	GateFailures prometheus.Counter

	// Version conflicts surfaced to callers
	VersionConflicts prometheus.Counter

	// Envelopes expired by the deadline sweep
	Swept prometheus.Counter
}

// New creates a new Metrics instance with all envelope module metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_envelope_transitions_total",
			Help: "Total envelope lifecycle transitions by destination status",
		}, []string{"to"}),

		Created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_envelope_created_total",
			Help: "Total envelopes created by origin",
		}, []string{"origin"}),

		GateFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_envelope_completion_gate_failures_total",
			Help: "Total completion attempts refused by ledger completeness or integrity checks",
		}),

		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_envelope_version_conflicts_total",
			Help: "Total optimistic concurrency conflicts returned to callers",
		}),

		Swept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_envelope_expired_total",
			Help: "Total envelopes expired by the deadline sweep",
		}),
	}
}

// IncrementTransition records a lifecycle transition.
func (m *Metrics) IncrementTransition(to string) {
	if m != nil {
		m.Transitions.WithLabelValues(to).Inc()
	}
}

// IncrementCreated records a new envelope.
func (m *Metrics) IncrementCreated(origin string) {
	if m != nil {
		m.Created.WithLabelValues(origin).Inc()
	}
}

// IncrementGateFailure records a completion attempt blocked by the audit gates.
func (m *Metrics) IncrementGateFailure() {
	if m != nil {
		m.GateFailures.Inc()
	}
}

// IncrementVersionConflict records an optimistic concurrency conflict.
func (m *Metrics) IncrementVersionConflict() {
	if m != nil {
		m.VersionConflicts.Inc()
	}
}

// IncrementSwept records an envelope expired by the sweep.
func (m *Metrics) IncrementSwept() {
	if m != nil {
		m.Swept.Inc()
	}
}
