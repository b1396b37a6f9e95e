package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the idempotency guard.
type Metrics struct {
	// Commands executed after winning the key reservation
	Executions prometheus.Counter

	// Recorded responses returned without re-executing the command
	Replays prometheus.Counter

	// Waits on an in-progress rival that exhausted their budget
	WaitTimeouts prometheus.Counter

	// Expired records removed by the reaper
	Reaped prometheus.Counter
}

// New creates a new Metrics instance with all guard metrics registered.
func New() *Metrics {
	return &Metrics{
		Executions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_idempotency_executions_total",
			Help: "Total commands executed under a freshly reserved idempotency key",
		}),

		Replays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_idempotency_replays_total",
			Help: "Total recorded responses replayed instead of re-executing the command",
		}),

		WaitTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_idempotency_wait_timeouts_total",
			Help: "Total waits on an in-progress duplicate that ran out of budget",
		}),

		Reaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_idempotency_reaped_total",
			Help: "Total expired idempotency records removed by the reaper",
		}),
	}
}

// IncrementExecutions records a command run under a fresh reservation.
func (m *Metrics) IncrementExecutions() {
	if m != nil {
		m.Executions.Inc()
	}
}

// IncrementReplays records a response served from the snapshot.
func (m *Metrics) IncrementReplays() {
	if m != nil {
		m.Replays.Inc()
	}
}

// IncrementWaitTimeouts records a wait that exhausted its budget.
func (m *Metrics) IncrementWaitTimeouts() {
	if m != nil {
		m.WaitTimeouts.Inc()
	}
}

// AddReaped records expired records removed by the reaper.
func (m *Metrics) AddReaped(n int) {
	if m != nil {
		m.Reaped.Add(float64(n))
	}
}
