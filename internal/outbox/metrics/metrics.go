package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the outbox module.
type Metrics struct {
	// Records staged, dispatched, and failed by event type
	Staged     *prometheus.CounterVec
	Dispatched *prometheus.CounterVec
	Failed     *prometheus.CounterVec

	// Malformed stream records skipped with a warning
	Skipped prometheus.Counter

	// Events shed without a publish attempt while the breaker is open
	Shed prometheus.Counter

	// Full dispatch cycle latency
	CycleLatency prometheus.Histogram
}

// New creates a new Metrics instance with all outbox module metrics registered.
func New() *Metrics {
	return &Metrics{
		Staged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_outbox_staged_total",
			Help: "Total outbox records staged by event type",
		}, []string{"type"}),

		Dispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_outbox_dispatched_total",
			Help: "Total outbox records acknowledged by the bus by event type",
		}, []string{"type"}),

		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_outbox_failed_total",
			Help: "Total outbox publish failures by event type",
		}, []string{"type"}),

		Skipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_outbox_skipped_total",
			Help: "Total malformed stream records skipped",
		}),

		Shed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_outbox_shed_total",
			Help: "Total events shed while the publisher circuit is open",
		}),

		CycleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signet_outbox_cycle_duration_seconds",
			Help:    "Duration of one dispatch cycle including status marks",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncrementStaged records staged records by event type.
func (m *Metrics) IncrementStaged(eventType string) {
	if m != nil {
		m.Staged.WithLabelValues(eventType).Inc()
	}
}

// IncrementDispatched records a bus acknowledgement.
func (m *Metrics) IncrementDispatched(eventType string) {
	if m != nil {
		m.Dispatched.WithLabelValues(eventType).Inc()
	}
}

// IncrementFailed records a publish failure.
func (m *Metrics) IncrementFailed(eventType string) {
	if m != nil {
		m.Failed.WithLabelValues(eventType).Inc()
	}
}

// IncrementSkipped records a malformed stream record.
func (m *Metrics) IncrementSkipped() {
	if m != nil {
		m.Skipped.Inc()
	}
}

// IncrementShed records an event shed by the open circuit.
func (m *Metrics) IncrementShed() {
	if m != nil {
		m.Shed.Inc()
	}
}

// ObserveCycleLatency records the duration of a dispatch cycle.
func (m *Metrics) ObserveCycleLatency(d time.Duration) {
	if m != nil {
		m.CycleLatency.Observe(d.Seconds())
	}
}
