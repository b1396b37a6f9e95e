// Package metrics provides Prometheus instruments for the tenant
// registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks tenant registry activity. The guard duration matters
// most: AssertActive sits on every envelope command.
type Metrics struct {
	Created       prometheus.Counter
	StatusChanges *prometheus.CounterVec
	GuardRefusals prometheus.Counter
	GuardDuration prometheus.Histogram
}

// New creates and registers all tenant metrics.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_tenants_created_total",
			Help: "Total number of tenants created",
		}),
		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_tenant_status_changes_total",
			Help: "Tenant status transitions by action",
		}, []string{"action"}),
		GuardRefusals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_tenant_guard_refusals_total",
			Help: "Commands refused because the tenant is inactive or unknown",
		}),
		GuardDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signet_tenant_guard_duration_seconds",
			Help:    "Duration of the tenant activity check on the command path",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementCreated records a successful tenant creation.
func (m *Metrics) IncrementCreated() {
	if m == nil {
		return
	}
	m.Created.Inc()
}

// IncrementStatusChange records a deactivation or reactivation.
func (m *Metrics) IncrementStatusChange(action string) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(action).Inc()
}

// IncrementGuardRefusal records a command blocked by the tenant guard.
func (m *Metrics) IncrementGuardRefusal() {
	if m == nil {
		return
	}
	m.GuardRefusals.Inc()
}

// ObserveGuard records the duration of one AssertActive check.
func (m *Metrics) ObserveGuard(start time.Time) {
	if m == nil {
		return
	}
	m.GuardDuration.Observe(time.Since(start).Seconds())
}
