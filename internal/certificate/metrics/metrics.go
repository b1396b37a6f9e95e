// Package metrics provides Prometheus instruments for certificate issuance.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refusal reasons. A chain refusal means stored history failed
// verification and needs an operator, not a retry.
const (
	RefusalState      = "state"
	RefusalChain      = "chain"
	RefusalIncomplete = "incomplete"
)

// Metrics tracks certificate issuance.
type Metrics struct {
	Issued           prometheus.Counter
	Refused          *prometheus.CounterVec
	AssemblyDuration prometheus.Histogram
}

// New creates and registers all certificate metrics.
func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_certificates_issued_total",
			Help: "Certificates issued",
		}),
		Refused: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_certificates_refused_total",
			Help: "Certificate requests refused by reason",
		}, []string{"reason"}),
		AssemblyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signet_certificate_assembly_duration_seconds",
			Help:    "Duration of certificate assembly including trail collection",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncrementIssued records one issued certificate.
func (m *Metrics) IncrementIssued() {
	if m == nil {
		return
	}
	m.Issued.Inc()
}

// IncrementRefused records a refused issuance by reason.
func (m *Metrics) IncrementRefused(reason string) {
	if m == nil {
		return
	}
	m.Refused.WithLabelValues(reason).Inc()
}

// ObserveAssembly records the duration of one issuance.
func (m *Metrics) ObserveAssembly(start time.Time) {
	if m == nil {
		return
	}
	m.AssemblyDuration.Observe(time.Since(start).Seconds())
}
