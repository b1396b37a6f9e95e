package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for signer progression.
type Metrics struct {
	Added    prometheus.Counter
	Consents prometheus.Counter
	Signed   prometheus.Counter
	Declined prometheus.Counter

	// Out-of-turn attempts rejected by the signing-order gate
	TurnViolations prometheus.Counter

	// Pages read per aggregate scan; low numbers mean the short-circuit works
	ScanPages prometheus.Histogram
}

// New creates a new Metrics instance with all party module metrics registered.
func New() *Metrics {
	return &Metrics{
		Added: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_party_added_total",
			Help: "Total signers added to envelopes",
		}),

		Consents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_party_consents_total",
			Help: "Total consent captures",
		}),

		Signed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_party_signed_total",
			Help: "Total signatures recorded",
		}),

		Declined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_party_declined_total",
			Help: "Total declines recorded",
		}),

		TurnViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_party_turn_violations_total",
			Help: "Total out-of-turn signing attempts rejected",
		}),

		ScanPages: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signet_party_scan_pages",
			Help:    "Pages read per signer aggregate scan",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

// IncrementAdded records a signer added to an envelope.
func (m *Metrics) IncrementAdded() {
	if m != nil {
		m.Added.Inc()
	}
}

// IncrementConsents records a consent capture.
func (m *Metrics) IncrementConsents() {
	if m != nil {
		m.Consents.Inc()
	}
}

// IncrementSigned records an accepted signature.
func (m *Metrics) IncrementSigned() {
	if m != nil {
		m.Signed.Inc()
	}
}

// IncrementDeclined records a decline.
func (m *Metrics) IncrementDeclined() {
	if m != nil {
		m.Declined.Inc()
	}
}

// IncrementTurnViolations records an out-of-turn attempt.
func (m *Metrics) IncrementTurnViolations() {
	if m != nil {
		m.TurnViolations.Inc()
	}
}

// ObserveScanPages records how many pages one aggregate scan read.
func (m *Metrics) ObserveScanPages(pages int) {
	if m != nil {
		m.ScanPages.Observe(float64(pages))
	}
}
