// Package metrics provides Prometheus instruments for signing tokens.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redemption outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
)

// Metrics tracks token issuance and redemption. Replays are the signal
// worth alerting on: a burst means a signing link is being reused.
type Metrics struct {
	Minted         *prometheus.CounterVec
	Redemptions    *prometheus.CounterVec
	RedeemDuration prometheus.Histogram
}

// New creates and registers all signing token metrics.
func New() *Metrics {
	return &Metrics{
		Minted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_signing_tokens_minted_total",
			Help: "Signing tokens minted by scope",
		}, []string{"scope"}),
		Redemptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_signing_token_redemptions_total",
			Help: "Token redemption attempts by outcome",
		}, []string{"outcome"}),
		RedeemDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signet_signing_token_redeem_duration_seconds",
			Help:    "Duration of the full redeem path including the store round trip",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementMinted records one issued token.
func (m *Metrics) IncrementMinted(scope string) {
	if m == nil {
		return
	}
	m.Minted.WithLabelValues(scope).Inc()
}

// IncrementRedemption records a redemption attempt by outcome.
func (m *Metrics) IncrementRedemption(outcome string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(outcome).Inc()
}

// ObserveRedeem records the duration of one redeem call.
func (m *Metrics) ObserveRedeem(start time.Time) {
	if m == nil {
		return
	}
	m.RedeemDuration.Observe(time.Since(start).Seconds())
}
