// Package metrics holds the process-wide HTTP metrics. Feature modules
// carry their own metrics packages; this one only observes the HTTP
// surface itself.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds request-level Prometheus metrics. Routes are labelled
// by pattern, not concrete path, to keep cardinality bounded.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// New creates and registers the HTTP metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_http_requests_total",
			Help: "Total HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),

		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signet_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(method, route string, status int, start time.Time) {
	if m != nil {
		m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.Duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
