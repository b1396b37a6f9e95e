package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the document module.
type Metrics struct {
	// Source documents uploaded
	Uploads prometheus.Counter

	// Bytes accepted across all uploads
	UploadBytes prometheus.Counter

	// Worker-produced renditions stored by kind
	Renditions *prometheus.CounterVec

	// Downloads served by variant
	Downloads *prometheus.CounterVec

	// Downloads refused because stored bytes no longer match the
	// recorded digest
	IntegrityFailures prometheus.Counter
}

// New creates a new Metrics instance with all document module metrics registered.
func New() *Metrics {
	return &Metrics{
		Uploads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_document_uploads_total",
			Help: "Total source documents uploaded",
		}),

		UploadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_document_upload_bytes_total",
			Help: "Total bytes accepted across document uploads",
		}),

		Renditions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_document_renditions_total",
			Help: "Total worker-produced renditions stored by kind",
		}, []string{"kind"}),

		Downloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_document_downloads_total",
			Help: "Total document downloads served by variant",
		}, []string{"variant"}),

		IntegrityFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_document_integrity_failures_total",
			Help: "Total downloads refused because the stored bytes did not match the recorded digest",
		}),
	}
}

// IncrementUpload records an accepted upload and its size.
func (m *Metrics) IncrementUpload(sizeBytes int) {
	if m != nil {
		m.Uploads.Inc()
		m.UploadBytes.Add(float64(sizeBytes))
	}
}

// IncrementRendition records a stored worker-produced rendition.
func (m *Metrics) IncrementRendition(kind string) {
	if m != nil {
		m.Renditions.WithLabelValues(kind).Inc()
	}
}

// IncrementDownload records a served download.
func (m *Metrics) IncrementDownload(variant string) {
	if m != nil {
		m.Downloads.WithLabelValues(variant).Inc()
	}
}

// IncrementIntegrityFailure records a download refused by the digest check.
func (m *Metrics) IncrementIntegrityFailure() {
	if m != nil {
		m.IntegrityFailures.Inc()
	}
}
