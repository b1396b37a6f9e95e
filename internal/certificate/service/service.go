// Package service assembles certificates of completion. A certificate is
// only issued over a trail that replays cleanly and discharges every
// completion requirement, so holding one is itself evidence that the
// recorded history was intact at issue time. A refusal here means the
// stored evidence, not the request, is at fault.
package service

import (
	"context"
	"log/slog"
	"time"

	auditmodels "signet/internal/audit/models"
	"signet/internal/certificate/metrics"
	"signet/internal/certificate/models"
	envelopemodels "signet/internal/envelope/models"
	partymodels "signet/internal/party/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/canonical"
	"signet/pkg/requestcontext"
)

// trailPageLimit sizes trail pages while collecting the full history.
const trailPageLimit = 200

// Envelopes is the service's view of envelope state and its signers.
type Envelopes interface {
	Get(ctx context.Context, envelopeID id.EnvelopeID) (*envelopemodels.Envelope, error)
	ListParties(ctx context.Context, envelopeID id.EnvelopeID) ([]partymodels.Party, error)
}

// Trail reads and verifies the tamper-evident ledger.
type Trail interface {
	GetTrail(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, cursor string, limit int) (*auditmodels.Trail, error)
	VerifyChain(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (bool, string, error)
	ValidateCompleteness(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, required []auditmodels.Requirement) error
}

// Service issues certificates of completion.
type Service struct {
	envelopes Envelopes
	trail     Trail
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger for issuance events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a certificate service.
func New(envelopes Envelopes, trail Trail, opts ...Option) *Service {
	s := &Service{
		envelopes: envelopes,
		trail:     trail,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue assembles the certificate for a completed envelope. The trail is
// verified and checked for completeness first; issuance never mutates
// anything, so the same envelope always yields the same evidence digest.
func (s *Service) Issue(ctx context.Context, envelopeID id.EnvelopeID) (*models.Certificate, error) {
	start := time.Now()
	defer s.metrics.ObserveAssembly(start)

	envelope, err := s.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := envelope.AssertCertifiable(); err != nil {
		s.metrics.IncrementRefused(metrics.RefusalState)
		return nil, err
	}

	parties, err := s.envelopes.ListParties(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	valid, detail, err := s.trail.VerifyChain(ctx, envelope.TenantID, envelope.ID)
	if err != nil {
		return nil, err
	}
	if !valid {
		s.metrics.IncrementRefused(metrics.RefusalChain)
		s.logger.WarnContext(ctx, "certificate refused, chain verification failed",
			"envelope_id", envelope.ID, "detail", detail)
		return nil, dErrors.New(dErrors.CodeAuditIntegrity, "certificate refused: audit chain verification failed").
			WithMeta("envelope_id", envelope.ID.String()).
			WithMeta("detail", detail)
	}

	var signed []id.PartyID
	for _, p := range parties {
		if p.Status == partymodels.StatusSigned {
			signed = append(signed, p.ID)
		}
	}
	if err := s.trail.ValidateCompleteness(ctx, envelope.TenantID, envelope.ID, auditmodels.CertificateRequirements(signed)); err != nil {
		if dErrors.HasCode(err, dErrors.CodeAuditIntegrity) {
			s.metrics.IncrementRefused(metrics.RefusalIncomplete)
			s.logger.WarnContext(ctx, "certificate refused, trail incomplete",
				"envelope_id", envelope.ID, "error", err)
		}
		return nil, err
	}

	events, err := s.collectEvents(ctx, envelope.TenantID, envelope.ID)
	if err != nil {
		return nil, err
	}

	evidence := models.Evidence{
		Envelope: models.SummarizeEnvelope(envelope),
		Signers:  make([]models.SignerRecord, 0, len(parties)),
		Events:   events,
		Chain: models.ChainAttestation{
			Valid:      true,
			Detail:     detail,
			EventCount: len(events),
		},
	}
	for _, p := range parties {
		evidence.Signers = append(evidence.Signers, models.RecordSigner(p))
	}

	digest, err := canonical.Digest(evidence)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to digest certificate evidence")
	}

	s.metrics.IncrementIssued()
	s.logger.InfoContext(ctx, "certificate issued",
		"envelope_id", envelope.ID, "events", len(events), "digest", digest)

	return &models.Certificate{
		Version:     models.FormatVersion,
		GeneratedAt: requestcontext.Now(ctx),
		Digest:      digest,
		Evidence:    evidence,
	}, nil
}

// collectEvents pages through the whole trail in chain order.
func (s *Service) collectEvents(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) ([]models.EventRecord, error) {
	var out []models.EventRecord
	cursor := ""
	for {
		page, err := s.trail.GetTrail(ctx, tenantID, envelopeID, cursor, trailPageLimit)
		if err != nil {
			return nil, err
		}
		for _, e := range page.Entries {
			out = append(out, models.RecordEvent(e))
		}
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
