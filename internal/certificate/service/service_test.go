package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	auditmodels "signet/internal/audit/models"
	auditservice "signet/internal/audit/service"
	auditmemory "signet/internal/audit/store/memory"
	"signet/internal/certificate/service"
	envelopeservice "signet/internal/envelope/service"
	envelopememory "signet/internal/envelope/store/memory"
	outboxmodels "signet/internal/outbox/models"
	outboxservice "signet/internal/outbox/service"
	outboxmemory "signet/internal/outbox/store/memory"
	partymodels "signet/internal/party/models"
	partyservice "signet/internal/party/service"
	partymemory "signet/internal/party/store/memory"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/tx"
	"signet/pkg/requestcontext"
)

type ackPublisher struct{}

func (ackPublisher) Publish(_ context.Context, events []outboxmodels.BusEvent) []outboxmodels.PublishResult {
	out := make([]outboxmodels.PublishResult, len(events))
	for i, e := range events {
		out[i] = outboxmodels.PublishResult{ID: e.ID}
	}
	return out
}

// flakyTrail delegates to the real audit service unless a failure is
// injected.
type flakyTrail struct {
	*auditservice.Service
	chainBroken     bool
	chainDetail     string
	completenessErr error
}

func (f *flakyTrail) VerifyChain(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (bool, string, error) {
	if f.chainBroken {
		return false, f.chainDetail, nil
	}
	return f.Service.VerifyChain(ctx, tenantID, envelopeID)
}

func (f *flakyTrail) ValidateCompleteness(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, required []auditmodels.Requirement) error {
	if f.completenessErr != nil {
		return f.completenessErr
	}
	return f.Service.ValidateCompleteness(ctx, tenantID, envelopeID, required)
}

type CertificateServiceSuite struct {
	suite.Suite

	ctx      context.Context
	now      time.Time
	tenantID id.TenantID

	audit     *auditservice.Service
	envelopes *envelopeservice.Service
	svc       *service.Service
}

func TestCertificateServiceSuite(t *testing.T) {
	suite.Run(t, new(CertificateServiceSuite))
}

func (s *CertificateServiceSuite) SetupTest() {
	parties := partyservice.New(partymemory.NewInMemoryStore())
	s.audit = auditservice.New(auditmemory.NewInMemoryStore())
	outbox := outboxservice.New(outboxmemory.NewInMemoryStore(), ackPublisher{})
	s.envelopes = envelopeservice.New(envelopememory.NewInMemoryStore(), parties, s.audit, outbox, tx.NopRunner{})
	s.svc = service.New(s.envelopes, s.audit)

	s.tenantID = id.TenantID(uuid.New())
	s.now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTenantID(context.Background(), s.tenantID)
	ctx = requestcontext.WithUserID(ctx, id.UserID(uuid.New()))
	s.ctx = requestcontext.WithTime(ctx, s.now)
}

func (s *CertificateServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(s.ctx, t)
}

// sentEnvelope builds a sequential envelope with the given signer emails
// and sends it.
func (s *CertificateServiceSuite) sentEnvelope(emails ...string) (id.EnvelopeID, []id.PartyID) {
	envelope, err := s.envelopes.Create(s.ctx, envelopeservice.CreateInput{Title: "Framework Agreement"})
	s.Require().NoError(err)
	_, err = s.envelopes.AttachDocument(s.ctx, envelope.ID, "tenants/acme/source.pdf", "sha256:f00d")
	s.Require().NoError(err)

	partyIDs := make([]id.PartyID, 0, len(emails))
	for i, email := range emails {
		party, err := s.envelopes.AddParty(s.ctx, envelope.ID, envelopeservice.AddPartyInput{Email: email, OrderIndex: i + 1})
		s.Require().NoError(err)
		partyIDs = append(partyIDs, party.ID)
	}
	_, err = s.envelopes.Send(s.ctx, envelope.ID)
	s.Require().NoError(err)
	return envelope.ID, partyIDs
}

// completedEnvelope walks every signer through consent and signature.
func (s *CertificateServiceSuite) completedEnvelope(emails ...string) (id.EnvelopeID, []id.PartyID) {
	envelopeID, partyIDs := s.sentEnvelope(emails...)
	for _, partyID := range partyIDs {
		_, err := s.envelopes.GiveConsent(s.ctx, envelopeID, partyID)
		s.Require().NoError(err)
		_, err = s.envelopes.Sign(s.ctx, envelopeID, partyID, partymodels.Signature{DocumentHash: "sha256:f00d"})
		s.Require().NoError(err)
	}
	return envelopeID, partyIDs
}

func (s *CertificateServiceSuite) TestIssue() {
	envelopeID, partyIDs := s.completedEnvelope("first@acme.test", "second@acme.test")

	cert, err := s.svc.Issue(s.ctx, envelopeID)
	s.Require().NoError(err)

	s.Equal("1", cert.Version)
	s.True(cert.GeneratedAt.Equal(s.now))
	s.True(strings.HasPrefix(cert.Digest, "sha256:"))

	env := cert.Evidence.Envelope
	s.Equal(envelopeID.String(), env.ID)
	s.Equal("Framework Agreement", env.Title)
	s.Equal("completed", env.Status)
	s.Equal("sha256:f00d", env.SourceHash)
	s.Require().NotNil(env.CompletedAt)

	s.Require().Len(cert.Evidence.Signers, 2)
	for i, signer := range cert.Evidence.Signers {
		s.Equal(partyIDs[i].String(), signer.PartyID)
		s.Equal("signed", signer.Status)
		s.Equal("sha256:f00d", signer.DocumentHash)
		s.NotNil(signer.ConsentAt)
		s.NotNil(signer.SignedAt)
	}

	events := cert.Evidence.Events
	s.Require().Len(events, 12)
	s.Equal("envelope.created", events[0].Type)
	s.Equal("envelope.completed", events[len(events)-1].Type)
	for _, e := range events {
		s.True(strings.HasPrefix(e.Hash, "sha256:"))
	}

	s.True(cert.Evidence.Chain.Valid)
	s.Equal(12, cert.Evidence.Chain.EventCount)
	s.Contains(cert.Evidence.Chain.Detail, "12 events")
}

func (s *CertificateServiceSuite) TestDigestIsReproducible() {
	envelopeID, _ := s.completedEnvelope("signer@acme.test")

	first, err := s.svc.Issue(s.ctx, envelopeID)
	s.Require().NoError(err)
	second, err := s.svc.Issue(s.at(s.now.Add(48*time.Hour)), envelopeID)
	s.Require().NoError(err)

	s.Equal(first.Digest, second.Digest)
	s.False(first.GeneratedAt.Equal(second.GeneratedAt))
}

func (s *CertificateServiceSuite) TestRefusals() {
	s.Run("unfinished envelope", func() {
		envelopeID, _ := s.sentEnvelope("signer@acme.test")
		_, err := s.svc.Issue(s.ctx, envelopeID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("unknown envelope", func() {
		_, err := s.svc.Issue(s.ctx, id.EnvelopeID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("foreign tenant sees nothing", func() {
		envelopeID, _ := s.completedEnvelope("signer@acme.test")
		foreign := requestcontext.WithTenantID(context.Background(), id.TenantID(uuid.New()))
		_, err := s.svc.Issue(foreign, envelopeID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CertificateServiceSuite) TestRefusesBrokenChain() {
	envelopeID, _ := s.completedEnvelope("signer@acme.test")

	trail := &flakyTrail{
		Service:     s.audit,
		chainBroken: true,
		chainDetail: "event at seq 3 does not link to chain tail",
	}
	svc := service.New(s.envelopes, trail)

	_, err := svc.Issue(s.ctx, envelopeID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuditIntegrity))
	s.Contains(err.Error(), "chain verification failed")
	s.Equal("event at seq 3 does not link to chain tail", dErrors.MetaOf(err)["detail"])
}

func (s *CertificateServiceSuite) TestRefusesIncompleteTrail() {
	envelopeID, _ := s.completedEnvelope("signer@acme.test")

	trail := &flakyTrail{
		Service:         s.audit,
		completenessErr: dErrors.New(dErrors.CodeAuditIntegrity, "audit trail incomplete: missing envelope.completed"),
	}
	svc := service.New(s.envelopes, trail)

	_, err := svc.Issue(s.ctx, envelopeID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuditIntegrity))
	s.Contains(err.Error(), "incomplete")
}
