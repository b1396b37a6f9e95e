package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	auditservice "signet/internal/audit/service"
	auditmemory "signet/internal/audit/store/memory"
	envelopeservice "signet/internal/envelope/service"
	envelopememory "signet/internal/envelope/store/memory"
	outboxmodels "signet/internal/outbox/models"
	outboxservice "signet/internal/outbox/service"
	outboxmemory "signet/internal/outbox/store/memory"
	partyservice "signet/internal/party/service"
	partymemory "signet/internal/party/store/memory"
	"signet/internal/tenant/models"
	"signet/internal/tenant/service"
	"signet/internal/tenant/store/memory"
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

type TenantServiceSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.InMemoryStore
	svc   *service.Service
}

func TestTenantServiceSuite(t *testing.T) {
	suite.Run(t, new(TenantServiceSuite))
}

func (s *TenantServiceSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.svc = service.New(s.store)
	s.ctx = context.Background()
}

func (s *TenantServiceSuite) TestCreate() {
	s.Run("registers an active tenant", func() {
		tenant, err := s.svc.Create(s.ctx, "  Acme Corp  ")
		s.Require().NoError(err)
		s.Equal("Acme Corp", tenant.Name)
		s.Equal(models.TenantStatusActive, tenant.Status)

		found, err := s.svc.Get(s.ctx, tenant.ID)
		s.Require().NoError(err)
		s.Equal(tenant.ID, found.ID)
	})

	s.Run("enforces case-insensitive name uniqueness", func() {
		_, err := s.svc.Create(s.ctx, "Globex")
		s.Require().NoError(err)

		_, err = s.svc.Create(s.ctx, "GLOBEX")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects blank names", func() {
		_, err := s.svc.Create(s.ctx, "   ")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *TenantServiceSuite) TestLookup() {
	created, err := s.svc.Create(s.ctx, "Initech")
	s.Require().NoError(err)

	s.Run("finds by name regardless of case", func() {
		found, err := s.svc.GetByName(s.ctx, "initech")
		s.Require().NoError(err)
		s.Equal(created.ID, found.ID)
	})

	s.Run("reports unknown tenants", func() {
		_, err := s.svc.Get(s.ctx, id.TenantID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		_, err = s.svc.GetByName(s.ctx, "nobody")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("requires an id", func() {
		_, err := s.svc.Get(s.ctx, id.TenantID{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *TenantServiceSuite) TestStatusFlip() {
	tenant, err := s.svc.Create(s.ctx, "Umbrella")
	s.Require().NoError(err)

	s.Run("deactivates once", func() {
		suspended, err := s.svc.Deactivate(s.ctx, tenant.ID)
		s.Require().NoError(err)
		s.Equal(models.TenantStatusInactive, suspended.Status)

		_, err = s.svc.Deactivate(s.ctx, tenant.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("reactivates once", func() {
		restored, err := s.svc.Reactivate(s.ctx, tenant.ID)
		s.Require().NoError(err)
		s.Equal(models.TenantStatusActive, restored.Status)

		_, err = s.svc.Reactivate(s.ctx, tenant.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("reports unknown tenants", func() {
		_, err := s.svc.Deactivate(s.ctx, id.TenantID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *TenantServiceSuite) TestAssertActive() {
	tenant, err := s.svc.Create(s.ctx, "Wayne Enterprises")
	s.Require().NoError(err)

	s.Run("passes an active tenant", func() {
		s.Require().NoError(s.svc.AssertActive(s.ctx, tenant.ID))
	})

	s.Run("refuses a suspended tenant", func() {
		_, err := s.svc.Deactivate(s.ctx, tenant.ID)
		s.Require().NoError(err)

		err = s.svc.AssertActive(s.ctx, tenant.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Equal(tenant.ID.String(), dErrors.MetaOf(err)["tenant_id"])
	})

	s.Run("refuses an unregistered tenant", func() {
		err := s.svc.AssertActive(s.ctx, id.TenantID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("passes again after reactivation", func() {
		_, err := s.svc.Reactivate(s.ctx, tenant.ID)
		s.Require().NoError(err)
		s.Require().NoError(s.svc.AssertActive(s.ctx, tenant.ID))
	})
}

// TestGuardBlocksEnvelopeCommands wires the real registry into the
// envelope service and verifies deactivation suspends every command
// until reactivation.
func (s *TenantServiceSuite) TestGuardBlocksEnvelopeCommands() {
	tenant, err := s.svc.Create(s.ctx, "Acme Corp")
	s.Require().NoError(err)

	parties := partyservice.New(partymemory.NewInMemoryStore())
	audit := auditservice.New(auditmemory.NewInMemoryStore())
	outbox := outboxservice.New(outboxmemory.NewInMemoryStore(), ackPublisher{})
	envelopes := envelopeservice.New(envelopememory.NewInMemoryStore(), parties, audit, outbox, tx.NopRunner{},
		envelopeservice.WithTenantGuard(s.svc))

	ctx := requestcontext.WithTenantID(context.Background(), tenant.ID)
	ctx = requestcontext.WithUserID(ctx, id.UserID(uuid.New()))

	envelope, err := envelopes.Create(ctx, envelopeservice.CreateInput{Title: "NDA"})
	s.Require().NoError(err)

	_, err = s.svc.Deactivate(s.ctx, tenant.ID)
	s.Require().NoError(err)

	_, err = envelopes.Create(ctx, envelopeservice.CreateInput{Title: "Blocked"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = envelopes.AttachDocument(ctx, envelope.ID, "tenants/acme/nda.pdf", "sha256:abc")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.Reactivate(s.ctx, tenant.ID)
	s.Require().NoError(err)

	_, err = envelopes.AttachDocument(ctx, envelope.ID, "tenants/acme/nda.pdf", "sha256:abc")
	s.Require().NoError(err)
}
