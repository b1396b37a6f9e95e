// Package service implements the envelope lifecycle commands.
//
// Every state-changing command runs inside one transaction that writes
// the envelope row, the audit ledger entry, and the outbox record
// together, so no observer can see a transition without its evidence.
// Completion is the one exception: the signature that finishes an
// envelope commits first, and the completed transition runs as its own
// follow-up transaction gated on ledger completeness and integrity. A
// failed gate then leaves a signed, in-progress envelope rather than
// rolling back the signature itself.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	auditmodels "signet/internal/audit/models"
	"signet/internal/envelope/metrics"
	"signet/internal/envelope/models"
	outboxmodels "signet/internal/outbox/models"
	partymodels "signet/internal/party/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/platform/tx"
	"signet/pkg/requestcontext"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store persists envelopes. Update applies only when the stored version
// matches the envelope's, returning sentinel.ErrConflict otherwise, so
// concurrent commands cannot both win.
type Store interface {
	Create(ctx context.Context, envelope *models.Envelope) error
	Get(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (*models.Envelope, error)
	Update(ctx context.Context, envelope *models.Envelope) error
	Delete(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) error
	List(ctx context.Context, tenantID id.TenantID, status models.Status, limit int) ([]models.Envelope, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Envelope, error)
}

// Parties is the envelope's view of signer management.
type Parties interface {
	Add(ctx context.Context, party *partymodels.Party) error
	Get(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) (*partymodels.Party, error)
	List(ctx context.Context, envelopeID id.EnvelopeID) ([]partymodels.Party, error)
	InviteAll(ctx context.Context, envelopeID id.EnvelopeID) ([]partymodels.Party, error)
	GiveConsent(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) (*partymodels.Party, error)
	MarkSigned(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, sig partymodels.Signature) (*partymodels.Party, error)
	MarkDeclined(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, reason string) (*partymodels.Party, error)
	AssertTurn(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) error
	AreAllDeclined(ctx context.Context, envelopeID id.EnvelopeID, excludePartyID id.PartyID) (bool, error)
	Progress(ctx context.Context, envelopeID id.EnvelopeID) (partymodels.Progress, error)
}

// Auditor appends to and validates the tamper-evident ledger.
type Auditor interface {
	Record(ctx context.Context, c auditmodels.Candidate) (*auditmodels.Event, error)
	ValidateCompleteness(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, required []auditmodels.Requirement) error
	ValidateIntegrity(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) error
}

// Outbox stages domain events for publication after commit.
type Outbox interface {
	Stage(ctx context.Context, records ...*outboxmodels.Record) error
}

// TenantGuard blocks state-changing commands for suspended tenants.
type TenantGuard interface {
	AssertActive(ctx context.Context, tenantID id.TenantID) error
}

// Service orchestrates the envelope lifecycle.
type Service struct {
	store   Store
	parties Parties
	auditor Auditor
	outbox  Outbox
	runner  tx.Runner
	tenants TenantGuard
	policy  models.DeclinePolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTenantGuard wires the tenant status check into every command.
func WithTenantGuard(g TenantGuard) Option {
	return func(s *Service) { s.tenants = g }
}

// WithDeclinePolicy selects what a single signer's decline does to the
// envelope. The default keeps the envelope open for the remaining
// signers and only declines it once every signer has declined.
func WithDeclinePolicy(p models.DeclinePolicy) Option {
	return func(s *Service) {
		if p.Valid() {
			s.policy = p
		}
	}
}

// New creates an envelope service. A nil runner degrades to running
// each command without an ambient transaction.
func New(store Store, parties Parties, auditor Auditor, outbox Outbox, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:   store,
		parties: parties,
		auditor: auditor,
		outbox:  outbox,
		runner:  runner,
		policy:  models.DeclineContinues,
		logger:  slog.Default(),
	}
	if s.runner == nil {
		s.runner = tx.NopRunner{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries the caller-supplied fields for a new envelope.
type CreateInput struct {
	Title        string
	Description  string
	SigningOrder models.SigningOrder
	Origin       models.Origin
	ExpiresAt    *time.Time
}

// Create opens a new draft envelope for the tenant in context.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Envelope, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required")
	}
	if err := s.assertTenantActive(ctx, tenantID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if input.SigningOrder == "" {
		input.SigningOrder = models.SigningOrderSequential
	}
	if input.Origin == "" {
		input.Origin = models.OriginUpload
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "expiry must be in the future")
	}

	envelope := &models.Envelope{
		ID:           id.EnvelopeID(uuid.New()),
		TenantID:     tenantID,
		Title:        input.Title,
		Description:  input.Description,
		Status:       models.StatusDraft,
		SigningOrder: input.SigningOrder,
		Origin:       input.Origin,
		Version:      1,
		ExpiresAt:    input.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		envelope.CreatedBy = &userID
	}
	envelope.Normalize()
	if err := envelope.Validate(); err != nil {
		return nil, err
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, envelope); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "create envelope")
		}
		if err := s.record(ctx, envelope, auditmodels.EventEnvelopeCreated, actorFromContext(ctx), map[string]any{
			"title":         envelope.Title,
			"origin":        string(envelope.Origin),
			"signing_order": string(envelope.SigningOrder),
		}); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "envelope.created", map[string]any{
			"envelope_id":   envelope.ID.String(),
			"title":         envelope.Title,
			"origin":        string(envelope.Origin),
			"signing_order": string(envelope.SigningOrder),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCreated(string(envelope.Origin))
	s.logger.InfoContext(ctx, "envelope created",
		"envelope_id", envelope.ID,
		"tenant_id", envelope.TenantID,
		"signing_order", envelope.SigningOrder)
	return envelope, nil
}

// Get returns one envelope scoped to the tenant in context.
func (s *Service) Get(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	return s.load(ctx, envelopeID)
}

// List returns the tenant's envelopes, newest first. An empty status
// matches all statuses.
func (s *Service) List(ctx context.Context, status models.Status, limit int) ([]models.Envelope, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	envelopes, err := s.store.List(ctx, tenantID, status, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list envelopes")
	}
	return envelopes, nil
}

// AttachDocument records the source document reference on a draft. The
// reference is immutable once set.
func (s *Service) AttachDocument(ctx context.Context, envelopeID id.EnvelopeID, key, hash string) (*models.Envelope, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return nil, err
	}
	if err := envelope.AssertUploadAllowed("attach_document"); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if err := envelope.AttachSource(key, hash, now); err != nil {
		return nil, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.update(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventDocumentAttached, actorFromContext(ctx), map[string]any{
			"source_key":  envelope.SourceKey,
			"source_hash": envelope.SourceHash,
		}); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "document.attached", map[string]any{
			"envelope_id": envelope.ID.String(),
			"source_key":  envelope.SourceKey,
			"source_hash": envelope.SourceHash,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "document attached", "envelope_id", envelope.ID, "source_key", envelope.SourceKey)
	return envelope, nil
}

// AttachRendition records a worker-produced rendition reference. The
// flattened render may land any time after send; the sealed output only
// once the envelope is completed. References are immutable once set.
func (s *Service) AttachRendition(ctx context.Context, envelopeID id.EnvelopeID, kind models.RenditionKind, key, hash string) (*models.Envelope, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if err := envelope.AttachRendition(kind, key, hash, now); err != nil {
		return nil, err
	}

	meta := map[string]any{
		"rendition": string(kind),
		"key":       key,
	}
	if hash != "" {
		meta["hash"] = hash
	}
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.update(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventDocumentAttached, actorFromContext(ctx), meta); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "document.rendition_attached", map[string]any{
			"envelope_id": envelope.ID.String(),
			"rendition":   string(kind),
			"key":         key,
			"hash":        hash,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "rendition attached", "envelope_id", envelope.ID, "rendition", kind, "key", key)
	return envelope, nil
}

// AddPartyInput carries the caller-supplied fields for a new signer.
type AddPartyInput struct {
	Email      string
	FullName   string
	OrderIndex int
	IsExternal bool
	AccessCode string
}

// AddParty attaches a signer to a draft envelope. Emails are unique per
// envelope.
func (s *Service) AddParty(ctx context.Context, envelopeID id.EnvelopeID, input AddPartyInput) (*partymodels.Party, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return nil, err
	}
	if err := envelope.AssertDraft("add_party"); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	existing, err := s.parties.List(ctx, envelope.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if p.Email == email {
			return nil, dErrors.New(dErrors.CodeConflict, "a party with this email already exists").
				WithMeta("email", email)
		}
	}

	party := &partymodels.Party{
		ID:         id.PartyID(uuid.New()),
		TenantID:   envelope.TenantID,
		EnvelopeID: envelope.ID,
		Email:      input.Email,
		FullName:   input.FullName,
		OrderIndex: input.OrderIndex,
		IsExternal: input.IsExternal,
	}
	if input.AccessCode != "" {
		if err := party.SetAccessCode(input.AccessCode); err != nil {
			return nil, err
		}
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.parties.Add(ctx, party); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventSignerAdded, actorFromContext(ctx), map[string]any{
			"party_id":    party.ID.String(),
			"email":       party.Email,
			"order_index": party.OrderIndex,
		}); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "signer.added", map[string]any{
			"envelope_id": envelope.ID.String(),
			"party_id":    party.ID.String(),
			"email":       party.Email,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "signer added", "envelope_id", envelope.ID, "party_id", party.ID)
	return party, nil
}

// ListParties returns the envelope's signers. Loading the envelope
// first keeps not-found semantics consistent with Get.
func (s *Service) ListParties(ctx context.Context, envelopeID id.EnvelopeID) ([]partymodels.Party, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	return s.parties.List(ctx, envelope.ID)
}

// Send moves a draft to sent: every signer is invited in one step and
// the envelope becomes immutable except for lifecycle transitions. It
// requires a source document and at least one signer.
func (s *Service) Send(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return nil, err
	}
	if err := s.assertOwner(ctx, envelope, "send"); err != nil {
		return nil, err
	}
	if err := envelope.AssertSendable(); err != nil {
		return nil, err
	}
	if !envelope.HasDocument() {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot send an envelope without a document")
	}
	roster, err := s.parties.List(ctx, envelope.ID)
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot send an envelope without signers")
	}

	now := requestcontext.Now(ctx)
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		invited, err := s.parties.InviteAll(ctx, envelope.ID)
		if err != nil {
			return err
		}
		if err := envelope.ApplySent(now); err != nil {
			return err
		}
		if err := s.update(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventEnvelopeSent, actorFromContext(ctx), map[string]any{
			"signer_count": len(invited),
		}); err != nil {
			return err
		}
		if err := s.stage(ctx, envelope, "envelope.sent", map[string]any{
			"envelope_id":  envelope.ID.String(),
			"signer_count": len(invited),
		}); err != nil {
			return err
		}
		for _, p := range invited {
			if err := s.record(ctx, envelope, auditmodels.EventSignerInvited, auditmodels.Actor{PartyID: p.ID.String(), Email: p.Email}, map[string]any{
				"party_id": p.ID.String(),
			}); err != nil {
				return err
			}
			if err := s.stage(ctx, envelope, "signer.invited", map[string]any{
				"envelope_id": envelope.ID.String(),
				"party_id":    p.ID.String(),
				"email":       p.Email,
				"order_index": p.OrderIndex,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementTransition(string(models.StatusSent))
	s.logger.InfoContext(ctx, "envelope sent", "envelope_id", envelope.ID, "signer_count", len(roster))
	return envelope, nil
}

// GiveConsent records a signer's agreement to sign electronically.
func (s *Service) GiveConsent(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) (*partymodels.Party, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return nil, err
	}
	if err := envelope.AssertSigningOpen("give_consent"); err != nil {
		return nil, err
	}

	var party *partymodels.Party
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		party, err = s.parties.GiveConsent(ctx, envelope.ID, partyID)
		if err != nil {
			return err
		}
		return s.record(ctx, envelope, auditmodels.EventConsentGiven, s.partyActor(ctx, party), map[string]any{
			"party_id": party.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return party, nil
}

// Sign records a signer's signature. On sequential envelopes the signer
// must be next in line. When the last outstanding signer signs, the
// service attempts completion as a separate step; a completion failure
// leaves the envelope in progress with the signature intact.
func (s *Service) Sign(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, sig partymodels.Signature) (*models.Envelope, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return nil, err
	}
	if err := envelope.AssertSigningOpen("sign"); err != nil {
		return nil, err
	}
	if envelope.SigningOrder == models.SigningOrderSequential {
		if err := s.parties.AssertTurn(ctx, envelope.ID, partyID); err != nil {
			return nil, err
		}
	}

	var party *partymodels.Party
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		party, err = s.parties.MarkSigned(ctx, envelope.ID, partyID, sig)
		if err != nil {
			return err
		}
		if err := s.ensureInProgress(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventSignerSigned, s.partyActor(ctx, party), map[string]any{
			"party_id":       party.ID.String(),
			"document_hash":  sig.DocumentHash,
			"signature_hash": sig.SignatureHash,
		}); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "signer.signed", map[string]any{
			"envelope_id": envelope.ID.String(),
			"party_id":    party.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "signer signed", "envelope_id", envelope.ID, "party_id", partyID)

	progress, err := s.parties.Progress(ctx, envelope.ID)
	if err != nil {
		return nil, err
	}
	if progress.Outstanding == 0 && progress.Signed > 0 {
		if err := s.complete(ctx, envelope); err != nil {
			return nil, err
		}
	}
	return envelope, nil
}

// Decline records a signer's refusal. What happens to the envelope
// depends on the decline policy: under DeclineBlocks the envelope is
// declined immediately; under DeclineContinues it keeps collecting the
// remaining signers and only settles once every signer has resolved.
func (s *Service) Decline(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, reason string) (*models.Envelope, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return nil, err
	}
	if err := envelope.AssertSigningOpen("decline"); err != nil {
		return nil, err
	}
	if envelope.SigningOrder == models.SigningOrderSequential {
		if err := s.parties.AssertTurn(ctx, envelope.ID, partyID); err != nil {
			return nil, err
		}
	}

	var party *partymodels.Party
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		party, err = s.parties.MarkDeclined(ctx, envelope.ID, partyID, reason)
		if err != nil {
			return err
		}
		if err := s.ensureInProgress(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventSignerDeclined, s.partyActor(ctx, party), map[string]any{
			"party_id": party.ID.String(),
			"reason":   reason,
		}); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "signer.declined", map[string]any{
			"envelope_id": envelope.ID.String(),
			"party_id":    party.ID.String(),
			"reason":      reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "signer declined", "envelope_id", envelope.ID, "party_id", partyID)

	if s.policy == models.DeclineBlocks {
		if err := s.declineEnvelope(ctx, envelope, partyID, reason); err != nil {
			return nil, err
		}
		return envelope, nil
	}

	allDeclined, err := s.parties.AreAllDeclined(ctx, envelope.ID, partyID)
	if err != nil {
		return nil, err
	}
	if allDeclined {
		if err := s.declineEnvelope(ctx, envelope, partyID, reason); err != nil {
			return nil, err
		}
		return envelope, nil
	}

	progress, err := s.parties.Progress(ctx, envelope.ID)
	if err != nil {
		return nil, err
	}
	if progress.Outstanding == 0 && progress.Signed > 0 {
		if err := s.complete(ctx, envelope); err != nil {
			return nil, err
		}
	}
	return envelope, nil
}

// Cancel terminates the envelope at the owner's request. Allowed from
// any non-terminal status.
func (s *Service) Cancel(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return nil, err
	}
	if err := s.assertOwner(ctx, envelope, "cancel"); err != nil {
		return nil, err
	}
	if err := envelope.AssertCancellable(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := envelope.ApplyCancelled(now); err != nil {
			return err
		}
		if err := s.update(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventEnvelopeCancelled, actorFromContext(ctx), nil); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "envelope.cancelled", map[string]any{
			"envelope_id": envelope.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementTransition(string(models.StatusCancelled))
	s.logger.InfoContext(ctx, "envelope cancelled", "envelope_id", envelope.ID)
	return envelope, nil
}

// Delete removes a draft envelope and its signers. Anything past draft
// is immutable history and can only be cancelled.
func (s *Service) Delete(ctx context.Context, envelopeID id.EnvelopeID) error {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return err
	}
	if err := s.assertTenantActive(ctx, envelope.TenantID); err != nil {
		return err
	}
	if err := s.assertOwner(ctx, envelope, "delete"); err != nil {
		return err
	}
	if err := envelope.AssertDraft("delete"); err != nil {
		return err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, envelope.TenantID, envelope.ID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "envelope not found")
			}
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "delete envelope")
		}
		return s.stage(ctx, envelope, "envelope.deleted", map[string]any{
			"envelope_id": envelope.ID.String(),
		})
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "envelope deleted", "envelope_id", envelope.ID)
	return nil
}

// Expire terminates an envelope whose deadline has passed.
func (s *Service) Expire(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	envelope, err := s.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := envelope.AssertExpirable(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if !envelope.Expired(now) {
		err := dErrors.New(dErrors.CodeInvalidState, "envelope has not reached its expiry")
		if envelope.ExpiresAt != nil {
			err = err.WithMeta("expires_at", envelope.ExpiresAt.Format(time.RFC3339))
		}
		return nil, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := envelope.ApplyExpired(now); err != nil {
			return err
		}
		if err := s.update(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventEnvelopeExpired, auditmodels.Actor{}, map[string]any{
			"expired_at": now.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "envelope.expired", map[string]any{
			"envelope_id": envelope.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementTransition(string(models.StatusExpired))
	s.logger.InfoContext(ctx, "envelope expired", "envelope_id", envelope.ID)
	return envelope, nil
}

// ExpireDue expires every envelope whose deadline has passed, up to
// limit. Individual failures are logged and skipped so one bad envelope
// cannot stall the sweep.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	now := requestcontext.Now(ctx)
	due, err := s.store.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "list expired envelopes")
	}

	expired := 0
	for _, envelope := range due {
		scoped := requestcontext.WithTenantID(ctx, envelope.TenantID)
		if _, err := s.Expire(scoped, envelope.ID); err != nil {
			s.logger.WarnContext(ctx, "expiry sweep skipped envelope",
				"envelope_id", envelope.ID,
				"tenant_id", envelope.TenantID,
				"error", err)
			continue
		}
		expired++
		s.metrics.IncrementSwept()
	}
	return expired, nil
}

// complete finalizes an envelope once every signer has signed. Both
// ledger gates must pass first: the trail has to contain the full set
// of required events and the hash chain has to verify. A gate failure
// fails only this step, never the signature that triggered it.
func (s *Service) complete(ctx context.Context, envelope *models.Envelope) error {
	roster, err := s.parties.List(ctx, envelope.ID)
	if err != nil {
		return err
	}
	var signed []id.PartyID
	for _, p := range roster {
		if p.Status == partymodels.StatusSigned {
			signed = append(signed, p.ID)
		}
	}

	required := auditmodels.CompletionRequirements(signed)
	if err := s.auditor.ValidateCompleteness(ctx, envelope.TenantID, envelope.ID, required); err != nil {
		s.metrics.IncrementGateFailure()
		s.logger.WarnContext(ctx, "completion blocked: ledger incomplete", "envelope_id", envelope.ID, "error", err)
		return err
	}
	if err := s.auditor.ValidateIntegrity(ctx, envelope.TenantID, envelope.ID); err != nil {
		s.metrics.IncrementGateFailure()
		s.logger.WarnContext(ctx, "completion blocked: chain invalid", "envelope_id", envelope.ID, "error", err)
		return err
	}

	now := requestcontext.Now(ctx)
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := envelope.ApplyCompleted(now); err != nil {
			return err
		}
		if err := s.update(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventEnvelopeCompleted, actorFromContext(ctx), map[string]any{
			"signer_count": len(signed),
		}); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "envelope.completed", map[string]any{
			"envelope_id":  envelope.ID.String(),
			"completed_at": now.Format(time.RFC3339),
		})
	})
	if err != nil {
		// A concurrent command may have completed it first; absorb the
		// race by adopting the committed state.
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			fresh, gerr := s.store.Get(ctx, envelope.TenantID, envelope.ID)
			if gerr == nil && fresh.Status == models.StatusCompleted {
				*envelope = *fresh
				return nil
			}
		}
		return err
	}

	s.metrics.IncrementTransition(string(models.StatusCompleted))
	s.logger.InfoContext(ctx, "envelope completed", "envelope_id", envelope.ID, "signer_count", len(signed))
	return nil
}

// declineEnvelope settles the whole envelope as declined.
func (s *Service) declineEnvelope(ctx context.Context, envelope *models.Envelope, partyID id.PartyID, reason string) error {
	now := requestcontext.Now(ctx)
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := envelope.ApplyDeclined(now, partyID, reason); err != nil {
			return err
		}
		if err := s.update(ctx, envelope); err != nil {
			return err
		}
		if err := s.record(ctx, envelope, auditmodels.EventEnvelopeDeclined, actorFromContext(ctx), map[string]any{
			"party_id": partyID.String(),
			"reason":   reason,
		}); err != nil {
			return err
		}
		return s.stage(ctx, envelope, "envelope.declined", map[string]any{
			"envelope_id": envelope.ID.String(),
			"party_id":    partyID.String(),
			"reason":      reason,
		})
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			fresh, gerr := s.store.Get(ctx, envelope.TenantID, envelope.ID)
			if gerr == nil && fresh.Status == models.StatusDeclined {
				*envelope = *fresh
				return nil
			}
		}
		return err
	}

	s.metrics.IncrementTransition(string(models.StatusDeclined))
	s.logger.InfoContext(ctx, "envelope declined", "envelope_id", envelope.ID, "party_id", partyID)
	return nil
}

// ensureInProgress flips a sent envelope to in_progress on the first
// signer action. Losing the flip race to a concurrent first action is
// fine; the committed state is adopted instead.
func (s *Service) ensureInProgress(ctx context.Context, envelope *models.Envelope) error {
	if envelope.Status != models.StatusSent {
		return nil
	}
	now := requestcontext.Now(ctx)
	if err := envelope.ApplyInProgress(now); err != nil {
		return err
	}
	err := s.update(ctx, envelope)
	if err == nil {
		s.metrics.IncrementTransition(string(models.StatusInProgress))
		return nil
	}
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		fresh, gerr := s.store.Get(ctx, envelope.TenantID, envelope.ID)
		if gerr != nil {
			return dErrors.Wrap(gerr, dErrors.CodeUnavailable, "reload envelope")
		}
		if fresh.Status == models.StatusInProgress {
			*envelope = *fresh
			return nil
		}
		*envelope = *fresh
		return envelope.AssertSigningOpen("sign")
	}
	return err
}

// load fetches the envelope scoped to the tenant in context.
func (s *Service) load(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required")
	}
	envelope, err := s.store.Get(ctx, tenantID, envelopeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "envelope not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "get envelope")
	}
	return envelope, nil
}

// update persists the envelope, translating store failures into domain
// errors. A version conflict is surfaced as retryable.
func (s *Service) update(ctx context.Context, envelope *models.Envelope) error {
	err := s.store.Update(ctx, envelope)
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrConflict) {
		s.metrics.IncrementVersionConflict()
		return dErrors.New(dErrors.CodeConflict, "envelope was modified concurrently").
			WithMeta("envelope_id", envelope.ID.String())
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "envelope not found")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "update envelope")
}

// record appends one event to the audit ledger.
func (s *Service) record(ctx context.Context, envelope *models.Envelope, eventType auditmodels.EventType, actor auditmodels.Actor, metadata map[string]any) error {
	_, err := s.auditor.Record(ctx, auditmodels.Candidate{
		TenantID:   envelope.TenantID,
		EnvelopeID: envelope.ID,
		Type:       eventType,
		OccurredAt: requestcontext.Now(ctx),
		Actor:      actor,
		Metadata:   metadata,
	})
	return err
}

// stage queues one domain event on the outbox.
func (s *Service) stage(ctx context.Context, envelope *models.Envelope, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal event payload")
	}
	return s.outbox.Stage(ctx, &outboxmodels.Record{
		TenantID:   envelope.TenantID,
		EnvelopeID: envelope.ID,
		EventType:  eventType,
		Payload:    body,
		OccurredAt: requestcontext.Now(ctx),
	})
}

func (s *Service) assertTenantActive(ctx context.Context, tenantID id.TenantID) error {
	if s.tenants == nil {
		return nil
	}
	return s.tenants.AssertActive(ctx, tenantID)
}

// assertOwner restricts owner-only commands. Envelopes without a
// recorded creator are system-managed and skip the check.
func (s *Service) assertOwner(ctx context.Context, envelope *models.Envelope, operation string) error {
	if envelope.CreatedBy == nil {
		return nil
	}
	actor := requestcontext.UserID(ctx)
	if actor.IsNil() || actor != *envelope.CreatedBy {
		return dErrors.Newf(dErrors.CodeForbidden, "only the envelope owner may %s", operation).
			WithMeta("operation", operation)
	}
	return nil
}

// partyActor builds the audit actor for a signer action, preferring the
// acting party's identity and carrying the request's client metadata.
func (s *Service) partyActor(ctx context.Context, party *partymodels.Party) auditmodels.Actor {
	return auditmodels.Actor{
		PartyID:   party.ID.String(),
		Email:     party.Email,
		IPAddress: requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	}
}

// actorFromContext derives the audit actor from request identity. The
// ledger rejects actors carrying only client metadata, so without an
// identity the actor stays zero.
func actorFromContext(ctx context.Context) auditmodels.Actor {
	actor := auditmodels.Actor{Email: requestcontext.ActorEmail(ctx)}
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		actor.UserID = userID.String()
	}
	if partyID := requestcontext.PartyID(ctx); !partyID.IsNil() {
		actor.PartyID = partyID.String()
	}
	if actor.UserID == "" && actor.PartyID == "" && actor.Email == "" {
		return auditmodels.Actor{}
	}
	actor.IPAddress = requestcontext.ClientIP(ctx)
	actor.UserAgent = requestcontext.UserAgent(ctx)
	return actor
}
