package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"signet/internal/party/metrics"
	"signet/internal/party/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

const defaultPageSize = 200

// Store persists signer records. ListPage pages by signer id keyset so
// aggregate scans never materialize an unbounded signer list.
type Store interface {
	Add(ctx context.Context, party *models.Party) error
	Get(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, partyID id.PartyID) (*models.Party, error)
	Update(ctx context.Context, party *models.Party) error
	MarkInvited(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, partyIDs []id.PartyID, invitedAt time.Time) error
	ListPage(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, afterID id.PartyID, limit int) ([]models.Party, error)
}

// Service evaluates signer progression for the envelope lifecycle: turn
// order, consent capture, terminal-state protection, and the cross-signer
// aggregate checks that decide what a sign or decline means for the
// envelope.
type Service struct {
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	pageSize int
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPageSize overrides the aggregate scan page size.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add persists a new signer in pending state.
func (s *Service) Add(ctx context.Context, party *models.Party) error {
	party.Normalize()
	if err := party.Validate(); err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	if party.ID.IsNil() {
		party.ID = id.PartyID(uuid.New())
	}
	if party.TenantID.IsNil() {
		party.TenantID = requestcontext.TenantID(ctx)
	}
	party.Status = models.StatusPending
	party.CreatedAt = now
	party.UpdatedAt = now

	if err := s.store.Add(ctx, party); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to add party")
	}
	s.metrics.IncrementAdded()
	return nil
}

// Get loads one signer within the caller's tenant.
func (s *Service) Get(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) (*models.Party, error) {
	party, err := s.store.Get(ctx, requestcontext.TenantID(ctx), envelopeID, partyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "party not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load party")
	}
	return party, nil
}

// List returns every signer of the envelope, paged internally.
func (s *Service) List(ctx context.Context, envelopeID id.EnvelopeID) ([]models.Party, error) {
	var parties []models.Party
	_, err := s.scanParties(ctx, envelopeID, func(p models.Party) bool {
		parties = append(parties, p)
		return true
	})
	if err != nil {
		return nil, err
	}
	return parties, nil
}

// InviteAll moves every pending signer to invited and returns them. Called
// when the envelope is sent.
func (s *Service) InviteAll(ctx context.Context, envelopeID id.EnvelopeID) ([]models.Party, error) {
	now := requestcontext.Now(ctx)

	var invited []models.Party
	_, err := s.scanParties(ctx, envelopeID, func(p models.Party) bool {
		if p.Status == models.StatusPending {
			invited = append(invited, p)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(invited) == 0 {
		return nil, nil
	}

	ids := make([]id.PartyID, 0, len(invited))
	for _, p := range invited {
		ids = append(ids, p.ID)
	}
	if err := s.store.MarkInvited(ctx, requestcontext.TenantID(ctx), envelopeID, ids, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to invite parties")
	}

	for i := range invited {
		invited[i].Status = models.StatusInvited
		invited[i].UpdatedAt = now
	}
	return invited, nil
}

// GiveConsent records the signer's consent to sign electronically. Repeat
// calls are idempotent; terminal signers conflict.
func (s *Service) GiveConsent(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) (*models.Party, error) {
	party, err := s.Get(ctx, envelopeID, partyID)
	if err != nil {
		return nil, err
	}
	if party.ConsentGiven {
		return party, nil
	}
	if party.Status.Terminal() {
		return nil, dErrors.Newf(dErrors.CodeConflict, "signer already %s", party.Status)
	}

	now := requestcontext.Now(ctx)
	party.ConsentGiven = true
	party.ConsentAt = &now
	party.UpdatedAt = now
	if err := s.store.Update(ctx, party); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to record consent")
	}
	s.metrics.IncrementConsents()
	return party, nil
}

// MarkSigned accepts a signature. The signer must be invited, have given
// consent, and not have acted already; the client network context rides
// along as evidence.
func (s *Service) MarkSigned(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, sig models.Signature) (*models.Party, error) {
	party, err := s.Get(ctx, envelopeID, partyID)
	if err != nil {
		return nil, err
	}
	if err := party.CanSign(); err != nil {
		return nil, err
	}

	party.IPAddress = requestcontext.ClientIP(ctx)
	party.UserAgent = requestcontext.UserAgent(ctx)
	party.ApplySigned(requestcontext.Now(ctx), sig)
	if err := s.store.Update(ctx, party); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to record signature")
	}
	s.metrics.IncrementSigned()
	return party, nil
}

// MarkDeclined records a decline with an optional reason.
func (s *Service) MarkDeclined(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, reason string) (*models.Party, error) {
	party, err := s.Get(ctx, envelopeID, partyID)
	if err != nil {
		return nil, err
	}
	if err := party.CanDecline(); err != nil {
		return nil, err
	}

	party.IPAddress = requestcontext.ClientIP(ctx)
	party.UserAgent = requestcontext.UserAgent(ctx)
	party.ApplyDeclined(requestcontext.Now(ctx), reason)
	if err := s.store.Update(ctx, party); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to record decline")
	}
	s.metrics.IncrementDeclined()
	return party, nil
}

// AssertTurn enforces strict signing order: a signer may only act once
// every lower-ordered signer has reached a terminal state. Declined
// predecessors do not block, otherwise one decline would freeze the rest of
// the envelope forever.
func (s *Service) AssertTurn(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) error {
	target, err := s.Get(ctx, envelopeID, partyID)
	if err != nil {
		return err
	}

	var blocker *models.Party
	_, err = s.scanParties(ctx, envelopeID, func(p models.Party) bool {
		if p.ID == target.ID {
			return true
		}
		if p.OrderIndex < target.OrderIndex && !p.Status.Terminal() {
			blocker = &p
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if blocker != nil {
		s.metrics.IncrementTurnViolations()
		return dErrors.New(dErrors.CodeInvalidState, "not this signer's turn").
			WithMeta("party_id", target.ID.String()).
			WithMeta("order_index", target.OrderIndex).
			WithMeta("waiting_on", blocker.ID.String())
	}
	return nil
}

// AreAllDeclined reports whether every signer other than excludePartyID has
// declined. It is a fail-fast existence check: the scan stops at the first
// counterexample instead of materializing the signer list, because this
// runs on every decline and envelopes may carry many signers.
func (s *Service) AreAllDeclined(ctx context.Context, envelopeID id.EnvelopeID, excludePartyID id.PartyID) (bool, error) {
	all := true
	pages, err := s.scanParties(ctx, envelopeID, func(p models.Party) bool {
		if p.ID == excludePartyID {
			return true
		}
		if p.Status != models.StatusDeclined {
			all = false
			return false
		}
		return true
	})
	if err != nil {
		return false, err
	}
	s.metrics.ObserveScanPages(pages)
	return all, nil
}

// Progress aggregates signer states for the envelope. Unlike
// AreAllDeclined this reads every page; callers use it to decide whether a
// sign or decline finished the envelope.
func (s *Service) Progress(ctx context.Context, envelopeID id.EnvelopeID) (models.Progress, error) {
	var progress models.Progress
	pages, err := s.scanParties(ctx, envelopeID, func(p models.Party) bool {
		progress.Total++
		switch p.Status {
		case models.StatusSigned:
			progress.Signed++
		case models.StatusDeclined:
			progress.Declined++
		}
		return true
	})
	if err != nil {
		return models.Progress{}, err
	}
	progress.Outstanding = progress.Total - progress.Signed - progress.Declined
	s.metrics.ObserveScanPages(pages)
	return progress, nil
}

// scanParties pages through the envelope's signers in id order, calling
// visit per signer until visit returns false or the pages run out. It
// returns how many pages were read.
func (s *Service) scanParties(ctx context.Context, envelopeID id.EnvelopeID, visit func(models.Party) bool) (int, error) {
	tenantID := requestcontext.TenantID(ctx)
	var after id.PartyID
	pages := 0
	for {
		page, err := s.store.ListPage(ctx, tenantID, envelopeID, after, s.pageSize)
		if err != nil {
			return pages, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list envelope parties")
		}
		if len(page) == 0 {
			return pages, nil
		}
		pages++
		for _, p := range page {
			if !visit(p) {
				return pages, nil
			}
		}
		if len(page) < s.pageSize {
			return pages, nil
		}
		after = page[len(page)-1].ID
	}
}
