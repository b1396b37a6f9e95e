package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"signet/internal/audit/metrics"
	"signet/internal/audit/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

const (
	// maxAppendRetries bounds how often an append re-reads the tail after
	// losing a sequence-slot race to a concurrent writer.
	maxAppendRetries = 3

	defaultTrailLimit = 100
	maxTrailLimit     = 500

	// verifyPageSize is the internal page size for full-chain replays.
	verifyPageSize = 200
)

var errChainBroken = errors.New("chain broken")

// Store persists audit events. Append must refuse to overwrite an existing
// (tenant, envelope, seq) slot and return sentinel.ErrConflict when the slot
// is already taken, so concurrent appends resolve to exactly one winner per
// slot. Tail returns sentinel.ErrNotFound for an envelope with no events.
type Store interface {
	Append(ctx context.Context, event *models.Event) error
	Tail(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (*models.Event, error)
	ListBySeq(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, afterSeq uint64, limit int) ([]models.Event, error)
}

// Service maintains the per-envelope hash chain: it assigns each event its
// slot and predecessor link, persists it append-only, and answers trail and
// compliance queries by replaying the stored chain.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
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

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record validates the candidate, links it to the chain tail, and appends it.
// A zero OccurredAt takes the request time. Losing a slot race to a
// concurrent writer triggers a bounded re-read-and-retry; persistence
// failures are surfaced as retryable infrastructure errors and never corrupt
// the chain.
func (s *Service) Record(ctx context.Context, c models.Candidate) (*models.Event, error) {
	start := time.Now()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.OccurredAt.IsZero() {
		c.OccurredAt = requestcontext.Now(ctx)
	}
	// timestamptz keeps microsecond precision; normalize up front so a
	// recomputed hash still matches after a storage round trip.
	c.OccurredAt = c.OccurredAt.UTC().Truncate(time.Microsecond)

	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		seq := uint64(1)
		prevHash := ""
		tail, err := s.store.Tail(ctx, c.TenantID, c.EnvelopeID)
		switch {
		case err == nil:
			seq = tail.Seq + 1
			prevHash = tail.Hash
		case errors.Is(err, sentinel.ErrNotFound):
			// First event for this envelope; the chain starts unanchored.
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read audit chain tail")
		}

		event := models.Event{
			ID:         id.EventID(uuid.New()),
			TenantID:   c.TenantID,
			EnvelopeID: c.EnvelopeID,
			Seq:        seq,
			Type:       c.Type,
			OccurredAt: c.OccurredAt,
			Actor:      c.Actor,
			Metadata:   c.Metadata,
			PrevHash:   prevHash,
		}
		event.Hash, err = models.ComputeHash(event)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute event hash")
		}

		if err := s.store.Append(ctx, &event); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				s.metrics.IncrementConflict()
				if s.logger != nil {
					s.logger.DebugContext(ctx, "audit append lost slot race, retrying",
						"envelope_id", c.EnvelopeID, "seq", seq, "attempt", attempt+1)
				}
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to append audit event")
		}

		if err := assertChainLink(event, prevHash); err != nil {
			return nil, err
		}
		if err := assertImmutable(event); err != nil {
			return nil, err
		}

		s.metrics.IncrementRecorded(string(event.Type))
		s.metrics.ObserveRecordLatency(time.Since(start))
		return &event, nil
	}

	return nil, dErrors.New(dErrors.CodeConflict, "audit append contention persisted across retries").
		WithMeta("envelope_id", c.EnvelopeID.String())
}

// assertChainLink re-checks the persisted event's predecessor link: the first
// event carries no prev hash, every later one carries the prior tail's hash.
func assertChainLink(e models.Event, tailHash string) error {
	if e.Seq == 1 && e.PrevHash != "" {
		return dErrors.New(dErrors.CodeAuditIntegrity, "first event must not reference a predecessor")
	}
	if e.Seq > 1 && e.PrevHash != tailHash {
		return dErrors.Newf(dErrors.CodeAuditIntegrity, "event at seq %d does not link to chain tail", e.Seq)
	}
	return nil
}

// assertImmutable re-checks that the persisted event carries every field the
// chain depends on.
func assertImmutable(e models.Event) error {
	if e.ID.IsNil() || e.Hash == "" || e.OccurredAt.IsZero() || e.Type == "" {
		return dErrors.New(dErrors.CodeAuditIntegrity, "persisted event is missing required fields")
	}
	return nil
}

// GetTrail returns one page of the envelope's events in chain order, along
// with a ChainValid flag computed by replaying the entire stored chain.
func (s *Service) GetTrail(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, cursor string, limit int) (*models.Trail, error) {
	afterSeq := uint64(0)
	if cursor != "" {
		var err error
		afterSeq, err = decodeCursor(cursor)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid cursor")
		}
	}
	if limit <= 0 {
		limit = defaultTrailLimit
	}
	if limit > maxTrailLimit {
		limit = maxTrailLimit
	}

	entries, err := s.store.ListBySeq(ctx, tenantID, envelopeID, afterSeq, limit+1)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list audit events")
	}
	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	chainValid, detail, err := s.replayChain(ctx, tenantID, envelopeID)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementVerification(chainValid)
	if !chainValid && s.logger != nil {
		s.logger.WarnContext(ctx, "audit chain verification failed",
			"envelope_id", envelopeID, "detail", detail)
	}

	trail := &models.Trail{Entries: entries, ChainValid: chainValid}
	if hasMore {
		trail.NextCursor = encodeCursor(entries[len(entries)-1].Seq)
	}
	return trail, nil
}

// VerifyChain replays the envelope's full chain and reports whether every
// stored hash is reproduced, with a human-readable detail either way.
func (s *Service) VerifyChain(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (bool, string, error) {
	valid, detail, err := s.replayChain(ctx, tenantID, envelopeID)
	if err != nil {
		return false, "", err
	}
	s.metrics.IncrementVerification(valid)
	return valid, detail, nil
}

func (s *Service) replayChain(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (bool, string, error) {
	var verifier models.ChainVerifier
	var detail string
	err := s.forEachEvent(ctx, tenantID, envelopeID, func(e models.Event) error {
		if cerr := verifier.Check(e); cerr != nil {
			detail = cerr.Error()
			return errChainBroken
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errChainBroken) {
			return false, detail, nil
		}
		return false, "", err
	}
	return true, fmt.Sprintf("chain verified: %d events", verifier.Count()), nil
}

// ValidateCompleteness checks the trail against the required event set and
// fails with the missing event types named when any requirement is
// undischarged. The failure blocks the operation that asked, it is never
// advisory.
func (s *Service) ValidateCompleteness(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, required []models.Requirement) error {
	satisfied := make([]bool, len(required))
	err := s.forEachEvent(ctx, tenantID, envelopeID, func(e models.Event) error {
		for i, req := range required {
			if !satisfied[i] && req.Satisfies(e) {
				satisfied[i] = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var missing []string
	seen := make(map[string]bool)
	for i, req := range required {
		if satisfied[i] {
			continue
		}
		name := string(req.Type)
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return dErrors.Newf(dErrors.CodeAuditIntegrity, "audit trail incomplete: missing %s", strings.Join(missing, ", ")).
			WithMeta("missing", missing).
			WithMeta("envelope_id", envelopeID.String())
	}
	return nil
}

// ValidateIntegrity fails fast on the first malformed event: empty identity,
// zero timestamp, empty type, or a timestamp in the future relative to the
// request time.
func (s *Service) ValidateIntegrity(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) error {
	now := requestcontext.Now(ctx)
	return s.forEachEvent(ctx, tenantID, envelopeID, func(e models.Event) error {
		if e.ID.IsNil() {
			return dErrors.Newf(dErrors.CodeAuditIntegrity, "event at seq %d is missing an id", e.Seq)
		}
		if e.OccurredAt.IsZero() {
			return dErrors.Newf(dErrors.CodeAuditIntegrity, "event at seq %d is missing a timestamp", e.Seq)
		}
		if e.Type == "" {
			return dErrors.Newf(dErrors.CodeAuditIntegrity, "event at seq %d is missing a type", e.Seq)
		}
		if e.OccurredAt.After(now) {
			return dErrors.Newf(dErrors.CodeAuditIntegrity, "event at seq %d has a timestamp in the future", e.Seq)
		}
		return nil
	})
}

// forEachEvent streams the envelope's events in seq order through fn, paging
// internally so the whole trail is never materialized at once.
func (s *Service) forEachEvent(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, fn func(models.Event) error) error {
	after := uint64(0)
	for {
		page, err := s.store.ListBySeq(ctx, tenantID, envelopeID, after, verifyPageSize)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list audit events")
		}
		for _, e := range page {
			if err := fn(e); err != nil {
				return err
			}
		}
		if len(page) < verifyPageSize {
			return nil
		}
		after = page[len(page)-1].Seq
	}
}

func encodeCursor(seq uint64) string {
	return base64.RawURLEncoding.EncodeToString([]byte("seq:" + strconv.FormatUint(seq, 10)))
}

func decodeCursor(cursor string) (uint64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("cursor is not base64: %w", err)
	}
	rest, ok := strings.CutPrefix(string(raw), "seq:")
	if !ok {
		return 0, fmt.Errorf("cursor %q has no seq prefix", string(raw))
	}
	seq, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cursor seq is not a number: %w", err)
	}
	return seq, nil
}
