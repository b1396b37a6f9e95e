// Package service implements the idempotency guard. Mutating commands
// run through Guard.Do under a caller-derived key: the first request
// reserves the key and executes, retries and at-least-once duplicates
// get the recorded response back instead of a second effect.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"signet/internal/idempotency/metrics"
	"signet/internal/idempotency/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

// Store persists idempotency records. Reservations never join a caller
// transaction: a reservation only shields its key once rivals can see it,
// so every operation commits standalone.
type Store interface {
	// PutInProgress inserts the reservation, or sentinel.ErrConflict
	// when the key is already held.
	PutInProgress(ctx context.Context, record *models.Record) error

	Get(ctx context.Context, tenantID id.TenantID, key string) (*models.Record, error)

	// Complete flips an in_progress record to completed with the
	// response snapshot, or sentinel.ErrConflict when no in_progress
	// record holds the key.
	Complete(ctx context.Context, tenantID id.TenantID, key string, code int, body []byte) error

	// Release removes the caller's own in_progress reservation, or
	// sentinel.ErrNotFound when none is held.
	Release(ctx context.Context, tenantID id.TenantID, key string) error

	// TakeOver removes a record whose retention window has passed, or
	// sentinel.ErrConflict when the record is live or already gone.
	TakeOver(ctx context.Context, key string, now time.Time) error

	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// Result is the response snapshot recorded for replay.
type Result struct {
	Code int
	Body []byte
}

const (
	defaultTTL          = 24 * time.Hour
	defaultWaitInterval = 50 * time.Millisecond
	defaultWaitBudget   = 2 * time.Second
	defaultReapLimit    = 500

	// reserveAttempts bounds the insert contest after an expired record
	// is taken over.
	reserveAttempts = 3
)

// Guard gives retried commands at most one effect per key.
type Guard struct {
	store        Store
	ttl          time.Duration
	waitInterval time.Duration
	waitBudget   time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures the guard.
type Option func(*Guard)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithTTL overrides how long a record shields its key.
func WithTTL(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// WithWaitInterval overrides the poll interval while a rival holds the key.
func WithWaitInterval(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.waitInterval = d
		}
	}
}

// WithWaitBudget overrides how long a duplicate waits for the winner's
// result before giving up.
func WithWaitBudget(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.waitBudget = d
		}
	}
}

// New creates an idempotency guard.
func New(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:        store,
		ttl:          defaultTTL,
		waitInterval: defaultWaitInterval,
		waitBudget:   defaultWaitBudget,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs fn at most once per key. The first caller reserves the key and
// executes; duplicates wait for the recorded response and return it with
// the winner's code and body. A failed execution releases the key so the
// client's own retry runs fresh.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) (Result, error)) (Result, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return Result{}, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required")
	}
	now := requestcontext.Now(ctx)
	record := &models.Record{
		Key:       key,
		TenantID:  tenantID,
		Status:    models.StatusInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	if err := record.Validate(); err != nil {
		return Result{}, err
	}

	for range reserveAttempts {
		err := g.store.PutInProgress(ctx, record)
		if err == nil {
			return g.execute(ctx, record, fn)
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to reserve idempotency key")
		}

		existing, err := g.store.Get(ctx, tenantID, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			// The holder vanished between insert and read.
			continue
		}
		if err != nil {
			return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read idempotency record")
		}
		if existing.Expired(now) {
			if err := g.store.TakeOver(ctx, key, now); err != nil && !errors.Is(err, sentinel.ErrConflict) {
				return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to clear expired idempotency record")
			}
			// Cleared, or a rival cleared it first; contest the insert again.
			continue
		}
		return g.await(ctx, tenantID, key)
	}
	return Result{}, dErrors.New(dErrors.CodeConflict, "idempotency key is contested").WithMeta("key", key)
}

// Reap removes expired records in one bounded batch. Meant for the
// periodic maintenance sweep.
func (g *Guard) Reap(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultReapLimit
	}
	n, err := g.store.DeleteExpired(ctx, requestcontext.Now(ctx), limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to reap expired idempotency records")
	}
	if n > 0 {
		g.logger.InfoContext(ctx, "reaped expired idempotency records", "count", n)
	}
	g.metrics.AddReaped(n)
	return n, nil
}

func (g *Guard) execute(ctx context.Context, record *models.Record, fn func(ctx context.Context) (Result, error)) (Result, error) {
	res, err := fn(ctx)
	if err != nil {
		if relErr := g.store.Release(ctx, record.TenantID, record.Key); relErr != nil && !errors.Is(relErr, sentinel.ErrNotFound) {
			g.logger.ErrorContext(ctx, "failed to release idempotency key", "key", record.Key, "error", relErr)
		}
		return Result{}, err
	}
	if err := g.store.Complete(ctx, record.TenantID, record.Key, res.Code, res.Body); err != nil {
		// The effect already committed; only replay for this key is degraded.
		g.logger.ErrorContext(ctx, "failed to record idempotency result", "key", record.Key, "error", err)
	}
	g.metrics.IncrementExecutions()
	return res, nil
}

func (g *Guard) await(ctx context.Context, tenantID id.TenantID, key string) (Result, error) {
	deadline := time.Now().Add(g.waitBudget)
	ticker := time.NewTicker(g.waitInterval)
	defer ticker.Stop()

	for {
		record, err := g.store.Get(ctx, tenantID, key)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			// The holder failed and released the key; this duplicate
			// cannot know the outcome, the client has to retry.
			return Result{}, dErrors.New(dErrors.CodeConflict, "concurrent request with this idempotency key failed, retry")
		case err != nil:
			return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read idempotency record")
		case record.Status == models.StatusCompleted:
			g.metrics.IncrementReplays()
			return Result{Code: record.ResultCode, Body: record.ResultBody}, nil
		}

		if !time.Now().Before(deadline) {
			g.metrics.IncrementWaitTimeouts()
			return Result{}, dErrors.New(dErrors.CodeTimeout, "timed out waiting for a concurrent request with this idempotency key")
		}
		select {
		case <-ctx.Done():
			return Result{}, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "cancelled while waiting for a concurrent request")
		case <-ticker.C:
		}
	}
}
