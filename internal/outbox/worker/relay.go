// Package worker runs the outbox relay loop.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultInterval    = 2 * time.Second
	defaultBatchSize   = 50
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 30 * time.Second
)

// Dispatcher drains staged outbox records.
type Dispatcher interface {
	DispatchPending(ctx context.Context, maxBatch int) (int, error)
}

// Relay polls the outbox on a fixed interval and hands batches to the
// dispatcher. A failed cycle backs off exponentially instead of hammering a
// struggling store; the first healthy cycle resets the schedule.
type Relay struct {
	dispatcher  Dispatcher
	interval    time.Duration
	batchSize   int
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *slog.Logger
}

// Option configures the Relay.
type Option func(*Relay)

// WithInterval sets the poll interval between healthy cycles.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps how many records one cycle dispatches.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBackoff sets the retry schedule for failed cycles.
func WithBackoff(base, cap time.Duration) Option {
	return func(r *Relay) {
		if base > 0 {
			r.backoffBase = base
		}
		if cap > 0 {
			r.backoffCap = cap
		}
	}
}

// WithLogger sets a logger for cycle outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// New creates a relay around the dispatcher.
func New(dispatcher Dispatcher, opts ...Option) *Relay {
	r := &Relay{
		dispatcher:  dispatcher,
		interval:    defaultInterval,
		batchSize:   defaultBatchSize,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives dispatch cycles until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffBase
	bo.MaxInterval = r.backoffCap
	bo.MaxElapsedTime = 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		dispatched, err := r.dispatcher.DispatchPending(ctx, r.batchSize)
		if err != nil {
			wait := bo.NextBackOff()
			if r.logger != nil {
				r.logger.WarnContext(ctx, "outbox cycle failed",
					"error", err,
					"retry_in", wait,
				)
			}
			timer.Reset(wait)
			continue
		}

		bo.Reset()
		if dispatched > 0 && r.logger != nil {
			r.logger.DebugContext(ctx, "outbox cycle complete", "dispatched", dispatched)
		}
		timer.Reset(r.interval)
	}
}
