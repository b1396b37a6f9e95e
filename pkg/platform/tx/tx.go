// Package tx carries a SQL transaction through context so that stores touched
// by one command (envelope row, party rows, audit append, outbox stage) all
// join the same commit. Stores check From(ctx) and fall back to their own
// *sql.DB when no transaction is ambient.
package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "signet/pkg/domain-errors"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner executes fn inside one transaction boundary. The context passed to fn
// carries the transaction; commit happens only when fn returns nil.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const defaultTxTimeout = 5 * time.Second

// SQLRunner is the production Runner over a *sql.DB.
type SQLRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLRunner constructs a Runner with the default per-transaction timeout.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

// RunInTx begins a transaction, injects it into the context, and commits when
// fn succeeds. A context without a deadline gets the default timeout so a
// stuck statement cannot hold row locks indefinitely.
func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// NopRunner runs fn directly with no transaction. Memory stores are already
// atomic per call, so tests and the in-memory wiring use this.
type NopRunner struct{}

func (NopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
