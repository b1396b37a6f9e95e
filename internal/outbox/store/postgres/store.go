package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"signet/internal/outbox/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
	txcontext "signet/pkg/platform/tx"
)

// Store persists outbox records in the outbox table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL outbox store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// execer routes statements through the ambient transaction when one is
// carried by the context. Staging must share the command's transaction so
// the record commits or rolls back with the state change it announces.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Stage inserts the records as pending.
func (s *Store) Stage(ctx context.Context, records ...*models.Record) error {
	query := `
		INSERT INTO outbox (
			id, tenant_id, envelope_id, event_type, payload,
			occurred_at, status, attempts, last_error, trace_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, r := range records {
		_, err := s.execer(ctx).ExecContext(ctx, query,
			r.ID,
			uuid.UUID(r.TenantID),
			uuid.UUID(r.EnvelopeID),
			r.EventType,
			[]byte(r.Payload),
			r.OccurredAt,
			string(r.Status),
			r.Attempts,
			r.LastError,
			r.TraceID,
			r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert outbox record: %w", err)
		}
	}
	return nil
}

// ListDispatchable returns pending records plus failed records that have not
// exhausted their attempts, oldest first. Both arms are served by the
// partial indexes on (occurred_at, id).
func (s *Store) ListDispatchable(ctx context.Context, maxAttempts int, limit int) ([]models.Record, error) {
	query := selectRecord + `
		WHERE status = 'pending' OR (status = 'failed' AND attempts < $1)
		ORDER BY occurred_at, id
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatchable records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListFailed returns failed records regardless of attempts, oldest first.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]models.Record, error) {
	query := selectRecord + `
		WHERE status = 'failed'
		ORDER BY occurred_at, id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MarkDispatched moves a record to dispatched. Dispatched is terminal, so
// the update only touches records still pending or failed; a record already
// dispatched by a concurrent relay is reported as sentinel.ErrConflict.
func (s *Store) MarkDispatched(ctx context.Context, recordID uuid.UUID) error {
	query := `
		UPDATE outbox
		SET status = 'dispatched', last_error = ''
		WHERE id = $1 AND status IN ('pending', 'failed')
	`
	res, err := s.db.ExecContext(ctx, query, recordID)
	if err != nil {
		return fmt.Errorf("mark record dispatched: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark record dispatched: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// MarkFailed moves a record to failed and counts the attempt.
func (s *Store) MarkFailed(ctx context.Context, recordID uuid.UUID, lastError string) error {
	query := `
		UPDATE outbox
		SET status = 'failed', attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND status IN ('pending', 'failed')
	`
	res, err := s.db.ExecContext(ctx, query, recordID, lastError)
	if err != nil {
		return fmt.Errorf("mark record failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark record failed: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

const selectRecord = `
	SELECT id, tenant_id, envelope_id, event_type, payload,
		   occurred_at, status, attempts, last_error, trace_id, created_at
	FROM outbox
`

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	var records []models.Record

	for rows.Next() {
		var (
			r          models.Record
			tenantID   uuid.UUID
			envelopeID uuid.UUID
			status     string
			payload    []byte
		)
		err := rows.Scan(
			&r.ID,
			&tenantID,
			&envelopeID,
			&r.EventType,
			&payload,
			&r.OccurredAt,
			&status,
			&r.Attempts,
			&r.LastError,
			&r.TraceID,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		r.TenantID = id.TenantID(tenantID)
		r.EnvelopeID = id.EnvelopeID(envelopeID)
		r.Status = models.Status(status)
		r.Payload = payload
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}

	return records, nil
}
