// Package postgres implements the idempotency store on PostgreSQL.
//
// Unlike the lifecycle stores this one never routes through a context
// transaction: a reservation shields its key only once rivals can see
// it, so every write commits standalone against the pool.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signet/internal/idempotency/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

const selectRecord = `
SELECT key, tenant_id, status, result_code, result_body, created_at, expires_at
FROM idempotency_keys`

// Store persists idempotency records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a postgres-backed idempotency store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// PutInProgress inserts the reservation. Returns sentinel.ErrConflict
// when the key is already held.
func (s *Store) PutInProgress(ctx context.Context, record *models.Record) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, tenant_id, status, result_code, result_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO NOTHING`,
		record.Key,
		uuid.UUID(record.TenantID),
		string(record.Status),
		record.ResultCode,
		record.ResultBody,
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check insert result: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// Get returns the record for the key within the tenant.
func (s *Store) Get(ctx context.Context, tenantID id.TenantID, key string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE key = $1 AND tenant_id = $2`, key, uuid.UUID(tenantID))
	return scanRecord(row)
}

// Complete flips an in_progress record to completed with the response
// snapshot. Returns sentinel.ErrConflict when no in_progress record
// holds the key for the tenant.
func (s *Store) Complete(ctx context.Context, tenantID id.TenantID, key string, code int, body []byte) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = 'completed', result_code = $3, result_body = $4
		WHERE key = $1 AND tenant_id = $2 AND status = 'in_progress'`,
		key, uuid.UUID(tenantID), code, body,
	)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check complete result: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// Release removes the tenant's own in_progress reservation.
func (s *Store) Release(ctx context.Context, tenantID id.TenantID, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND tenant_id = $2 AND status = 'in_progress'`,
		key, uuid.UUID(tenantID),
	)
	if err != nil {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check release result: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// TakeOver removes a record whose retention window has passed. Returns
// sentinel.ErrConflict when the record is live or already gone.
func (s *Store) TakeOver(ctx context.Context, key string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND expires_at <= $2`,
		key, now,
	)
	if err != nil {
		return fmt.Errorf("take over idempotency record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check take over result: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// DeleteExpired removes up to limit expired records and reports how many
// went.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)`,
		now, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check delete result: %w", err)
	}
	return int(affected), nil
}

func scanRecord(row *sql.Row) (*models.Record, error) {
	var (
		r        models.Record
		tenantID uuid.UUID
		status   string
	)
	err := row.Scan(&r.Key, &tenantID, &status, &r.ResultCode, &r.ResultBody, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan idempotency record: %w", err)
	}
	r.TenantID = id.TenantID(tenantID)
	r.Status = models.Status(status)
	return &r, nil
}
