package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signet/internal/envelope/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
	txcontext "signet/pkg/platform/tx"
)

// Store persists envelopes in the envelopes table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL envelope store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer routes statements through the ambient transaction when one is
// carried by the context, so the envelope row commits together with its
// ledger entry and outbox record.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const selectEnvelope = `
	SELECT id, tenant_id, title, description, status, signing_order,
	       origin, source_key, source_hash, flattened_key, signed_key,
	       signed_hash, version, created_by, declined_by_party,
	       declined_reason, sent_at, completed_at, cancelled_at,
	       declined_at, expires_at, created_at, updated_at
	FROM envelopes
`

// Create inserts a new envelope.
func (s *Store) Create(ctx context.Context, envelope *models.Envelope) error {
	query := `
		INSERT INTO envelopes (
			id, tenant_id, title, description, status, signing_order,
			origin, source_key, source_hash, flattened_key, signed_key,
			signed_hash, version, created_by, declined_by_party,
			declined_reason, sent_at, completed_at, cancelled_at,
			declined_at, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(envelope.ID),
		uuid.UUID(envelope.TenantID),
		envelope.Title,
		envelope.Description,
		string(envelope.Status),
		string(envelope.SigningOrder),
		string(envelope.Origin),
		envelope.SourceKey,
		envelope.SourceHash,
		envelope.FlattenedKey,
		envelope.SignedKey,
		envelope.SignedHash,
		envelope.Version,
		nullUserID(envelope.CreatedBy),
		nullPartyID(envelope.DeclinedByParty),
		envelope.DeclinedReason,
		nullTime(envelope.SentAt),
		nullTime(envelope.CompletedAt),
		nullTime(envelope.CancelledAt),
		nullTime(envelope.DeclinedAt),
		nullTime(envelope.ExpiresAt),
		envelope.CreatedAt,
		envelope.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

// Get returns one envelope scoped to the tenant.
func (s *Store) Get(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	query := selectEnvelope + ` WHERE tenant_id = $1 AND id = $2`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(envelopeID))
	envelope, err := scanEnvelope(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get envelope: %w", err)
	}
	return envelope, nil
}

// Update writes every mutable column, conditional on the version the
// caller read. A lost race leaves zero rows and reports ErrConflict; on
// success the envelope's version is advanced to the stored value.
func (s *Store) Update(ctx context.Context, envelope *models.Envelope) error {
	query := `
		UPDATE envelopes
		SET title = $4, description = $5, status = $6, source_key = $7,
		    source_hash = $8, flattened_key = $9, signed_key = $10,
		    signed_hash = $11, declined_by_party = $12,
		    declined_reason = $13, sent_at = $14, completed_at = $15,
		    cancelled_at = $16, declined_at = $17, expires_at = $18,
		    updated_at = $19, version = version + 1
		WHERE tenant_id = $1 AND id = $2 AND version = $3
	`
	result, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(envelope.TenantID),
		uuid.UUID(envelope.ID),
		envelope.Version,
		envelope.Title,
		envelope.Description,
		string(envelope.Status),
		envelope.SourceKey,
		envelope.SourceHash,
		envelope.FlattenedKey,
		envelope.SignedKey,
		envelope.SignedHash,
		nullPartyID(envelope.DeclinedByParty),
		envelope.DeclinedReason,
		nullTime(envelope.SentAt),
		nullTime(envelope.CompletedAt),
		nullTime(envelope.CancelledAt),
		nullTime(envelope.DeclinedAt),
		nullTime(envelope.ExpiresAt),
		envelope.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	if affected == 0 {
		exists, err := s.exists(ctx, envelope.TenantID, envelope.ID)
		if err != nil {
			return err
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	envelope.Version++
	return nil
}

// Delete removes the envelope and its signer rows.
func (s *Store) Delete(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) error {
	ex := s.execer(ctx)
	// Signer rows reference the envelope and must go first.
	_, err := ex.ExecContext(ctx,
		`DELETE FROM parties WHERE tenant_id = $1 AND envelope_id = $2`,
		uuid.UUID(tenantID), uuid.UUID(envelopeID))
	if err != nil {
		return fmt.Errorf("delete envelope parties: %w", err)
	}
	result, err := ex.ExecContext(ctx,
		`DELETE FROM envelopes WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(envelopeID))
	if err != nil {
		return fmt.Errorf("delete envelope: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete envelope: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// List returns the tenant's envelopes newest first. An empty status
// matches all statuses.
func (s *Store) List(ctx context.Context, tenantID id.TenantID, status models.Status, limit int) ([]models.Envelope, error) {
	query := selectEnvelope + ` WHERE tenant_id = $1`
	args := []any{uuid.UUID(tenantID)}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// ListExpired returns live envelopes whose deadline has passed, oldest
// deadline first, across all tenants. The expiry sweep drives it.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Envelope, error) {
	query := selectEnvelope + `
		WHERE expires_at IS NOT NULL
		  AND expires_at <= $1
		  AND status IN ('sent', 'in_progress')
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired envelopes: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (s *Store) exists(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (bool, error) {
	var found bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT true FROM envelopes WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(envelopeID)).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check envelope: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*models.Envelope, error) {
	var (
		envelope     models.Envelope
		envelopeID   uuid.UUID
		tenantID     uuid.UUID
		status       string
		signingOrder string
		origin       string
		createdBy    uuid.NullUUID
		declinedBy   uuid.NullUUID
		sentAt       sql.NullTime
		completedAt  sql.NullTime
		cancelledAt  sql.NullTime
		declinedAt   sql.NullTime
		expiresAt    sql.NullTime
	)
	err := row.Scan(
		&envelopeID,
		&tenantID,
		&envelope.Title,
		&envelope.Description,
		&status,
		&signingOrder,
		&origin,
		&envelope.SourceKey,
		&envelope.SourceHash,
		&envelope.FlattenedKey,
		&envelope.SignedKey,
		&envelope.SignedHash,
		&envelope.Version,
		&createdBy,
		&declinedBy,
		&envelope.DeclinedReason,
		&sentAt,
		&completedAt,
		&cancelledAt,
		&declinedAt,
		&expiresAt,
		&envelope.CreatedAt,
		&envelope.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	envelope.ID = id.EnvelopeID(envelopeID)
	envelope.TenantID = id.TenantID(tenantID)
	envelope.Status = models.Status(status)
	envelope.SigningOrder = models.SigningOrder(signingOrder)
	envelope.Origin = models.Origin(origin)
	if createdBy.Valid {
		userID := id.UserID(createdBy.UUID)
		envelope.CreatedBy = &userID
	}
	if declinedBy.Valid {
		partyID := id.PartyID(declinedBy.UUID)
		envelope.DeclinedByParty = &partyID
	}
	envelope.SentAt = timePtr(sentAt)
	envelope.CompletedAt = timePtr(completedAt)
	envelope.CancelledAt = timePtr(cancelledAt)
	envelope.DeclinedAt = timePtr(declinedAt)
	envelope.ExpiresAt = timePtr(expiresAt)
	return &envelope, nil
}

func scanEnvelopes(rows *sql.Rows) ([]models.Envelope, error) {
	var envelopes []models.Envelope
	for rows.Next() {
		envelope, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		envelopes = append(envelopes, *envelope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return envelopes, nil
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullUserID(value *id.UserID) uuid.NullUUID {
	if value == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*value), Valid: true}
}

func nullPartyID(value *id.PartyID) uuid.NullUUID {
	if value == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*value), Valid: true}
}
