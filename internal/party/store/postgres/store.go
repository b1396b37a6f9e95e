package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"signet/internal/party/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
	txcontext "signet/pkg/platform/tx"
)

// Store persists signer records in the parties table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL party store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer routes statements through the ambient transaction when one is
// carried by the context, so signer updates commit with the envelope
// command that caused them.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Add inserts a new signer.
func (s *Store) Add(ctx context.Context, party *models.Party) error {
	query := `
		INSERT INTO parties (
			id, tenant_id, envelope_id, email, full_name, is_external,
			order_index, status, signed_at, declined_at, decline_reason,
			consent_given, consent_at, document_hash, signature_hash,
			kms_key_id, algorithm, ip_address, user_agent, access_code_hash,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(party.ID),
		uuid.UUID(party.TenantID),
		uuid.UUID(party.EnvelopeID),
		party.Email,
		party.FullName,
		party.IsExternal,
		party.OrderIndex,
		string(party.Status),
		nullTime(party.SignedAt),
		nullTime(party.DeclinedAt),
		party.DeclineReason,
		party.ConsentGiven,
		nullTime(party.ConsentAt),
		party.DocumentHash,
		party.SignatureHash,
		party.KMSKeyID,
		party.Algorithm,
		party.IPAddress,
		party.UserAgent,
		party.AccessCodeHash,
		party.CreatedAt,
		party.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert party: %w", err)
	}
	return nil
}

// Get loads one signer by id within the tenant and envelope.
func (s *Store) Get(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, partyID id.PartyID) (*models.Party, error) {
	query := selectParty + `
		WHERE tenant_id = $1 AND envelope_id = $2 AND id = $3
	`
	row := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(tenantID), uuid.UUID(envelopeID), uuid.UUID(partyID))

	party, err := scanParty(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query party: %w", err)
	}
	return party, nil
}

// Update rewrites the signer's mutable fields.
func (s *Store) Update(ctx context.Context, party *models.Party) error {
	query := `
		UPDATE parties
		SET status = $4, signed_at = $5, declined_at = $6, decline_reason = $7,
			consent_given = $8, consent_at = $9, document_hash = $10,
			signature_hash = $11, kms_key_id = $12, algorithm = $13,
			ip_address = $14, user_agent = $15, updated_at = $16
		WHERE tenant_id = $1 AND envelope_id = $2 AND id = $3
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(party.TenantID),
		uuid.UUID(party.EnvelopeID),
		uuid.UUID(party.ID),
		string(party.Status),
		nullTime(party.SignedAt),
		nullTime(party.DeclinedAt),
		party.DeclineReason,
		party.ConsentGiven,
		nullTime(party.ConsentAt),
		party.DocumentHash,
		party.SignatureHash,
		party.KMSKeyID,
		party.Algorithm,
		party.IPAddress,
		party.UserAgent,
		party.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update party: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update party: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// MarkInvited flips the listed signers from pending to invited in one
// statement.
func (s *Store) MarkInvited(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, partyIDs []id.PartyID, invitedAt time.Time) error {
	if len(partyIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(partyIDs))
	for _, partyID := range partyIDs {
		ids = append(ids, partyID.String())
	}

	query := `
		UPDATE parties
		SET status = 'invited', updated_at = $4
		WHERE tenant_id = $1 AND envelope_id = $2 AND id = ANY($3::uuid[])
			AND status = 'pending'
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(tenantID), uuid.UUID(envelopeID), pq.Array(ids), invitedAt)
	if err != nil {
		return fmt.Errorf("mark parties invited: %w", err)
	}
	return nil
}

// ListPage returns up to limit signers with id greater than afterID, in id
// order. Pass the zero PartyID to start from the beginning.
func (s *Store) ListPage(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, afterID id.PartyID, limit int) ([]models.Party, error) {
	query := selectParty + `
		WHERE tenant_id = $1 AND envelope_id = $2 AND id > $3
		ORDER BY id
		LIMIT $4
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query,
		uuid.UUID(tenantID), uuid.UUID(envelopeID), uuid.UUID(afterID), limit)
	if err != nil {
		return nil, fmt.Errorf("query parties: %w", err)
	}
	defer rows.Close()

	var parties []models.Party
	for rows.Next() {
		party, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		parties = append(parties, *party)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parties: %w", err)
	}
	return parties, nil
}

const selectParty = `
	SELECT id, tenant_id, envelope_id, email, full_name, is_external,
		   order_index, status, signed_at, declined_at, decline_reason,
		   consent_given, consent_at, document_hash, signature_hash,
		   kms_key_id, algorithm, ip_address, user_agent, access_code_hash,
		   created_at, updated_at
	FROM parties
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParty(row rowScanner) (*models.Party, error) {
	var (
		party      models.Party
		partyID    uuid.UUID
		tenantID   uuid.UUID
		envelopeID uuid.UUID
		status     string
		signedAt   sql.NullTime
		declinedAt sql.NullTime
		consentAt  sql.NullTime
	)
	err := row.Scan(
		&partyID,
		&tenantID,
		&envelopeID,
		&party.Email,
		&party.FullName,
		&party.IsExternal,
		&party.OrderIndex,
		&status,
		&signedAt,
		&declinedAt,
		&party.DeclineReason,
		&party.ConsentGiven,
		&consentAt,
		&party.DocumentHash,
		&party.SignatureHash,
		&party.KMSKeyID,
		&party.Algorithm,
		&party.IPAddress,
		&party.UserAgent,
		&party.AccessCodeHash,
		&party.CreatedAt,
		&party.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	party.ID = id.PartyID(partyID)
	party.TenantID = id.TenantID(tenantID)
	party.EnvelopeID = id.EnvelopeID(envelopeID)
	party.Status = models.Status(status)
	if signedAt.Valid {
		party.SignedAt = &signedAt.Time
	}
	if declinedAt.Valid {
		party.DeclinedAt = &declinedAt.Time
	}
	if consentAt.Valid {
		party.ConsentAt = &consentAt.Time
	}
	return &party, nil
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
