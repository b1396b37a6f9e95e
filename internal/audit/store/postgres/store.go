package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"signet/internal/audit/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
	txcontext "signet/pkg/platform/tx"
)

// Store persists the audit chain in the audit_events table. The primary key
// (tenant_id, envelope_id, seq) makes every append a conditional write:
// exactly one writer wins a slot, losers get sentinel.ErrConflict.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// execer routes statements through the ambient transaction when one is
// carried by the context, so an append shares the command's transaction and
// Tail sees uncommitted predecessors.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts the event into its (tenant, envelope, seq) slot. A taken
// slot is reported as sentinel.ErrConflict so the caller can re-read the
// tail and retry; the stored chain is never overwritten.
func (s *Store) Append(ctx context.Context, event *models.Event) error {
	actorBytes, err := json.Marshal(event.Actor)
	if err != nil {
		return fmt.Errorf("marshal actor: %w", err)
	}
	var metadataBytes []byte
	if event.Metadata != nil {
		metadataBytes, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			id, tenant_id, envelope_id, seq, type, occurred_at,
			actor, metadata, prev_hash, hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, envelope_id, seq) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(event.ID),
		uuid.UUID(event.TenantID),
		uuid.UUID(event.EnvelopeID),
		int64(event.Seq),
		string(event.Type),
		event.OccurredAt,
		actorBytes,
		metadataBytes,
		event.PrevHash,
		event.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// Tail returns the highest-seq event for the envelope, or
// sentinel.ErrNotFound when the chain is empty.
func (s *Store) Tail(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (*models.Event, error) {
	query := selectEvent + `
		WHERE tenant_id = $1 AND envelope_id = $2
		ORDER BY seq DESC
		LIMIT 1
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(envelopeID))
	if err != nil {
		return nil, fmt.Errorf("query chain tail: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return &events[0], nil
}

// ListBySeq returns up to limit events with seq greater than afterSeq, in
// chain order.
func (s *Store) ListBySeq(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, afterSeq uint64, limit int) ([]models.Event, error) {
	query := selectEvent + `
		WHERE tenant_id = $1 AND envelope_id = $2 AND seq > $3
		ORDER BY seq ASC
		LIMIT $4
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query,
		uuid.UUID(tenantID), uuid.UUID(envelopeID), int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

const selectEvent = `
	SELECT id, tenant_id, envelope_id, seq, type, occurred_at,
		   actor, metadata, prev_hash, hash
	FROM audit_events
`

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var events []models.Event

	for rows.Next() {
		var (
			event         models.Event
			eventID       uuid.UUID
			tenantID      uuid.UUID
			envelopeID    uuid.UUID
			seq           int64
			eventType     string
			actorBytes    []byte
			metadataBytes []byte
		)

		err := rows.Scan(
			&eventID,
			&tenantID,
			&envelopeID,
			&seq,
			&eventType,
			&event.OccurredAt,
			&actorBytes,
			&metadataBytes,
			&event.PrevHash,
			&event.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.ID = id.EventID(eventID)
		event.TenantID = id.TenantID(tenantID)
		event.EnvelopeID = id.EnvelopeID(envelopeID)
		event.Seq = uint64(seq)
		event.Type = models.EventType(eventType)
		if len(actorBytes) > 0 {
			if err := json.Unmarshal(actorBytes, &event.Actor); err != nil {
				return nil, fmt.Errorf("unmarshal actor: %w", err)
			}
		}
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
