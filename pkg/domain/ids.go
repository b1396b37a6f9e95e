// Package domain defines typed identifiers and shared value types.
//
// Every aggregate gets its own UUID-backed ID type so tenant, envelope, and
// party identifiers cannot be swapped at a call site. Construct IDs from
// external input via the Parse functions; direct casting bypasses validation
// and is reserved for trusted internal call sites (uuid.New()).
package domain

import (
	"github.com/google/uuid"

	dErrors "signet/pkg/domain-errors"
)

// TenantID identifies an isolated customer account. It never changes for the
// lifetime of any record that carries it.
type TenantID uuid.UUID

// UserID identifies an authenticated platform user (an envelope owner).
type UserID uuid.UUID

// EnvelopeID identifies one envelope within a tenant.
type EnvelopeID uuid.UUID

// PartyID identifies one signer, scoped to a single envelope.
type PartyID uuid.UUID

// DocumentID identifies a document attached to an envelope.
type DocumentID uuid.UUID

// EventID identifies an audit event.
type EventID uuid.UUID

func (id TenantID) String() string   { return uuid.UUID(id).String() }
func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id EnvelopeID) String() string { return uuid.UUID(id).String() }
func (id PartyID) String() string    { return uuid.UUID(id).String() }
func (id DocumentID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EnvelopeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PartyID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. All Parse functions funnel through here so every ID type
// rejects the same inputs.
func parseUUID(raw, field string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", field)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must be a valid UUID", field)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", field)
	}
	return parsed, nil
}

// ParseTenantID constructs a TenantID from external input.
func ParseTenantID(raw string) (TenantID, error) {
	parsed, err := parseUUID(raw, "tenant_id")
	return TenantID(parsed), err
}

// ParseUserID constructs a UserID from external input.
func ParseUserID(raw string) (UserID, error) {
	parsed, err := parseUUID(raw, "user_id")
	return UserID(parsed), err
}

// ParseEnvelopeID constructs an EnvelopeID from external input.
func ParseEnvelopeID(raw string) (EnvelopeID, error) {
	parsed, err := parseUUID(raw, "envelope_id")
	return EnvelopeID(parsed), err
}

// ParsePartyID constructs a PartyID from external input.
func ParsePartyID(raw string) (PartyID, error) {
	parsed, err := parseUUID(raw, "party_id")
	return PartyID(parsed), err
}

// ParseDocumentID constructs a DocumentID from external input.
func ParseDocumentID(raw string) (DocumentID, error) {
	parsed, err := parseUUID(raw, "document_id")
	return DocumentID(parsed), err
}

// ParseEventID constructs an EventID from external input.
func ParseEventID(raw string) (EventID, error) {
	parsed, err := parseUUID(raw, "event_id")
	return EventID(parsed), err
}
