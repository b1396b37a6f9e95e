// Package models defines the audit event, its closed type set, and the
// hash-chain rules that make the trail tamper evident.
package models

import (
	"time"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/canonical"
)

// EventType is the closed set of legally significant actions recorded on an
// envelope trail. Anything outside this set is rejected at Record time.
type EventType string

const (
	EventEnvelopeCreated    EventType = "envelope.created"
	EventEnvelopeSent       EventType = "envelope.sent"
	EventEnvelopeCompleted  EventType = "envelope.completed"
	EventEnvelopeCancelled  EventType = "envelope.cancelled"
	EventEnvelopeDeclined   EventType = "envelope.declined"
	EventEnvelopeExpired    EventType = "envelope.expired"
	EventSignerAdded        EventType = "signer.added"
	EventSignerInvited      EventType = "signer.invited"
	EventSignerSigned       EventType = "signer.signed"
	EventSignerDeclined     EventType = "signer.declined"
	EventConsentGiven       EventType = "consent.given"
	EventDocumentAttached   EventType = "document.attached"
	EventDocumentAccessed   EventType = "document.accessed"
	EventDocumentDownloaded EventType = "document.downloaded"
)

// validEventTypes is the single source of truth for recognized event types.
var validEventTypes = map[EventType]bool{
	EventEnvelopeCreated:    true,
	EventEnvelopeSent:       true,
	EventEnvelopeCompleted:  true,
	EventEnvelopeCancelled:  true,
	EventEnvelopeDeclined:   true,
	EventEnvelopeExpired:    true,
	EventSignerAdded:        true,
	EventSignerInvited:      true,
	EventSignerSigned:       true,
	EventSignerDeclined:     true,
	EventConsentGiven:       true,
	EventDocumentAttached:   true,
	EventDocumentAccessed:   true,
	EventDocumentDownloaded: true,
}

// ParseEventType constructs an EventType from external input.
func ParseEventType(s string) (EventType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "event type cannot be empty")
	}
	t := EventType(s)
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unrecognized event type %q", s)
	}
	return t, nil
}

// IsValid checks membership in the closed event type set.
func (t EventType) IsValid() bool {
	return validEventTypes[t]
}

func (t EventType) String() string {
	return string(t)
}

// Field length bounds for actor snapshots. IP bound covers IPv6 text form.
const (
	maxActorFieldLen = 320
	maxActorIPLen    = 45
	maxUserAgentLen  = 512
)

// Actor is the snapshot of who caused an event, captured at command time.
// Stored denormalized on the event so the trail stays evidentially complete
// even if the user or party record later changes.
type Actor struct {
	UserID    string `json:"user_id,omitempty"`
	PartyID   string `json:"party_id,omitempty"`
	Email     string `json:"email,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// IsZero reports whether no actor information is present.
func (a Actor) IsZero() bool {
	return a == Actor{}
}

// Validate enforces the actor shape: at least one identifying field when the
// actor is present at all, and bounded string lengths throughout.
func (a Actor) Validate() error {
	if a.IsZero() {
		return nil
	}
	if a.UserID == "" && a.PartyID == "" && a.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "actor must carry a user id, party id, or email")
	}
	if len(a.UserID) > maxActorFieldLen || len(a.PartyID) > maxActorFieldLen || len(a.Email) > maxActorFieldLen {
		return dErrors.New(dErrors.CodeValidation, "actor identity field exceeds length bound")
	}
	if len(a.IPAddress) > maxActorIPLen {
		return dErrors.New(dErrors.CodeValidation, "actor ip address exceeds length bound")
	}
	if len(a.UserAgent) > maxUserAgentLen {
		return dErrors.New(dErrors.CodeValidation, "actor user agent exceeds length bound")
	}
	return nil
}

// Event is one persisted, immutable trail entry. Seq is the per-envelope
// append slot assigned by the store; Hash binds the event to its predecessor.
type Event struct {
	ID         id.EventID     `json:"id"`
	TenantID   id.TenantID    `json:"tenant_id"`
	EnvelopeID id.EnvelopeID  `json:"envelope_id"`
	Seq        uint64         `json:"seq"`
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Actor      Actor          `json:"actor"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	PrevHash   string         `json:"prev_hash,omitempty"`
	Hash       string         `json:"hash"`
}

// Candidate is the input to Record before the store assigns identity and the
// chain assigns hashes. A zero OccurredAt takes the request time.
type Candidate struct {
	TenantID   id.TenantID
	EnvelopeID id.EnvelopeID
	Type       EventType
	OccurredAt time.Time
	Actor      Actor
	Metadata   map[string]any
}

// Validate applies the Record preconditions: recognized type, well-formed
// actor, JSON-serializable metadata, and tenant/envelope identity present.
func (c Candidate) Validate() error {
	if c.TenantID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	if c.EnvelopeID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "envelope_id is required")
	}
	if !c.Type.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unrecognized event type %q", string(c.Type))
	}
	if err := c.Actor.Validate(); err != nil {
		return err
	}
	if c.Metadata != nil {
		if _, err := canonical.Bytes(c.Metadata); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "metadata is not JSON-serializable")
		}
	}
	return nil
}
