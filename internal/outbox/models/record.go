package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "signet/pkg/domain"
)

// Status is the outbox record lifecycle position.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusFailed     Status = "failed"
)

// CanTransitionTo enforces the one-way record lifecycle: pending and failed
// records may dispatch or fail again, dispatched is terminal and is never
// reprocessed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending, StatusFailed:
		return next == StatusDispatched || next == StatusFailed
	default:
		return false
	}
}

// Record is one staged domain event awaiting publication. It is written in
// the same transaction as the state change it announces, so a crash between
// commit and publish loses nothing.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   id.TenantID     `json:"tenant_id"`
	EnvelopeID id.EnvelopeID   `json:"envelope_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	Status     Status          `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	TraceID    string          `json:"trace_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// BusEvent derives the wire unit handed to the publisher. The envelope id
// keys the partition so per-envelope ordering survives the bus.
func (r Record) BusEvent() BusEvent {
	return BusEvent{
		ID:         r.ID,
		Key:        r.EnvelopeID.String(),
		Type:       r.EventType,
		Payload:    r.Payload,
		OccurredAt: r.OccurredAt,
		TraceID:    r.TraceID,
	}
}

// BusEvent is one event on its way to the bus.
type BusEvent struct {
	ID         uuid.UUID
	Key        string
	Type       string
	Payload    json.RawMessage
	OccurredAt time.Time
	TraceID    string
}

// PublishResult reports one event's outcome. A nil Err means the bus
// acknowledged the event.
type PublishResult struct {
	ID  uuid.UUID
	Err error
}
