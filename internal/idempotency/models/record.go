// Package models defines the idempotency record that pins one command
// execution to one caller-derived key.
package models

import (
	"time"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

// Status tracks a record through its two-step life. A key is reserved
// in_progress before the command runs and flips to completed together
// with the recorded response; there is no transition back.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusInProgress || s == StatusCompleted
}

// Record is one reserved idempotency key together with the response
// snapshot of the execution that won it.
type Record struct {
	Key        string
	TenantID   id.TenantID
	Status     Status
	ResultCode int
	ResultBody []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Validate checks the fields a reservation must carry before it is
// offered to the store.
func (r *Record) Validate() error {
	if r.Key == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency key is required")
	}
	if r.TenantID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "tenant id is required")
	}
	if !r.Status.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown idempotency status: %s", r.Status)
	}
	if !r.ExpiresAt.After(r.CreatedAt) {
		return dErrors.New(dErrors.CodeValidation, "idempotency record must expire after its creation")
	}
	return nil
}

// Expired reports whether the record's retention window has passed. An
// expired reservation no longer shields its key; a rival request may
// remove it and run.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
