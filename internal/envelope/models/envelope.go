// Package models defines the envelope aggregate and its lifecycle rules.
//
// An envelope is the unit of a signing workflow: it owns the source
// document references, the routing mode for its signers, and a status
// that moves through a fixed state machine. Every status change is
// recorded in the audit ledger and announced through the outbox, so the
// transition rules here are the single source of truth for what the
// rest of the system may do with an envelope.
package models

import (
	"fmt"
	"strings"
	"time"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

// Status is the lifecycle state of an envelope.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusSent       Status = "sent"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDeclined   Status = "declined"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// CanTransitionTo reports whether the lifecycle permits moving from s to
// next. Completed, declined, cancelled and expired are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusSent || next == StatusCancelled
	case StatusSent:
		return next == StatusInProgress || next == StatusCancelled || next == StatusExpired
	case StatusInProgress:
		return next == StatusCompleted || next == StatusDeclined || next == StatusCancelled || next == StatusExpired
	default:
		return false
	}
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// SigningOrder controls how signer turns are sequenced.
type SigningOrder string

const (
	// SigningOrderSequential gates each signer on every lower-ordered
	// signer having signed.
	SigningOrderSequential SigningOrder = "sequential"
	// SigningOrderParallel lets every invited signer act at any time.
	SigningOrderParallel SigningOrder = "parallel"
)

func (o SigningOrder) Valid() bool {
	return o == SigningOrderSequential || o == SigningOrderParallel
}

// Origin records how the envelope's source document came to exist.
type Origin string

const (
	OriginUpload   Origin = "upload"
	OriginTemplate Origin = "template"
)

func (o Origin) Valid() bool {
	return o == OriginUpload || o == OriginTemplate
}

// DeclinePolicy decides what a single signer's decline does to the
// envelope as a whole.
type DeclinePolicy string

const (
	// DeclineBlocks declines the whole envelope as soon as any signer
	// declines.
	DeclineBlocks DeclinePolicy = "decline_blocks"
	// DeclineContinues keeps the envelope moving; it only becomes
	// declined once every signer has declined.
	DeclineContinues DeclinePolicy = "decline_continues"
)

func (p DeclinePolicy) Valid() bool {
	return p == DeclineBlocks || p == DeclineContinues
}

// RenditionKind names a worker-produced output bound to the envelope
// after upload: the flattened render during signing and the sealed
// output at completion.
type RenditionKind string

const (
	// RenditionFlattened is the render with signature fields burned in.
	RenditionFlattened RenditionKind = "flattened"
	// RenditionSigned is the sealed output produced at completion.
	RenditionSigned RenditionKind = "signed"
)

func (k RenditionKind) Valid() bool {
	return k == RenditionFlattened || k == RenditionSigned
}

// Envelope is the signing workflow aggregate.
//
// Version backs optimistic concurrency: the store only applies an
// update when the persisted version matches, so two racing commands
// cannot both win. SourceKey and SourceHash are immutable once set.
type Envelope struct {
	ID          id.EnvelopeID `json:"id"`
	TenantID    id.TenantID   `json:"tenant_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`

	Status       Status       `json:"status"`
	SigningOrder SigningOrder `json:"signing_order"`
	Origin       Origin       `json:"origin"`

	SourceKey    string `json:"source_key,omitempty"`
	SourceHash   string `json:"source_hash,omitempty"`
	FlattenedKey string `json:"flattened_key,omitempty"`
	SignedKey    string `json:"signed_key,omitempty"`
	SignedHash   string `json:"signed_hash,omitempty"`

	Version   int64      `json:"version"`
	CreatedBy *id.UserID `json:"created_by,omitempty"`

	DeclinedByParty *id.PartyID `json:"declined_by_party,omitempty"`
	DeclinedReason  string      `json:"declined_reason,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	DeclinedAt  *time.Time `json:"declined_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const maxTitleLength = 256

// Normalize trims user-supplied text fields in place.
func (e *Envelope) Normalize() {
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
}

// Validate checks the envelope's own fields. It does not look at
// signers or documents; those are command preconditions.
func (e *Envelope) Validate() error {
	if e.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "envelope title is required")
	}
	if len(e.Title) > maxTitleLength {
		return dErrors.Newf(dErrors.CodeValidation, "envelope title exceeds %d characters", maxTitleLength)
	}
	if !e.SigningOrder.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid signing order %q", e.SigningOrder)
	}
	if !e.Origin.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid envelope origin %q", e.Origin)
	}
	return nil
}

// HasDocument reports whether a source document has been attached.
func (e *Envelope) HasDocument() bool {
	return e.SourceKey != ""
}

// assertStatus returns an invalid-state error naming the attempted
// operation, the current status, and the statuses that would have
// allowed it.
func (e *Envelope) assertStatus(operation string, allowed ...Status) error {
	for _, s := range allowed {
		if e.Status == s {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	return dErrors.Newf(dErrors.CodeInvalidState, "cannot %s envelope while %s", operation, e.Status).
		WithMeta("operation", operation).
		WithMeta("status", string(e.Status)).
		WithMeta("allowed_statuses", names)
}

// AssertDraft gates operations that only make sense before sending,
// such as deleting the envelope or editing its routing.
func (e *Envelope) AssertDraft(operation string) error {
	return e.assertStatus(operation, StatusDraft)
}

// AssertUploadAllowed gates attaching source material. Uploads are
// accepted while drafting and, for supplemental material, while sent.
func (e *Envelope) AssertUploadAllowed(operation string) error {
	return e.assertStatus(operation, StatusDraft, StatusSent)
}

// AssertDownloadAllowed gates handing out executed documents. Nothing
// is downloadable before the first signer has acted.
func (e *Envelope) AssertDownloadAllowed(operation string) error {
	return e.assertStatus(operation, StatusInProgress, StatusCompleted)
}

// AssertSendable gates the send command itself.
func (e *Envelope) AssertSendable() error {
	return e.assertStatus("send", StatusDraft)
}

// AssertSigningOpen gates signer actions: consent, signing, declining.
func (e *Envelope) AssertSigningOpen(operation string) error {
	return e.assertStatus(operation, StatusSent, StatusInProgress)
}

// AssertViewable gates read access for signers. Completed envelopes
// stay viewable so parties can revisit what they executed.
func (e *Envelope) AssertViewable(operation string) error {
	return e.assertStatus(operation, StatusSent, StatusInProgress, StatusCompleted)
}

// AssertCertifiable gates certificate issuance. Only an executed
// envelope has evidence worth attesting.
func (e *Envelope) AssertCertifiable() error {
	return e.assertStatus("certify", StatusCompleted)
}

// AssertCancellable gates cancellation by the owner.
func (e *Envelope) AssertCancellable() error {
	return e.assertStatus("cancel", StatusDraft, StatusSent, StatusInProgress)
}

// AssertExpirable gates the expiry sweep.
func (e *Envelope) AssertExpirable() error {
	return e.assertStatus("expire", StatusSent, StatusInProgress)
}

// AssertRenditionAllowed gates worker-produced output: the flattened
// render lands once the envelope is out with signers, the sealed output
// only after completion.
func (e *Envelope) AssertRenditionAllowed(kind RenditionKind) error {
	switch kind {
	case RenditionFlattened:
		return e.assertStatus("attach_rendition", StatusSent, StatusInProgress, StatusCompleted)
	case RenditionSigned:
		return e.assertStatus("attach_rendition", StatusCompleted)
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown rendition kind %q", string(kind))
	}
}

// transition moves the envelope to next or reports why it cannot.
func (e *Envelope) transition(next Status, now time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidState, "envelope cannot move from %s to %s", e.Status, next).
			WithMeta("status", string(e.Status)).
			WithMeta("target_status", string(next))
	}
	e.Status = next
	e.UpdatedAt = now
	return nil
}

// ApplySent marks the envelope as sent to its signers.
func (e *Envelope) ApplySent(now time.Time) error {
	if err := e.transition(StatusSent, now); err != nil {
		return err
	}
	e.SentAt = &now
	return nil
}

// ApplyInProgress records that the first signer has acted.
func (e *Envelope) ApplyInProgress(now time.Time) error {
	return e.transition(StatusInProgress, now)
}

// ApplyCompleted finalizes the envelope after every signer has signed.
func (e *Envelope) ApplyCompleted(now time.Time) error {
	if err := e.transition(StatusCompleted, now); err != nil {
		return err
	}
	e.CompletedAt = &now
	return nil
}

// ApplyDeclined terminates the envelope, attributing the outcome to the
// signer whose decline sealed it.
func (e *Envelope) ApplyDeclined(now time.Time, partyID id.PartyID, reason string) error {
	if err := e.transition(StatusDeclined, now); err != nil {
		return err
	}
	e.DeclinedByParty = &partyID
	e.DeclinedReason = reason
	e.DeclinedAt = &now
	return nil
}

// ApplyCancelled terminates the envelope at the owner's request.
func (e *Envelope) ApplyCancelled(now time.Time) error {
	if err := e.transition(StatusCancelled, now); err != nil {
		return err
	}
	e.CancelledAt = &now
	return nil
}

// ApplyExpired terminates the envelope once its deadline has passed.
func (e *Envelope) ApplyExpired(now time.Time) error {
	return e.transition(StatusExpired, now)
}

// AttachSource records the source document reference. The reference is
// immutable once set.
func (e *Envelope) AttachSource(key, hash string, now time.Time) error {
	if key == "" || hash == "" {
		return dErrors.New(dErrors.CodeValidation, "document key and hash are required")
	}
	if e.SourceKey != "" {
		return dErrors.New(dErrors.CodeConflict, "envelope already has a source document").
			WithMeta("source_key", e.SourceKey)
	}
	e.SourceKey = key
	e.SourceHash = hash
	e.UpdatedAt = now
	return nil
}

// AttachRendition records a rendition reference of the given kind.
// References are immutable once set; the sealed output also carries its
// content hash.
func (e *Envelope) AttachRendition(kind RenditionKind, key, hash string, now time.Time) error {
	if err := e.AssertRenditionAllowed(kind); err != nil {
		return err
	}
	if key == "" {
		return dErrors.New(dErrors.CodeValidation, "rendition key is required")
	}
	switch kind {
	case RenditionFlattened:
		if e.FlattenedKey != "" {
			return dErrors.New(dErrors.CodeConflict, "envelope already has a flattened rendition").
				WithMeta("flattened_key", e.FlattenedKey)
		}
		e.FlattenedKey = key
	case RenditionSigned:
		if hash == "" {
			return dErrors.New(dErrors.CodeValidation, "sealed rendition hash is required")
		}
		if e.SignedKey != "" {
			return dErrors.New(dErrors.CodeConflict, "envelope already has a sealed rendition").
				WithMeta("signed_key", e.SignedKey)
		}
		e.SignedKey = key
		e.SignedHash = hash
	}
	e.UpdatedAt = now
	return nil
}

// Expired reports whether the envelope's deadline has passed.
func (e *Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

func (e *Envelope) String() string {
	return fmt.Sprintf("envelope %s (%s)", e.ID, e.Status)
}
