package models

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/email"
)

// Status is the signer lifecycle position.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInvited  Status = "invited"
	StatusSigned   Status = "signed"
	StatusDeclined Status = "declined"
)

// CanTransitionTo enforces the signer lifecycle: pending signers are invited
// when the envelope is sent, invited signers sign or decline, and both
// outcomes are terminal. There is no un-declining and no double-signing.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInvited
	case StatusInvited:
		return next == StatusSigned || next == StatusDeclined
	default:
		return false
	}
}

// Terminal reports whether the signer has reached a final state.
func (s Status) Terminal() bool {
	return s == StatusSigned || s == StatusDeclined
}

// Party is one signer on an envelope.
//
// Invariants:
//   - Email is non-empty and normalized to lower case
//   - OrderIndex orders sequential signing; ties act in parallel
//   - Status moves one way: pending → invited → signed|declined
//   - Consent must be captured before a signature is accepted
type Party struct {
	ID             id.PartyID    `json:"id"`
	TenantID       id.TenantID   `json:"tenant_id"`
	EnvelopeID     id.EnvelopeID `json:"envelope_id"`
	Email          string        `json:"email"`
	FullName       string        `json:"full_name"`
	IsExternal     bool          `json:"is_external"`
	OrderIndex     int           `json:"order_index"`
	Status         Status        `json:"status"`
	SignedAt       *time.Time    `json:"signed_at,omitempty"`
	DeclinedAt     *time.Time    `json:"declined_at,omitempty"`
	DeclineReason  string        `json:"decline_reason,omitempty"`
	ConsentGiven   bool          `json:"consent_given"`
	ConsentAt      *time.Time    `json:"consent_at,omitempty"`
	DocumentHash   string        `json:"document_hash,omitempty"`
	SignatureHash  string        `json:"signature_hash,omitempty"`
	KMSKeyID       string        `json:"kms_key_id,omitempty"`
	Algorithm      string        `json:"algorithm,omitempty"`
	IPAddress      string        `json:"ip_address,omitempty"`
	UserAgent      string        `json:"user_agent,omitempty"`
	AccessCodeHash []byte        `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Signature carries the cryptographic evidence captured when a signer signs.
type Signature struct {
	DocumentHash  string
	SignatureHash string
	KMSKeyID      string
	Algorithm     string
}

// Progress aggregates signer states for one envelope.
type Progress struct {
	Total       int
	Signed      int
	Declined    int
	Outstanding int
}

// Normalize lower-cases the email and fills a display name derived from it
// when the caller supplied none.
func (p *Party) Normalize() {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if strings.TrimSpace(p.FullName) == "" {
		p.FullName = email.DisplayName(p.Email)
	}
}

// Validate checks construction invariants. Call Normalize first.
func (p *Party) Validate() error {
	if p.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "party requires an email")
	}
	if !strings.Contains(p.Email, "@") {
		return dErrors.Newf(dErrors.CodeValidation, "party email %q is not an address", p.Email)
	}
	if p.OrderIndex < 0 {
		return dErrors.New(dErrors.CodeValidation, "party order index cannot be negative")
	}
	return nil
}

// CanSign checks that a signature may be accepted right now. Terminal
// signers conflict; everything else is a state problem the signer can fix.
func (p *Party) CanSign() error {
	if p.Status.Terminal() {
		return dErrors.Newf(dErrors.CodeConflict, "signer already %s", p.Status)
	}
	if p.Status != StatusInvited {
		return dErrors.New(dErrors.CodeInvalidState, "signer has not been invited yet")
	}
	if !p.ConsentGiven {
		return dErrors.New(dErrors.CodeInvalidState, "signer has not given consent")
	}
	return nil
}

// ApplySigned records the signature. Call CanSign first.
func (p *Party) ApplySigned(now time.Time, sig Signature) {
	p.Status = StatusSigned
	p.SignedAt = &now
	p.DocumentHash = sig.DocumentHash
	p.SignatureHash = sig.SignatureHash
	p.KMSKeyID = sig.KMSKeyID
	p.Algorithm = sig.Algorithm
	p.UpdatedAt = now
}

// CanDecline checks that a decline may be recorded right now.
func (p *Party) CanDecline() error {
	if p.Status.Terminal() {
		return dErrors.Newf(dErrors.CodeConflict, "signer already %s", p.Status)
	}
	if p.Status != StatusInvited {
		return dErrors.New(dErrors.CodeInvalidState, "signer has not been invited yet")
	}
	return nil
}

// ApplyDeclined records the decline. Call CanDecline first.
func (p *Party) ApplyDeclined(now time.Time, reason string) {
	p.Status = StatusDeclined
	p.DeclinedAt = &now
	p.DeclineReason = reason
	p.UpdatedAt = now
}

// SetAccessCode stores a bcrypt hash of the code.
func (p *Party) SetAccessCode(code string) error {
	if code == "" {
		return dErrors.New(dErrors.CodeValidation, "access code cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return dErrors.New(dErrors.CodeValidation, "access code is too long")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash access code")
	}
	p.AccessCodeHash = hashed
	return nil
}

// CheckAccessCode verifies a presented code. Parties without a code
// configured accept any caller that already holds a valid signing token.
func (p *Party) CheckAccessCode(code string) error {
	if len(p.AccessCodeHash) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(p.AccessCodeHash, []byte(code)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid access code")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify access code")
	}
	return nil
}
