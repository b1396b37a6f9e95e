package handler

import (
	"strings"
	"time"

	"signet/internal/envelope/models"
	"signet/internal/envelope/service"
	partymodels "signet/internal/party/models"
	dErrors "signet/pkg/domain-errors"
)

// CreateEnvelopeRequest is the HTTP request body for POST /envelopes.
type CreateEnvelopeRequest struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	SigningOrder string     `json:"signing_order"`
	Origin       string     `json:"origin"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// Validate checks the request shape. Lifecycle rules stay with the
// service; this only rejects what could never be valid.
func (r *CreateEnvelopeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if r.SigningOrder != "" && !models.SigningOrder(r.SigningOrder).Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid signing order %q", r.SigningOrder)
	}
	if r.Origin != "" && !models.Origin(r.Origin).Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid origin %q", r.Origin)
	}
	return nil
}

// Input converts the request into the service input.
func (r *CreateEnvelopeRequest) Input() service.CreateInput {
	return service.CreateInput{
		Title:        r.Title,
		Description:  r.Description,
		SigningOrder: models.SigningOrder(r.SigningOrder),
		Origin:       models.Origin(r.Origin),
		ExpiresAt:    r.ExpiresAt,
	}
}

// AttachDocumentRequest is the HTTP request body for
// POST /envelopes/{envelopeID}/documents.
type AttachDocumentRequest struct {
	SourceKey  string `json:"source_key"`
	SourceHash string `json:"source_hash"`
}

func (r *AttachDocumentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.SourceKey = strings.TrimSpace(r.SourceKey)
	r.SourceHash = strings.TrimSpace(r.SourceHash)
	if r.SourceKey == "" {
		return dErrors.New(dErrors.CodeValidation, "source_key is required")
	}
	if r.SourceHash == "" {
		return dErrors.New(dErrors.CodeValidation, "source_hash is required")
	}
	return nil
}

// AddPartyRequest is the HTTP request body for
// POST /envelopes/{envelopeID}/parties.
type AddPartyRequest struct {
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	OrderIndex int    `json:"order_index"`
	IsExternal bool   `json:"is_external"`
	AccessCode string `json:"access_code"`
}

func (r *AddPartyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if r.OrderIndex < 0 {
		return dErrors.New(dErrors.CodeValidation, "order_index cannot be negative")
	}
	return nil
}

// Input converts the request into the service input.
func (r *AddPartyRequest) Input() service.AddPartyInput {
	return service.AddPartyInput{
		Email:      r.Email,
		FullName:   r.FullName,
		OrderIndex: r.OrderIndex,
		IsExternal: r.IsExternal,
		AccessCode: r.AccessCode,
	}
}

// SignRequest is the HTTP request body for
// POST /envelopes/{envelopeID}/parties/{partyID}/sign.
type SignRequest struct {
	DocumentHash  string `json:"document_hash"`
	SignatureHash string `json:"signature_hash"`
	KMSKeyID      string `json:"kms_key_id"`
	Algorithm     string `json:"algorithm"`
}

func (r *SignRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.DocumentHash = strings.TrimSpace(r.DocumentHash)
	if r.DocumentHash == "" {
		return dErrors.New(dErrors.CodeValidation, "document_hash is required")
	}
	return nil
}

// Signature converts the request into the signature evidence.
func (r *SignRequest) Signature() partymodels.Signature {
	return partymodels.Signature{
		DocumentHash:  r.DocumentHash,
		SignatureHash: r.SignatureHash,
		KMSKeyID:      r.KMSKeyID,
		Algorithm:     r.Algorithm,
	}
}

// DeclineRequest is the HTTP request body for
// POST /envelopes/{envelopeID}/parties/{partyID}/decline.
type DeclineRequest struct {
	Reason string `json:"reason"`
}

const maxDeclineReasonLength = 1024

func (r *DeclineRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > maxDeclineReasonLength {
		return dErrors.Newf(dErrors.CodeValidation, "reason exceeds %d characters", maxDeclineReasonLength)
	}
	return nil
}
