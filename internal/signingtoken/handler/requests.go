package handler

import (
	"strings"

	partymodels "signet/internal/party/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

// MintTokenRequest is the HTTP request body for
// POST /envelopes/{envelopeID}/parties/{partyID}/signing-tokens.
type MintTokenRequest struct {
	Scope string `json:"scope"`
}

// Validate defaults an absent scope to sign, matching what the
// mint-all route issues.
func (r *MintTokenRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Scope = strings.TrimSpace(r.Scope)
	if r.Scope == "" {
		r.Scope = id.ScopeSign.String()
	}
	if _, err := id.ParseSigningScope(r.Scope); err != nil {
		return err
	}
	return nil
}

// SigningScope returns the validated scope.
func (r *MintTokenRequest) SigningScope() id.SigningScope {
	return id.SigningScope(r.Scope)
}

// SignRequest is the HTTP request body for POST /signing/sign.
type SignRequest struct {
	DocumentHash  string `json:"document_hash"`
	SignatureHash string `json:"signature_hash"`
	KMSKeyID      string `json:"kms_key_id"`
	Algorithm     string `json:"algorithm"`
	AccessCode    string `json:"access_code"`
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

// DeclineRequest is the HTTP request body for POST /signing/decline.
type DeclineRequest struct {
	Reason     string `json:"reason"`
	AccessCode string `json:"access_code"`
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
