package handler

import (
	"time"

	"signet/internal/envelope/models"
	partymodels "signet/internal/party/models"
)

// EnvelopeResponse is the HTTP representation of an envelope.
type EnvelopeResponse struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	SigningOrder string     `json:"signing_order"`
	Origin       string     `json:"origin"`
	SourceKey    string     `json:"source_key,omitempty"`
	SourceHash   string     `json:"source_hash,omitempty"`
	FlattenedKey string     `json:"flattened_key,omitempty"`
	SignedKey    string     `json:"signed_key,omitempty"`
	SignedHash   string     `json:"signed_hash,omitempty"`
	Version      int64      `json:"version"`
	CreatedBy    string     `json:"created_by,omitempty"`
	DeclinedBy   string     `json:"declined_by,omitempty"`
	DeclineNote  string     `json:"decline_reason,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	DeclinedAt   *time.Time `json:"declined_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PartyResponse is the HTTP representation of a signer. Signing
// evidence hashes are included; the access code never is.
type PartyResponse struct {
	ID            string     `json:"id"`
	EnvelopeID    string     `json:"envelope_id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	IsExternal    bool       `json:"is_external"`
	OrderIndex    int        `json:"order_index"`
	Status        string     `json:"status"`
	ConsentGiven  bool       `json:"consent_given"`
	ConsentAt     *time.Time `json:"consent_at,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	DeclinedAt    *time.Time `json:"declined_at,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty"`
	DocumentHash  string     `json:"document_hash,omitempty"`
	SignatureHash string     `json:"signature_hash,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ListEnvelopesResponse wraps the envelope collection.
type ListEnvelopesResponse struct {
	Envelopes []EnvelopeResponse `json:"envelopes"`
}

// ListPartiesResponse wraps the signer collection.
type ListPartiesResponse struct {
	Parties []PartyResponse `json:"parties"`
}

// FromEnvelope converts a domain envelope to an HTTP response.
func FromEnvelope(e *models.Envelope) EnvelopeResponse {
	resp := EnvelopeResponse{
		ID:           e.ID.String(),
		TenantID:     e.TenantID.String(),
		Title:        e.Title,
		Description:  e.Description,
		Status:       string(e.Status),
		SigningOrder: string(e.SigningOrder),
		Origin:       string(e.Origin),
		SourceKey:    e.SourceKey,
		SourceHash:   e.SourceHash,
		FlattenedKey: e.FlattenedKey,
		SignedKey:    e.SignedKey,
		SignedHash:   e.SignedHash,
		Version:      e.Version,
		DeclineNote:  e.DeclinedReason,
		SentAt:       e.SentAt,
		CompletedAt:  e.CompletedAt,
		CancelledAt:  e.CancelledAt,
		DeclinedAt:   e.DeclinedAt,
		ExpiresAt:    e.ExpiresAt,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.CreatedBy != nil {
		resp.CreatedBy = e.CreatedBy.String()
	}
	if e.DeclinedByParty != nil {
		resp.DeclinedBy = e.DeclinedByParty.String()
	}
	return resp
}

// FromEnvelopes converts a collection of envelopes.
func FromEnvelopes(envelopes []models.Envelope) ListEnvelopesResponse {
	out := ListEnvelopesResponse{Envelopes: make([]EnvelopeResponse, 0, len(envelopes))}
	for i := range envelopes {
		out.Envelopes = append(out.Envelopes, FromEnvelope(&envelopes[i]))
	}
	return out
}

// FromParty converts a domain signer to an HTTP response.
func FromParty(p *partymodels.Party) PartyResponse {
	return PartyResponse{
		ID:            p.ID.String(),
		EnvelopeID:    p.EnvelopeID.String(),
		Email:         p.Email,
		FullName:      p.FullName,
		IsExternal:    p.IsExternal,
		OrderIndex:    p.OrderIndex,
		Status:        string(p.Status),
		ConsentGiven:  p.ConsentGiven,
		ConsentAt:     p.ConsentAt,
		SignedAt:      p.SignedAt,
		DeclinedAt:    p.DeclinedAt,
		DeclineReason: p.DeclineReason,
		DocumentHash:  p.DocumentHash,
		SignatureHash: p.SignatureHash,
		CreatedAt:     p.CreatedAt,
	}
}

// FromParties converts a collection of signers.
func FromParties(parties []partymodels.Party) ListPartiesResponse {
	out := ListPartiesResponse{Parties: make([]PartyResponse, 0, len(parties))}
	for i := range parties {
		out.Parties = append(out.Parties, FromParty(&parties[i]))
	}
	return out
}
