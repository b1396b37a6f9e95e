package handler

import (
	"time"

	envelopemodels "signet/internal/envelope/models"
	partymodels "signet/internal/party/models"
	"signet/internal/signingtoken/models"
	id "signet/pkg/domain"
)

// GrantResponse carries one minted token and its routing facts. This
// is the only time the token string crosses the wire outward.
type GrantResponse struct {
	PartyID   string    `json:"party_id"`
	Email     string    `json:"email"`
	Scope     string    `json:"scope"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MintResponse wraps the grants minted for one envelope.
type MintResponse struct {
	EnvelopeID string          `json:"envelope_id"`
	Grants     []GrantResponse `json:"grants"`
}

// SignerResponse is the signer's own view of their record. It stays
// slimmer than the operator-facing party representation.
type SignerResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Status       string `json:"status"`
	OrderIndex   int    `json:"order_index"`
	ConsentGiven bool   `json:"consent_given"`
}

// SessionResponse is what a signer sees when they open their link.
type SessionResponse struct {
	EnvelopeID     string         `json:"envelope_id"`
	Title          string         `json:"title"`
	EnvelopeStatus string         `json:"envelope_status"`
	Scope          string         `json:"scope"`
	TokenExpiresAt time.Time      `json:"token_expires_at"`
	Signer         SignerResponse `json:"signer"`
}

// OutcomeResponse reports where the envelope landed after a signer
// action.
type OutcomeResponse struct {
	EnvelopeID string `json:"envelope_id"`
	Status     string `json:"status"`
}

// FromGrant converts a single minted grant.
func FromGrant(g *models.Grant) GrantResponse {
	return GrantResponse{
		PartyID:   g.PartyID.String(),
		Email:     g.Email,
		Scope:     g.Scope.String(),
		Token:     g.Token,
		ExpiresAt: g.ExpiresAt,
	}
}

// FromGrants converts the grants minted for one envelope.
func FromGrants(envelopeID id.EnvelopeID, grants []models.Grant) MintResponse {
	out := MintResponse{
		EnvelopeID: envelopeID.String(),
		Grants:     make([]GrantResponse, 0, len(grants)),
	}
	for i := range grants {
		out.Grants = append(out.Grants, FromGrant(&grants[i]))
	}
	return out
}

// FromSigner converts a signer record.
func FromSigner(p *partymodels.Party) SignerResponse {
	return SignerResponse{
		ID:           p.ID.String(),
		Email:        p.Email,
		FullName:     p.FullName,
		Status:       string(p.Status),
		OrderIndex:   p.OrderIndex,
		ConsentGiven: p.ConsentGiven,
	}
}

// FromSession converts an authenticated session and the envelope it
// opens.
func FromSession(session *models.Session, envelope *envelopemodels.Envelope) SessionResponse {
	return SessionResponse{
		EnvelopeID:     envelope.ID.String(),
		Title:          envelope.Title,
		EnvelopeStatus: string(envelope.Status),
		Scope:          session.Claims.Scope.String(),
		TokenExpiresAt: session.Claims.ExpiresAt,
		Signer:         FromSigner(session.Party),
	}
}

// FromOutcome reports where the envelope landed after a signer action.
func FromOutcome(envelope *envelopemodels.Envelope) OutcomeResponse {
	return OutcomeResponse{
		EnvelopeID: envelope.ID.String(),
		Status:     string(envelope.Status),
	}
}
