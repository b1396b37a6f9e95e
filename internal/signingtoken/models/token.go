// Package models defines the domain types for signing tokens: the
// grants handed to signers when an envelope goes out and the verified
// claims a presented token resolves to.
package models

import (
	"time"

	partymodels "signet/internal/party/models"
	id "signet/pkg/domain"
)

// Claims is the verified content of a signing token. Every field has
// already passed signature and expiry validation; the IDs are parsed
// and the scope is one of the supported values.
type Claims struct {
	TokenID    string
	TenantID   id.TenantID
	EnvelopeID id.EnvelopeID
	PartyID    id.PartyID
	Scope      id.SigningScope
	ExpiresAt  time.Time
}

// Grant is a freshly minted token together with the routing facts a
// relay needs to deliver it. The token string itself is the secret;
// grants are returned once and never stored.
type Grant struct {
	Token      string
	PartyID    id.PartyID
	Email      string
	Scope      id.SigningScope
	ExpiresAt  time.Time
	EnvelopeID id.EnvelopeID
}

// Session is the authenticated result of presenting a signing token:
// the claims plus the signer record they point at. Handlers use it to
// act on behalf of the party.
type Session struct {
	Claims *Claims
	Party  *partymodels.Party
}
