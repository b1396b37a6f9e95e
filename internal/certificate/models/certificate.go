// Package models defines the certificate of completion: a portable JSON
// document assembled from an executed envelope, its signers, and the full
// audit trail. Everything in it is a plain string or timestamp so the
// certificate survives outside the system that issued it.
package models

import (
	"time"

	auditmodels "signet/internal/audit/models"
	envelopemodels "signet/internal/envelope/models"
	partymodels "signet/internal/party/models"
)

// FormatVersion names the certificate layout. Bump it when the evidence
// shape changes, so downstream verifiers can dispatch on it.
const FormatVersion = "1"

// Certificate is the issued document. Digest is the canonical digest of
// the Evidence section alone; GeneratedAt and the digest itself stay
// outside it, so re-issuing over an unchanged trail reproduces the same
// digest.
type Certificate struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	Digest      string    `json:"digest"`
	Evidence    Evidence  `json:"evidence"`
}

// Evidence is the attested portion of the certificate.
type Evidence struct {
	Envelope EnvelopeSummary  `json:"envelope"`
	Signers  []SignerRecord   `json:"signers"`
	Events   []EventRecord    `json:"events"`
	Chain    ChainAttestation `json:"chain"`
}

// EnvelopeSummary is the envelope as executed.
type EnvelopeSummary struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	SigningOrder string     `json:"signing_order"`
	SourceHash   string     `json:"source_hash,omitempty"`
	SignedHash   string     `json:"signed_hash,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SignerRecord is one party's resolution, with the cryptographic material
// captured at signature time.
type SignerRecord struct {
	PartyID       string     `json:"party_id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	OrderIndex    int        `json:"order_index"`
	Status        string     `json:"status"`
	ConsentAt     *time.Time `json:"consent_at,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	DocumentHash  string     `json:"document_hash,omitempty"`
	SignatureHash string     `json:"signature_hash,omitempty"`
	KMSKeyID      string     `json:"kms_key_id,omitempty"`
	Algorithm     string     `json:"algorithm,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
}

// EventRecord is one trail entry, hashes included, so the chain can be
// replayed from the certificate alone.
type EventRecord struct {
	ID         string         `json:"id"`
	Seq        uint64         `json:"seq"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Actor      ActorRecord    `json:"actor"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	PrevHash   string         `json:"prev_hash,omitempty"`
	Hash       string         `json:"hash"`
}

// ActorRecord is the actor snapshot portion of an event record.
type ActorRecord struct {
	UserID    string `json:"user_id,omitempty"`
	PartyID   string `json:"party_id,omitempty"`
	Email     string `json:"email,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ChainAttestation is the issuer's verdict on the trail at issue time.
type ChainAttestation struct {
	Valid      bool   `json:"valid"`
	Detail     string `json:"detail"`
	EventCount int    `json:"event_count"`
}

// SummarizeEnvelope projects the envelope aggregate into the certificate.
func SummarizeEnvelope(e *envelopemodels.Envelope) EnvelopeSummary {
	return EnvelopeSummary{
		ID:           e.ID.String(),
		TenantID:     e.TenantID.String(),
		Title:        e.Title,
		Status:       string(e.Status),
		SigningOrder: string(e.SigningOrder),
		SourceHash:   e.SourceHash,
		SignedHash:   e.SignedHash,
		SentAt:       e.SentAt,
		CompletedAt:  e.CompletedAt,
		CreatedAt:    e.CreatedAt,
	}
}

// RecordSigner projects one party into the certificate.
func RecordSigner(p partymodels.Party) SignerRecord {
	return SignerRecord{
		PartyID:       p.ID.String(),
		Email:         p.Email,
		FullName:      p.FullName,
		OrderIndex:    p.OrderIndex,
		Status:        string(p.Status),
		ConsentAt:     p.ConsentAt,
		SignedAt:      p.SignedAt,
		DocumentHash:  p.DocumentHash,
		SignatureHash: p.SignatureHash,
		KMSKeyID:      p.KMSKeyID,
		Algorithm:     p.Algorithm,
		IPAddress:     p.IPAddress,
		UserAgent:     p.UserAgent,
	}
}

// RecordEvent projects one audit event into the certificate.
func RecordEvent(e auditmodels.Event) EventRecord {
	return EventRecord{
		ID:         e.ID.String(),
		Seq:        e.Seq,
		Type:       string(e.Type),
		OccurredAt: e.OccurredAt,
		Actor: ActorRecord{
			UserID:    e.Actor.UserID,
			PartyID:   e.Actor.PartyID,
			Email:     e.Actor.Email,
			IPAddress: e.Actor.IPAddress,
			UserAgent: e.Actor.UserAgent,
		},
		Metadata: e.Metadata,
		PrevHash: e.PrevHash,
		Hash:     e.Hash,
	}
}
