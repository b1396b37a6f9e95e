package handler

import (
	"time"

	"signet/internal/audit/models"
)

// TrailResponse is the HTTP response for GET /envelopes/{id}/audit-trail.
type TrailResponse struct {
	Entries    []EventResponse `json:"entries"`
	ChainValid bool            `json:"chain_valid"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// EventResponse is one trail entry in the response.
type EventResponse struct {
	ID         string         `json:"id"`
	Seq        uint64         `json:"seq"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Actor      ActorResponse  `json:"actor"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	PrevHash   string         `json:"prev_hash,omitempty"`
	Hash       string         `json:"hash"`
}

// ActorResponse is the actor snapshot portion of a trail entry.
type ActorResponse struct {
	UserID    string `json:"user_id,omitempty"`
	PartyID   string `json:"party_id,omitempty"`
	Email     string `json:"email,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// VerifyResponse is the HTTP response for the chain verification endpoint.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Detail string `json:"detail"`
}

// FromTrail converts a domain Trail to an HTTP response.
func FromTrail(trail *models.Trail) *TrailResponse {
	resp := &TrailResponse{
		Entries:    make([]EventResponse, 0, len(trail.Entries)),
		ChainValid: trail.ChainValid,
		NextCursor: trail.NextCursor,
	}
	for _, e := range trail.Entries {
		resp.Entries = append(resp.Entries, EventResponse{
			ID:         e.ID.String(),
			Seq:        e.Seq,
			Type:       string(e.Type),
			OccurredAt: e.OccurredAt,
			Actor: ActorResponse{
				UserID:    e.Actor.UserID,
				PartyID:   e.Actor.PartyID,
				Email:     e.Actor.Email,
				IPAddress: e.Actor.IPAddress,
				UserAgent: e.Actor.UserAgent,
			},
			Metadata: e.Metadata,
			PrevHash: e.PrevHash,
			Hash:     e.Hash,
		})
	}
	return resp
}
