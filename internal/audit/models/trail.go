package models

import (
	id "signet/pkg/domain"
)

// Trail is one page of an envelope's audit history. ChainValid reflects a
// replay of the entire stored chain, not just the entries in this page.
type Trail struct {
	Entries    []Event `json:"entries"`
	ChainValid bool    `json:"chain_valid"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Requirement names one event the trail must contain. An empty PartyID
// matches any event of the type; otherwise the event must reference the
// party through its actor or metadata.
type Requirement struct {
	Type    EventType
	PartyID string
}

// Satisfies reports whether the event discharges the requirement.
func (r Requirement) Satisfies(e Event) bool {
	if e.Type != r.Type {
		return false
	}
	if r.PartyID == "" {
		return true
	}
	if e.Actor.PartyID == r.PartyID {
		return true
	}
	if v, ok := e.Metadata["party_id"].(string); ok && v == r.PartyID {
		return true
	}
	return false
}

// CompletionRequirements lists the events an envelope must have recorded
// before it may transition to completed: its creation, plus consent and a
// signature event for every signer who signed.
func CompletionRequirements(signedParties []id.PartyID) []Requirement {
	reqs := []Requirement{{Type: EventEnvelopeCreated}}
	for _, p := range signedParties {
		reqs = append(reqs,
			Requirement{Type: EventConsentGiven, PartyID: p.String()},
			Requirement{Type: EventSignerSigned, PartyID: p.String()},
		)
	}
	return reqs
}

// CertificateRequirements extends the completion set with the completion
// event itself. Used when validating an already-completed envelope's trail,
// for example while assembling a certificate.
func CertificateRequirements(signedParties []id.PartyID) []Requirement {
	return append(CompletionRequirements(signedParties), Requirement{Type: EventEnvelopeCompleted})
}
