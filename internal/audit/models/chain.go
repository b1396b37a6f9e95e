package models

import (
	"fmt"
	"time"

	"signet/pkg/platform/canonical"
)

// hashCore lists the canonical fields bound by an event's hash. Times are
// normalized to UTC RFC 3339 nanoseconds so the digest is byte stable across
// storage round trips and time zones.
type hashCore struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	EnvelopeID string         `json:"envelope_id"`
	Seq        uint64         `json:"seq"`
	Type       string         `json:"type"`
	OccurredAt string         `json:"occurred_at"`
	Actor      Actor          `json:"actor"`
	Metadata   map[string]any `json:"metadata"`
}

// ComputeHash derives the chain hash for an event from its canonical fields
// and its PrevHash. The first event of a chain has an empty PrevHash.
func ComputeHash(e Event) (string, error) {
	core := hashCore{
		ID:         e.ID.String(),
		TenantID:   e.TenantID.String(),
		EnvelopeID: e.EnvelopeID.String(),
		Seq:        e.Seq,
		Type:       string(e.Type),
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
		Actor:      e.Actor,
		Metadata:   e.Metadata,
	}
	return canonical.ChainHash(core, e.PrevHash)
}

// ChainVerifier replays a chain incrementally, so callers can feed events in
// pages without materializing the whole trail.
type ChainVerifier struct {
	prevHash string
	prevSeq  uint64
	count    int
}

// Check validates one event against the chain position and returns a
// descriptive error on the first violation.
func (v *ChainVerifier) Check(e Event) error {
	if e.Seq != v.prevSeq+1 {
		return fmt.Errorf("chain broken at seq %d: expected seq %d", e.Seq, v.prevSeq+1)
	}
	if e.PrevHash != v.prevHash {
		return fmt.Errorf("chain broken at seq %d: prev_hash %q does not match tail %q", e.Seq, e.PrevHash, v.prevHash)
	}
	computed, err := ComputeHash(e)
	if err != nil {
		return fmt.Errorf("chain hash recompute failed at seq %d: %w", e.Seq, err)
	}
	if computed != e.Hash {
		return fmt.Errorf("hash mismatch at seq %d", e.Seq)
	}
	v.prevHash = e.Hash
	v.prevSeq = e.Seq
	v.count++
	return nil
}

// Count returns the number of events verified so far.
func (v *ChainVerifier) Count() int {
	return v.count
}

// VerifyChain replays events in order and reports whether recomputing every
// hash reproduces the stored sequence exactly. The detail string names the
// first violation when the chain is invalid.
func VerifyChain(events []Event) (bool, string) {
	var verifier ChainVerifier
	for _, e := range events {
		if err := verifier.Check(e); err != nil {
			return false, err.Error()
		}
	}
	return true, "chain verified"
}
