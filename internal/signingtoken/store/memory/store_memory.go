// Package memory provides an in-memory single-use token store for
// tests and single-process runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signet/pkg/platform/sentinel"
)

// InMemoryStore tracks redeemed token IDs with an expiry per marker.
// Markers live exactly as long as the token they guard, so a replay
// after the marker lapses still fails token validation first.
type InMemoryStore struct {
	mu       sync.Mutex
	redeemed map[string]time.Time
}

// NewInMemoryStore creates an empty redemption store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		redeemed: make(map[string]time.Time),
	}
}

// Redeem marks the token ID as used. Exactly one caller wins; every
// later caller gets sentinel.ErrAlreadyUsed. Expired markers are swept
// on the way in, which keeps the map bounded by live tokens.
func (s *InMemoryStore) Redeem(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redemption ttl must be positive: %w", sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for tid, expiry := range s.redeemed {
		if !expiry.After(now) {
			delete(s.redeemed, tid)
		}
	}

	if _, used := s.redeemed[tokenID]; used {
		return sentinel.ErrAlreadyUsed
	}
	s.redeemed[tokenID] = now.Add(ttl)
	return nil
}
