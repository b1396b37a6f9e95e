package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"signet/internal/envelope/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

type envelopeKey struct {
	tenantID   id.TenantID
	envelopeID id.EnvelopeID
}

// InMemoryStore keeps envelopes with the same version-conditional update
// contract as the postgres store.
type InMemoryStore struct {
	mu        sync.RWMutex
	envelopes map[envelopeKey]*models.Envelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{envelopes: make(map[envelopeKey]*models.Envelope)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = make(map[envelopeKey]*models.Envelope)
}

func (s *InMemoryStore) Create(_ context.Context, envelope *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := envelopeKey{tenantID: envelope.TenantID, envelopeID: envelope.ID}
	if _, exists := s.envelopes[key]; exists {
		return sentinel.ErrConflict
	}
	copied := *envelope
	s.envelopes[key] = &copied
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.envelopes[envelopeKey{tenantID: tenantID, envelopeID: envelopeID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

// Update applies the envelope only when the stored version matches the
// version the caller read, then advances it.
func (s *InMemoryStore) Update(_ context.Context, envelope *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := envelopeKey{tenantID: envelope.TenantID, envelopeID: envelope.ID}
	stored, ok := s.envelopes[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != envelope.Version {
		return sentinel.ErrConflict
	}
	copied := *envelope
	copied.Version++
	s.envelopes[key] = &copied
	envelope.Version = copied.Version
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := envelopeKey{tenantID: tenantID, envelopeID: envelopeID}
	if _, ok := s.envelopes[key]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.envelopes, key)
	return nil
}

// List returns the tenant's envelopes newest first. An empty status
// matches all statuses.
func (s *InMemoryStore) List(_ context.Context, tenantID id.TenantID, status models.Status, limit int) ([]models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Envelope
	for key, stored := range s.envelopes {
		if key.tenantID != tenantID {
			continue
		}
		if status != "" && stored.Status != status {
			continue
		}
		out = append(out, *stored)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExpired returns live envelopes whose deadline has passed, oldest
// deadline first, across all tenants.
func (s *InMemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Envelope
	for _, stored := range s.envelopes {
		if stored.Status != models.StatusSent && stored.Status != models.StatusInProgress {
			continue
		}
		if stored.ExpiresAt == nil || now.Before(*stored.ExpiresAt) {
			continue
		}
		out = append(out, *stored)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
