package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"signet/internal/outbox/models"
	"signet/pkg/platform/sentinel"
)

// InMemoryStore mirrors the postgres store's conditional-update semantics:
// status marks only move records that are still pending or failed.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[uuid.UUID]*models.Record)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[uuid.UUID]*models.Record)
}

func (s *InMemoryStore) Stage(_ context.Context, records ...*models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		copied := *r
		s.records[r.ID] = &copied
	}
	return nil
}

func (s *InMemoryStore) ListDispatchable(_ context.Context, maxAttempts int, limit int) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(r *models.Record) bool {
		if r.Status == models.StatusPending {
			return true
		}
		return r.Status == models.StatusFailed && r.Attempts < maxAttempts
	}), nil
}

func (s *InMemoryStore) ListFailed(_ context.Context, limit int) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(r *models.Record) bool {
		return r.Status == models.StatusFailed
	}), nil
}

// collect returns matching records ordered by occurred_at then id, the same
// order the postgres partial index serves. Callers hold the lock.
func (s *InMemoryStore) collect(limit int, match func(*models.Record) bool) []models.Record {
	var out []models.Record
	for _, r := range s.records {
		if match(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *InMemoryStore) MarkDispatched(_ context.Context, recordID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !r.Status.CanTransitionTo(models.StatusDispatched) {
		return sentinel.ErrConflict
	}
	r.Status = models.StatusDispatched
	return nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, recordID uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !r.Status.CanTransitionTo(models.StatusFailed) {
		return sentinel.ErrConflict
	}
	r.Status = models.StatusFailed
	r.Attempts++
	r.LastError = lastError
	return nil
}

// Get returns a copy of one record, for tests.
func (s *InMemoryStore) Get(recordID uuid.UUID) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return models.Record{}, false
	}
	return *r, true
}
