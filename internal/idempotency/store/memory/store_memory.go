// Package memory provides an in-memory idempotency store for tests and
// local development. Semantics mirror the postgres store: the insert is
// conditional on the key being free and completion is conditional on the
// record still being in progress.
package memory

import (
	"context"
	"sync"
	"time"

	"signet/internal/idempotency/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

// InMemoryStore keeps idempotency records keyed by their derived key.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Record
}

// NewInMemoryStore creates an empty in-memory idempotency store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.Record)}
}

// PutInProgress inserts the reservation. Returns sentinel.ErrConflict
// when the key is already held.
func (s *InMemoryStore) PutInProgress(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.Key]; exists {
		return sentinel.ErrConflict
	}
	s.records[record.Key] = clone(record)
	return nil
}

// Get returns the record for the key within the tenant.
func (s *InMemoryStore) Get(_ context.Context, tenantID id.TenantID, key string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok || record.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return clone(record), nil
}

// Complete flips an in_progress record to completed with the response
// snapshot. Returns sentinel.ErrConflict when no in_progress record
// holds the key for the tenant.
func (s *InMemoryStore) Complete(_ context.Context, tenantID id.TenantID, key string, code int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok || record.TenantID != tenantID || record.Status != models.StatusInProgress {
		return sentinel.ErrConflict
	}
	record.Status = models.StatusCompleted
	record.ResultCode = code
	record.ResultBody = append([]byte(nil), body...)
	return nil
}

// Release removes the tenant's own in_progress reservation.
func (s *InMemoryStore) Release(_ context.Context, tenantID id.TenantID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok || record.TenantID != tenantID || record.Status != models.StatusInProgress {
		return sentinel.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// TakeOver removes a record whose retention window has passed. Returns
// sentinel.ErrConflict when the record is live or already gone.
func (s *InMemoryStore) TakeOver(_ context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok || !record.Expired(now) {
		return sentinel.ErrConflict
	}
	delete(s.records, key)
	return nil
}

// DeleteExpired removes up to limit expired records and reports how many
// went.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, record := range s.records {
		if deleted >= limit {
			break
		}
		if record.Expired(now) {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Clear removes all records. Test helper.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*models.Record)
}

func clone(r *models.Record) *models.Record {
	c := *r
	c.ResultBody = append([]byte(nil), r.ResultBody...)
	return &c
}
