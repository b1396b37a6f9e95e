// Package memory provides an in-memory blob store for tests and local
// development. Semantics mirror the S3 store: a put against an existing
// key leaves the stored bytes untouched.
package memory

import (
	"context"
	"sync"

	"signet/pkg/platform/sentinel"
)

// InMemoryStore keeps blobs keyed by their object key.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewInMemoryStore creates an empty in-memory blob store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

// Put stores a copy of data under key. Existing keys are left untouched.
func (s *InMemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blobs[key]; exists {
		return nil
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

// Fetch returns a copy of the blob stored under key. Returns
// sentinel.ErrNotFound when no blob holds the key.
func (s *InMemoryStore) Fetch(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Exists reports whether a blob is stored under key.
func (s *InMemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blobs[key]
	return ok, nil
}

// Delete removes the blob under key. Deleting an absent key is not an
// error.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, key)
	return nil
}

// Clear removes all blobs. Test helper.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[string][]byte)
}
