package memory

import (
	"context"
	"sync"

	"signet/internal/audit/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

type chainKey struct {
	tenant   id.TenantID
	envelope id.EnvelopeID
}

// InMemoryStore keeps each envelope's chain as a dense slice indexed by seq.
// Appends are conditional on the seq slot, matching the postgres store's
// single-winner semantics.
type InMemoryStore struct {
	mu     sync.RWMutex
	chains map[chainKey][]models.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{chains: make(map[chainKey][]models.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains = make(map[chainKey][]models.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chainKey{event.TenantID, event.EnvelopeID}
	chain := s.chains[key]
	if event.Seq != uint64(len(chain))+1 {
		return sentinel.ErrConflict
	}
	s.chains[key] = append(chain, *event)
	return nil
}

func (s *InMemoryStore) Tail(_ context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[chainKey{tenantID, envelopeID}]
	if len(chain) == 0 {
		return nil, sentinel.ErrNotFound
	}
	tail := chain[len(chain)-1]
	return &tail, nil
}

func (s *InMemoryStore) ListBySeq(_ context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, afterSeq uint64, limit int) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[chainKey{tenantID, envelopeID}]
	var out []models.Event
	for _, e := range chain {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
