package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"signet/internal/party/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

type envelopeKey struct {
	tenantID   id.TenantID
	envelopeID id.EnvelopeID
}

// InMemoryStore keeps signers per envelope with the same id-keyset paging
// contract as the postgres store.
type InMemoryStore struct {
	mu      sync.RWMutex
	parties map[envelopeKey]map[id.PartyID]*models.Party
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{parties: make(map[envelopeKey]map[id.PartyID]*models.Party)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parties = make(map[envelopeKey]map[id.PartyID]*models.Party)
}

func (s *InMemoryStore) Add(_ context.Context, party *models.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := envelopeKey{tenantID: party.TenantID, envelopeID: party.EnvelopeID}
	if s.parties[key] == nil {
		s.parties[key] = make(map[id.PartyID]*models.Party)
	}
	if _, exists := s.parties[key][party.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *party
	s.parties[key][party.ID] = &copied
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, partyID id.PartyID) (*models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	party, ok := s.parties[envelopeKey{tenantID: tenantID, envelopeID: envelopeID}][partyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *party
	return &copied, nil
}

func (s *InMemoryStore) Update(_ context.Context, party *models.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := envelopeKey{tenantID: party.TenantID, envelopeID: party.EnvelopeID}
	if _, ok := s.parties[key][party.ID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *party
	s.parties[key][party.ID] = &copied
	return nil
}

func (s *InMemoryStore) MarkInvited(_ context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, partyIDs []id.PartyID, invitedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.parties[envelopeKey{tenantID: tenantID, envelopeID: envelopeID}]
	for _, partyID := range partyIDs {
		party, ok := chain[partyID]
		if !ok || party.Status != models.StatusPending {
			continue
		}
		party.Status = models.StatusInvited
		party.UpdatedAt = invitedAt
	}
	return nil
}

func (s *InMemoryStore) ListPage(_ context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, afterID id.PartyID, limit int) ([]models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var page []models.Party
	after := uuid.UUID(afterID)
	for _, party := range s.parties[envelopeKey{tenantID: tenantID, envelopeID: envelopeID}] {
		partyUUID := uuid.UUID(party.ID)
		if bytes.Compare(partyUUID[:], after[:]) > 0 {
			page = append(page, *party)
		}
	}
	sort.Slice(page, func(i, j int) bool {
		left, right := uuid.UUID(page[i].ID), uuid.UUID(page[j].ID)
		return bytes.Compare(left[:], right[:]) < 0
	})
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}
