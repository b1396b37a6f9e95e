// Package memory provides an in-memory tenant store for tests and
// local development.
package memory

import (
	"context"
	"strings"
	"sync"

	"signet/internal/tenant/models"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

// InMemoryStore keeps tenants in a mutex-guarded map with a
// case-insensitive name index.
type InMemoryStore struct {
	mu      sync.RWMutex
	tenants map[id.TenantID]*models.Tenant
	names   map[string]id.TenantID
}

// NewInMemoryStore creates an empty in-memory tenant store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tenants: make(map[id.TenantID]*models.Tenant),
		names:   make(map[string]id.TenantID),
	}
}

// CreateIfNameAvailable inserts the tenant unless its name is already
// taken. Names are unique case-insensitively.
func (s *InMemoryStore) CreateIfNameAvailable(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(tenant.Name)
	if _, taken := s.names[key]; taken {
		return sentinel.ErrAlreadyUsed
	}
	copied := *tenant
	s.tenants[tenant.ID] = &copied
	s.names[key] = tenant.ID
	return nil
}

// FindByID returns the tenant with the given id.
func (s *InMemoryStore) FindByID(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *tenant
	return &copied, nil
}

// FindByName returns the tenant with the given name, case-insensitively.
func (s *InMemoryStore) FindByName(_ context.Context, name string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID, ok := s.names[strings.ToLower(name)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.tenants[tenantID]
	return &copied, nil
}

// Execute runs validate then mutate against the stored tenant while
// holding the write lock, and persists the result. The postgres twin
// holds a row lock for the same window.
func (s *InMemoryStore) Execute(_ context.Context, tenantID id.TenantID, validate func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	if err := validate(&copied); err != nil {
		return nil, err
	}
	mutate(&copied)
	s.tenants[tenantID] = &copied

	out := copied
	return &out, nil
}
