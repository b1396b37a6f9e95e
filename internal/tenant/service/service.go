// Package service orchestrates the tenant registry. Besides
// create/lookup and the active/inactive flip, it exposes AssertActive,
// the guard every envelope command runs: deactivating a tenant blocks
// all of its state-changing operations at once without touching a
// single envelope row.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"signet/internal/tenant/metrics"
	"signet/internal/tenant/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

// Store persists tenants. CreateIfNameAvailable reports
// sentinel.ErrAlreadyUsed on a taken name; Execute runs the callbacks
// under the store's lock so validation and mutation cannot interleave
// with a rival update.
type Store interface {
	CreateIfNameAvailable(ctx context.Context, tenant *models.Tenant) error
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	FindByName(ctx context.Context, name string) (*models.Tenant, error)
	Execute(ctx context.Context, tenantID id.TenantID, validate func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error)
}

// Service manages the tenant registry.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the tenant service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new active tenant. Names are unique across the
// registry, case-insensitively.
func (s *Service) Create(ctx context.Context, name string) (*models.Tenant, error) {
	tenant, err := models.NewTenant(id.TenantID(uuid.New()), name, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateIfNameAvailable(ctx, tenant); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "tenant name must be unique").
				WithMeta("name", tenant.Name)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "create tenant")
	}

	s.metrics.IncrementCreated()
	s.logger.InfoContext(ctx, "tenant created", "tenant_id", tenant.ID, "name", tenant.Name)
	return tenant, nil
}

// Get returns one tenant by id.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant id is required")
	}
	tenant, err := s.store.FindByID(ctx, tenantID)
	if err != nil {
		return nil, wrapLookupErr(err)
	}
	return tenant, nil
}

// GetByName returns one tenant by name, case-insensitively.
func (s *Service) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant name is required")
	}
	tenant, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, wrapLookupErr(err)
	}
	return tenant, nil
}

// Deactivate suspends the tenant. Every envelope command for it fails
// from this moment until reactivation.
func (s *Service) Deactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	tenant, err := s.flip(ctx, tenantID,
		(*models.Tenant).CanDeactivate,
		(*models.Tenant).ApplyDeactivation,
		"tenant is already inactive",
	)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementStatusChange("deactivate")
	s.logger.InfoContext(ctx, "tenant deactivated", "tenant_id", tenant.ID)
	return tenant, nil
}

// Reactivate restores a suspended tenant.
func (s *Service) Reactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	tenant, err := s.flip(ctx, tenantID,
		(*models.Tenant).CanReactivate,
		(*models.Tenant).ApplyReactivation,
		"tenant is already active",
	)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementStatusChange("reactivate")
	s.logger.InfoContext(ctx, "tenant reactivated", "tenant_id", tenant.ID)
	return tenant, nil
}

// AssertActive refuses unless the tenant exists and is active. This is
// the cascade: it runs on every envelope command, and a store failure
// refuses rather than waves through.
func (s *Service) AssertActive(ctx context.Context, tenantID id.TenantID) error {
	defer s.metrics.ObserveGuard(time.Now())

	tenant, err := s.store.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncrementGuardRefusal()
			return dErrors.New(dErrors.CodeForbidden, "tenant is not registered").
				WithMeta("tenant_id", tenantID.String())
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "check tenant status")
	}
	if !tenant.IsActive() {
		s.metrics.IncrementGuardRefusal()
		return dErrors.New(dErrors.CodeForbidden, "tenant is inactive").
			WithMeta("tenant_id", tenantID.String())
	}
	return nil
}

// flip runs one status transition through the store's Execute so the
// check and the change happen under the same lock.
func (s *Service) flip(ctx context.Context, tenantID id.TenantID, can func(*models.Tenant) error, apply func(*models.Tenant, time.Time), conflictMsg string) (*models.Tenant, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant id is required")
	}

	now := requestcontext.Now(ctx)
	tenant, err := s.store.Execute(ctx, tenantID,
		func(t *models.Tenant) error {
			if err := can(t); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.New(dErrors.CodeConflict, conflictMsg).
						WithMeta("tenant_id", tenantID.String())
				}
				return err
			}
			return nil
		},
		func(t *models.Tenant) {
			apply(t, now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "tenant not found")
		}
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "update tenant")
	}
	return tenant, nil
}

func wrapLookupErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "tenant not found")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "query tenant")
}
