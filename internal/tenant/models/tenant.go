package models

import (
	"strings"
	"time"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

// TenantStatus is the tenant lifecycle position. There are exactly two.
type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "active"
	TenantStatusInactive TenantStatus = "inactive"
)

// CanTransitionTo permits only the active/inactive flip.
func (s TenantStatus) CanTransitionTo(next TenantStatus) bool {
	switch s {
	case TenantStatusActive:
		return next == TenantStatusInactive
	case TenantStatusInactive:
		return next == TenantStatusActive
	default:
		return false
	}
}

// Tenant is the multi-tenancy root. Every envelope, signer and audit
// event hangs off one tenant.
//
// Deactivation does not cascade status changes into the tenant's
// envelopes. The service layer checks the tenant on every state-changing
// command instead, so suspending a tenant takes effect immediately and
// reactivating restores service without touching a single envelope row.
// The tenant status stays the one source of truth.
type Tenant struct {
	ID        id.TenantID  `json:"id"`
	Name      string       `json:"name"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewTenant constructs an active tenant. Names are trimmed, required,
// and capped at 128 characters.
func NewTenant(tenantID id.TenantID, name string, now time.Time) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant name is required")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant name must be 128 characters or less")
	}
	return &Tenant{
		ID:        tenantID,
		Name:      name,
		Status:    TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// CanDeactivate checks the transition to inactive. Pair with
// ApplyDeactivation inside a store Execute callback so validation and
// mutation happen under the same lock.
func (t *Tenant) CanDeactivate() error {
	if !t.Status.CanTransitionTo(TenantStatusInactive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already inactive")
	}
	return nil
}

// ApplyDeactivation transitions the tenant to inactive.
func (t *Tenant) ApplyDeactivation(now time.Time) {
	t.Status = TenantStatusInactive
	t.UpdatedAt = now
}

// CanReactivate checks the transition back to active.
func (t *Tenant) CanReactivate() error {
	if !t.Status.CanTransitionTo(TenantStatusActive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already active")
	}
	return nil
}

// ApplyReactivation transitions the tenant to active.
func (t *Tenant) ApplyReactivation(now time.Time) {
	t.Status = TenantStatusActive
	t.UpdatedAt = now
}
