package models

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

func TestNewTenant(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("creates an active tenant with trimmed name", func(t *testing.T) {
		tenant, err := NewTenant(id.TenantID(uuid.New()), "  Acme Corp  ", now)
		require.NoError(t, err)
		assert.Equal(t, "Acme Corp", tenant.Name)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.True(t, tenant.IsActive())
		assert.Equal(t, now, tenant.CreatedAt)
		assert.Equal(t, now, tenant.UpdatedAt)
	})

	t.Run("rejects blank and oversized names", func(t *testing.T) {
		_, err := NewTenant(id.TenantID(uuid.New()), "   ", now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = NewTenant(id.TenantID(uuid.New()), strings.Repeat("x", 129), now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestTenantStatusFlip(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	tenant, err := NewTenant(id.TenantID(uuid.New()), "Acme Corp", now)
	require.NoError(t, err)

	t.Run("deactivates once", func(t *testing.T) {
		require.NoError(t, tenant.CanDeactivate())
		tenant.ApplyDeactivation(later)
		assert.Equal(t, TenantStatusInactive, tenant.Status)
		assert.False(t, tenant.IsActive())
		assert.Equal(t, later, tenant.UpdatedAt)

		err := tenant.CanDeactivate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("reactivates once", func(t *testing.T) {
		require.NoError(t, tenant.CanReactivate())
		tenant.ApplyReactivation(later.Add(time.Hour))
		assert.True(t, tenant.IsActive())

		err := tenant.CanReactivate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}
