package handler

import (
	"time"

	"signet/internal/tenant/models"
)

// TenantResponse is the HTTP representation of a tenant.
type TenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromTenant converts the domain model to an HTTP response.
func FromTenant(t *models.Tenant) TenantResponse {
	return TenantResponse{
		ID:        t.ID.String(),
		Name:      t.Name,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
