package handler

import (
	"strings"

	dErrors "signet/pkg/domain-errors"
)

// CreateTenantRequest is the HTTP request body for POST /admin/tenants.
type CreateTenantRequest struct {
	Name string `json:"name"`
}

func (r *CreateTenantRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}
