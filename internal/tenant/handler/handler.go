// Package handler exposes the admin-facing tenant registry endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"signet/internal/tenant/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// Service defines the tenant operations the handler exposes.
type Service interface {
	Create(ctx context.Context, name string) (*models.Tenant, error)
	Get(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	Deactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	Reactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
}

// Handler wires tenant registry endpoints to the tenant service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a tenant handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts tenant endpoints on the router. These are operator
// routes; the caller is expected to shield them with the admin token
// middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/tenants", h.HandleCreate)
	r.Get("/admin/tenants/{tenantID}", h.HandleGet)
	r.Post("/admin/tenants/{tenantID}/deactivate", h.HandleDeactivate)
	r.Post("/admin/tenants/{tenantID}/reactivate", h.HandleReactivate)
}

// HandleCreate handles POST /admin/tenants requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateTenantRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	tenant, err := h.service.Create(ctx, req.Name)
	if err != nil {
		h.writeError(ctx, w, "tenant create failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromTenant(tenant))
}

// HandleGet handles GET /admin/tenants/{tenantID} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tenant, err := h.service.Get(ctx, tenantID)
	if err != nil {
		h.writeError(ctx, w, "tenant fetch failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromTenant(tenant))
}

// HandleDeactivate handles POST /admin/tenants/{tenantID}/deactivate
// requests.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.flip(w, r, "tenant deactivate failed", h.service.Deactivate)
}

// HandleReactivate handles POST /admin/tenants/{tenantID}/reactivate
// requests.
func (h *Handler) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	h.flip(w, r, "tenant reactivate failed", h.service.Reactivate)
}

func (h *Handler) flip(w http.ResponseWriter, r *http.Request, msg string, op func(context.Context, id.TenantID) (*models.Tenant, error)) {
	ctx := r.Context()
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tenant, err := op(ctx, tenantID)
	if err != nil {
		h.writeError(ctx, w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromTenant(tenant))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeUnavailable) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
