package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"signet/internal/audit/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// Service defines the interface for audit trail queries.
type Service interface {
	GetTrail(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID, cursor string, limit int) (*models.Trail, error)
	VerifyChain(ctx context.Context, tenantID id.TenantID, envelopeID id.EnvelopeID) (bool, string, error)
}

// Handler wires audit trail endpoints to the audit service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an audit handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/envelopes/{envelopeID}/audit-trail", h.HandleGetTrail)
	r.Get("/envelopes/{envelopeID}/audit-trail/verify", h.HandleVerifyChain)
}

// HandleGetTrail handles GET /envelopes/{envelopeID}/audit-trail requests.
func (h *Handler) HandleGetTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "tenant context required"))
		return
	}

	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cursor := r.URL.Query().Get("cursor")

	trail, err := h.service.GetTrail(ctx, tenantID, envelopeID, cursor, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit trail fetch failed",
			"request_id", requestID,
			"envelope_id", envelopeID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromTrail(trail))
}

// HandleVerifyChain handles GET /envelopes/{envelopeID}/audit-trail/verify requests.
func (h *Handler) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "tenant context required"))
		return
	}

	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	valid, detail, err := h.service.VerifyChain(ctx, tenantID, envelopeID)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit chain verification failed",
			"request_id", requestID,
			"envelope_id", envelopeID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{Valid: valid, Detail: detail})
}
