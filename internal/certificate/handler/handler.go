// Package handler exposes certificate issuance over HTTP. The response
// body is the certificate itself; there is no separate response shape
// because the certificate is already a portable JSON document.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"signet/internal/certificate/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// Service defines the certificate operation the handler exposes.
type Service interface {
	Issue(ctx context.Context, envelopeID id.EnvelopeID) (*models.Certificate, error)
}

// Handler wires the certificate endpoint to the certificate service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a certificate handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the certificate endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/envelopes/{envelopeID}/certificate", h.HandleIssue)
}

// HandleIssue handles GET /envelopes/{envelopeID}/certificate requests.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	cert, err := h.service.Issue(ctx, envelopeID)
	if err != nil {
		h.writeError(ctx, w, "certificate issue failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeUnavailable) ||
		dErrors.HasCode(err, dErrors.CodeAuditIntegrity) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
