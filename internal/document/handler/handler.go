package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"signet/internal/document/service"
	envelopemodels "signet/internal/envelope/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// maxContentBytes bounds raw uploads at the HTTP boundary. The service
// applies its own, tighter ceiling.
const maxContentBytes = 32 << 20

// Service defines the document operations the handler exposes.
type Service interface {
	Upload(ctx context.Context, envelopeID id.EnvelopeID, data []byte) (*envelopemodels.Envelope, error)
	StoreRendition(ctx context.Context, envelopeID id.EnvelopeID, variant service.Variant, data []byte) (*envelopemodels.Envelope, error)
	Download(ctx context.Context, envelopeID id.EnvelopeID, variant service.Variant) (*service.Content, error)
	Describe(ctx context.Context, envelopeID id.EnvelopeID) (*service.Info, error)
}

// Handler wires document endpoints to the document service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a document handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts document endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/envelopes/{envelopeID}/documents", h.HandleDescribe)
	r.Put("/envelopes/{envelopeID}/documents/content", h.HandleUpload)
	r.Get("/envelopes/{envelopeID}/documents/{variant}/content", h.HandleDownload)
	r.Put("/envelopes/{envelopeID}/documents/{variant}/content", h.HandleStoreRendition)
}

// HandleUpload handles PUT /envelopes/{envelopeID}/documents/content
// requests. The body is the raw document.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	data, err := readContent(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	envelope, err := h.service.Upload(ctx, envelopeID, data)
	if err != nil {
		h.writeError(ctx, w, "document upload failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, UploadResponse{
		EnvelopeID: envelope.ID.String(),
		SourceKey:  envelope.SourceKey,
		SourceHash: envelope.SourceHash,
		SizeBytes:  len(data),
	})
}

// HandleStoreRendition handles
// PUT /envelopes/{envelopeID}/documents/{variant}/content requests from
// the render pipeline.
func (h *Handler) HandleStoreRendition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, variant, err := pathRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	data, err := readContent(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	envelope, err := h.service.StoreRendition(ctx, envelopeID, variant, data)
	if err != nil {
		h.writeError(ctx, w, "rendition store failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRendition(envelope, variant))
}

// HandleDownload handles
// GET /envelopes/{envelopeID}/documents/{variant}/content requests. The
// verified digest rides along as the ETag.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, variant, err := pathRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	content, err := h.service.Download(ctx, envelopeID, variant)
	if err != nil {
		h.writeError(ctx, w, "document download failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("ETag", strconv.Quote(content.Hash))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", envelopeID.String()+"-"+string(variant)+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(len(content.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content.Data)
}

// HandleDescribe handles GET /envelopes/{envelopeID}/documents requests.
func (h *Handler) HandleDescribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	info, err := h.service.Describe(ctx, envelopeID)
	if err != nil {
		h.writeError(ctx, w, "document describe failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromInfo(info))
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

func pathRef(r *http.Request) (id.EnvelopeID, service.Variant, error) {
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		return id.EnvelopeID{}, "", err
	}
	variant, err := service.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		return id.EnvelopeID{}, "", err
	}
	return envelopeID, variant, nil
}

// readContent drains the raw request body under the boundary cap.
func readContent(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer func() {
		_ = r.Body.Close()
	}()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContentBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, dErrors.New(dErrors.CodeValidation, "document exceeds the upload size limit").
				WithMeta("limit_bytes", int(maxErr.Limit))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "read request body")
	}
	return data, nil
}
