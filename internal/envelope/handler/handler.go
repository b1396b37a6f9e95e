package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"signet/internal/envelope/models"
	"signet/internal/envelope/service"
	partymodels "signet/internal/party/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// Service defines the envelope lifecycle commands the handler exposes.
type Service interface {
	Create(ctx context.Context, input service.CreateInput) (*models.Envelope, error)
	Get(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error)
	List(ctx context.Context, status models.Status, limit int) ([]models.Envelope, error)
	Delete(ctx context.Context, envelopeID id.EnvelopeID) error
	AttachDocument(ctx context.Context, envelopeID id.EnvelopeID, key, hash string) (*models.Envelope, error)
	AddParty(ctx context.Context, envelopeID id.EnvelopeID, input service.AddPartyInput) (*partymodels.Party, error)
	ListParties(ctx context.Context, envelopeID id.EnvelopeID) ([]partymodels.Party, error)
	Send(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error)
	Cancel(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error)
	GiveConsent(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) (*partymodels.Party, error)
	Sign(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, sig partymodels.Signature) (*models.Envelope, error)
	Decline(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, reason string) (*models.Envelope, error)
}

// Handler wires envelope endpoints to the envelope service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an envelope handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts envelope endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/envelopes", h.HandleCreate)
	r.Get("/envelopes", h.HandleList)
	r.Get("/envelopes/{envelopeID}", h.HandleGet)
	r.Delete("/envelopes/{envelopeID}", h.HandleDelete)
	r.Post("/envelopes/{envelopeID}/documents", h.HandleAttachDocument)
	r.Post("/envelopes/{envelopeID}/send", h.HandleSend)
	r.Post("/envelopes/{envelopeID}/cancel", h.HandleCancel)
	r.Get("/envelopes/{envelopeID}/parties", h.HandleListParties)
	r.Post("/envelopes/{envelopeID}/parties", h.HandleAddParty)
	r.Post("/envelopes/{envelopeID}/parties/{partyID}/consent", h.HandleGiveConsent)
	r.Post("/envelopes/{envelopeID}/parties/{partyID}/sign", h.HandleSign)
	r.Post("/envelopes/{envelopeID}/parties/{partyID}/decline", h.HandleDecline)
}

// HandleCreate handles POST /envelopes requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateEnvelopeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	envelope, err := h.service.Create(ctx, req.Input())
	if err != nil {
		h.writeError(ctx, w, "envelope create failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromEnvelope(envelope))
}

// HandleList handles GET /envelopes requests.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.Status(r.URL.Query().Get("status"))
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	envelopes, err := h.service.List(ctx, status, limit)
	if err != nil {
		h.writeError(ctx, w, "envelope list failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEnvelopes(envelopes))
}

// HandleGet handles GET /envelopes/{envelopeID} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	envelope, err := h.service.Get(ctx, envelopeID)
	if err != nil {
		h.writeError(ctx, w, "envelope fetch failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEnvelope(envelope))
}

// HandleDelete handles DELETE /envelopes/{envelopeID} requests.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Delete(ctx, envelopeID); err != nil {
		h.writeError(ctx, w, "envelope delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAttachDocument handles POST /envelopes/{envelopeID}/documents requests.
func (h *Handler) HandleAttachDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AttachDocumentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	envelope, err := h.service.AttachDocument(ctx, envelopeID, req.SourceKey, req.SourceHash)
	if err != nil {
		h.writeError(ctx, w, "document attach failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEnvelope(envelope))
}

// HandleSend handles POST /envelopes/{envelopeID}/send requests.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	envelope, err := h.service.Send(ctx, envelopeID)
	if err != nil {
		h.writeError(ctx, w, "envelope send failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEnvelope(envelope))
}

// HandleCancel handles POST /envelopes/{envelopeID}/cancel requests.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	envelope, err := h.service.Cancel(ctx, envelopeID)
	if err != nil {
		h.writeError(ctx, w, "envelope cancel failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEnvelope(envelope))
}

// HandleListParties handles GET /envelopes/{envelopeID}/parties requests.
func (h *Handler) HandleListParties(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	parties, err := h.service.ListParties(ctx, envelopeID)
	if err != nil {
		h.writeError(ctx, w, "party list failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromParties(parties))
}

// HandleAddParty handles POST /envelopes/{envelopeID}/parties requests.
func (h *Handler) HandleAddParty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AddPartyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	party, err := h.service.AddParty(ctx, envelopeID, req.Input())
	if err != nil {
		h.writeError(ctx, w, "party add failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromParty(party))
}

// HandleGiveConsent handles
// POST /envelopes/{envelopeID}/parties/{partyID}/consent requests.
func (h *Handler) HandleGiveConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, partyID, err := pathIDs(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	party, err := h.service.GiveConsent(ctx, envelopeID, partyID)
	if err != nil {
		h.writeError(ctx, w, "consent failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromParty(party))
}

// HandleSign handles POST /envelopes/{envelopeID}/parties/{partyID}/sign
// requests. A completion gate failure surfaces as an audit integrity
// error while the signature itself stands.
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, partyID, err := pathIDs(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SignRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	envelope, err := h.service.Sign(ctx, envelopeID, partyID, req.Signature())
	if err != nil {
		h.writeError(ctx, w, "sign failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEnvelope(envelope))
}

// HandleDecline handles
// POST /envelopes/{envelopeID}/parties/{partyID}/decline requests.
func (h *Handler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, partyID, err := pathIDs(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[DeclineRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	envelope, err := h.service.Decline(ctx, envelopeID, partyID, req.Reason)
	if err != nil {
		h.writeError(ctx, w, "decline failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEnvelope(envelope))
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

func pathIDs(r *http.Request) (id.EnvelopeID, id.PartyID, error) {
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		return id.EnvelopeID{}, id.PartyID{}, err
	}
	partyID, err := id.ParsePartyID(chi.URLParam(r, "partyID"))
	if err != nil {
		return id.EnvelopeID{}, id.PartyID{}, err
	}
	return envelopeID, partyID, nil
}
