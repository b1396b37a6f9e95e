// Package handler exposes the two faces of signing tokens over HTTP:
// operator routes that mint grants for an envelope, and the signer
// ceremony routes where a token is the only credential presented.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	envelopemodels "signet/internal/envelope/models"
	partymodels "signet/internal/party/models"
	"signet/internal/signingtoken/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// Service defines the token operations the handler exposes.
type Service interface {
	Mint(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, scope id.SigningScope) (*models.Grant, error)
	MintForEnvelope(ctx context.Context, envelopeID id.EnvelopeID) ([]models.Grant, error)
	Resolve(ctx context.Context, raw string) (*models.Session, error)
	Redeem(ctx context.Context, raw string, action id.SigningScope, accessCode string) (*models.Session, error)
}

// Envelopes is the slice of the envelope service the signer ceremony
// drives once a token has authenticated the caller.
type Envelopes interface {
	Get(ctx context.Context, envelopeID id.EnvelopeID) (*envelopemodels.Envelope, error)
	GiveConsent(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) (*partymodels.Party, error)
	Sign(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, sig partymodels.Signature) (*envelopemodels.Envelope, error)
	Decline(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, reason string) (*envelopemodels.Envelope, error)
}

// Handler wires signing token endpoints to their services.
type Handler struct {
	service   Service
	envelopes Envelopes
	logger    *slog.Logger
}

// New constructs a signing token handler with its dependencies.
func New(service Service, envelopes Envelopes, logger *slog.Logger) *Handler {
	return &Handler{service: service, envelopes: envelopes, logger: logger}
}

// Register mounts both endpoint families on one router. The composition
// root mounts the families separately so each sits behind the right
// middleware; tests use this to get the full surface in one call.
func (h *Handler) Register(r chi.Router) {
	h.RegisterOperator(r)
	h.RegisterSigner(r)
}

// RegisterOperator mounts the minting routes. These are operator-facing
// and expect tenant identity from the middleware.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/envelopes/{envelopeID}/signing-tokens", h.HandleMintForEnvelope)
	r.Post("/envelopes/{envelopeID}/parties/{partyID}/signing-tokens", h.HandleMint)
}

// RegisterSigner mounts the ceremony routes, where the bearer token is
// the only credential presented.
func (h *Handler) RegisterSigner(r chi.Router) {
	r.Get("/signing/session", h.HandleSession)
	r.Post("/signing/consent", h.HandleConsent)
	r.Post("/signing/sign", h.HandleSign)
	r.Post("/signing/decline", h.HandleDecline)
}

// HandleMintForEnvelope handles POST /envelopes/{envelopeID}/signing-tokens
// requests: the send relay. One sign-scope grant per signer still able
// to act.
func (h *Handler) HandleMintForEnvelope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	grants, err := h.service.MintForEnvelope(ctx, envelopeID)
	if err != nil {
		h.writeError(ctx, w, "mint failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromGrants(envelopeID, grants))
}

// HandleMint handles
// POST /envelopes/{envelopeID}/parties/{partyID}/signing-tokens
// requests, minting a single grant with a chosen scope.
func (h *Handler) HandleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	envelopeID, err := id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	partyID, err := id.ParsePartyID(chi.URLParam(r, "partyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[MintTokenRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	grant, err := h.service.Mint(ctx, envelopeID, partyID, req.SigningScope())
	if err != nil {
		h.writeError(ctx, w, "mint failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromGrant(grant))
}

// HandleSession handles GET /signing/session requests: what the signer
// sees when they open their link.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.resolve(ctx, w, r)
	if !ok {
		return
	}

	envelope, err := h.envelopes.Get(actorContext(ctx, session), session.Claims.EnvelopeID)
	if err != nil {
		h.writeError(ctx, w, "session lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session, envelope))
}

// HandleConsent handles POST /signing/consent requests. Consent is
// captured without consuming the token; the same token then signs.
func (h *Handler) HandleConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.resolve(ctx, w, r)
	if !ok {
		return
	}
	if !session.Claims.Scope.Permits(id.ScopeSign) {
		h.writeError(ctx, w, "consent refused", dErrors.New(dErrors.CodeForbidden, "token does not permit sign").
			WithMeta("scope", session.Claims.Scope.String()))
		return
	}

	party, err := h.envelopes.GiveConsent(actorContext(ctx, session), session.Claims.EnvelopeID, session.Claims.PartyID)
	if err != nil {
		h.writeError(ctx, w, "consent failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSigner(party))
}

// HandleSign handles POST /signing/sign requests. The token is
// consumed before the signature lands; a replayed link stops here.
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, err := bearerToken(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SignRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	session, err := h.service.Redeem(ctx, raw, id.ScopeSign, req.AccessCode)
	if err != nil {
		h.writeError(ctx, w, "sign redemption failed", err)
		return
	}
	envelope, err := h.envelopes.Sign(actorContext(ctx, session), session.Claims.EnvelopeID, session.Claims.PartyID, req.Signature())
	if err != nil {
		h.writeError(ctx, w, "sign failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOutcome(envelope))
}

// HandleDecline handles POST /signing/decline requests.
func (h *Handler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, err := bearerToken(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[DeclineRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	session, err := h.service.Redeem(ctx, raw, id.ScopeDecline, req.AccessCode)
	if err != nil {
		h.writeError(ctx, w, "decline redemption failed", err)
		return
	}
	envelope, err := h.envelopes.Decline(actorContext(ctx, session), session.Claims.EnvelopeID, session.Claims.PartyID, req.Reason)
	if err != nil {
		h.writeError(ctx, w, "decline failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOutcome(envelope))
}

// resolve authenticates the bearer token without consuming it.
func (h *Handler) resolve(ctx context.Context, w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	raw, err := bearerToken(r)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	session, err := h.service.Resolve(ctx, raw)
	if err != nil {
		h.writeError(ctx, w, "token rejected", err)
		return nil, false
	}
	return session, true
}

// actorContext stamps the verified signer onto the context the
// downstream services read. The token is the tenant assertion on
// these routes; no header can override it.
func actorContext(ctx context.Context, session *models.Session) context.Context {
	ctx = requestcontext.WithTenantID(ctx, session.Claims.TenantID)
	ctx = requestcontext.WithPartyID(ctx, session.Claims.PartyID)
	return requestcontext.WithActorEmail(ctx, session.Party.Email)
}

func bearerToken(r *http.Request) (string, error) {
	const bearerPrefix = "Bearer "
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "signing token is required")
	}
	return strings.TrimSpace(raw), nil
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
