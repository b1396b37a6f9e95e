package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	auditservice "signet/internal/audit/service"
	auditmemory "signet/internal/audit/store/memory"
	envelopehandler "signet/internal/envelope/handler"
	envelopeservice "signet/internal/envelope/service"
	envelopememory "signet/internal/envelope/store/memory"
	outboxmodels "signet/internal/outbox/models"
	outboxservice "signet/internal/outbox/service"
	outboxmemory "signet/internal/outbox/store/memory"
	partyservice "signet/internal/party/service"
	partymemory "signet/internal/party/store/memory"
	tokenservice "signet/internal/signingtoken/service"
	tokenmemory "signet/internal/signingtoken/store/memory"
	id "signet/pkg/domain"
	"signet/pkg/platform/tx"
	"signet/pkg/requestcontext"
)

var ceremonySecret = []byte("0123456789abcdef0123456789abcdef")

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, events []outboxmodels.BusEvent) []outboxmodels.PublishResult {
	out := make([]outboxmodels.PublishResult, len(events))
	for i, e := range events {
		out[i] = outboxmodels.PublishResult{ID: e.ID}
	}
	return out
}

// newCeremonyRouters builds one shared service set and mounts it twice:
// an operator router with tenant-injecting middleware for envelope and
// mint endpoints, and a bare signer router where the bearer token is the
// only credential. State created through one is visible through the other.
func newCeremonyRouters(t *testing.T, tenantID id.TenantID, userID id.UserID) (operator, signer http.Handler) {
	t.Helper()
	parties := partyservice.New(partymemory.NewInMemoryStore())
	audit := auditservice.New(auditmemory.NewInMemoryStore())
	outbox := outboxservice.New(outboxmemory.NewInMemoryStore(), nopPublisher{})
	envelopes := envelopeservice.New(envelopememory.NewInMemoryStore(), parties, audit, outbox, tx.NopRunner{})
	tokens, err := tokenservice.New(ceremonySecret, tokenmemory.NewInMemoryStore(), envelopes, parties)
	if err != nil {
		t.Fatalf("failed to build token service: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(tokens, envelopes, logger)

	op := chi.NewRouter()
	op.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requestcontext.WithTenantID(req.Context(), tenantID)
			ctx = requestcontext.WithUserID(ctx, userID)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	envelopehandler.New(envelopes, logger).Register(op)
	h.Register(op)

	sg := chi.NewRouter()
	h.Register(sg)
	return op, sg
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doBearer(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

type envelopeBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type partyBody struct {
	ID string `json:"id"`
}

type grantBody struct {
	PartyID string `json:"party_id"`
	Email   string `json:"email"`
	Scope   string `json:"scope"`
	Token   string `json:"token"`
}

type mintBody struct {
	EnvelopeID string      `json:"envelope_id"`
	Grants     []grantBody `json:"grants"`
}

type signerBody struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Status       string `json:"status"`
	ConsentGiven bool   `json:"consent_given"`
}

type sessionBody struct {
	EnvelopeID     string     `json:"envelope_id"`
	Title          string     `json:"title"`
	EnvelopeStatus string     `json:"envelope_status"`
	Scope          string     `json:"scope"`
	Signer         signerBody `json:"signer"`
}

type outcomeBody struct {
	EnvelopeID string `json:"envelope_id"`
	Status     string `json:"status"`
}

// sentEnvelope walks a fresh envelope through document metadata, one
// signer, and send, returning the envelope base path and the party id.
func sentEnvelope(t *testing.T, operator http.Handler, accessCode string) (string, string) {
	t.Helper()
	created := decodeBody[envelopeBody](t, doJSON(t, operator, http.MethodPost, "/envelopes", map[string]any{
		"title": "Consulting Agreement",
	}))
	base := "/envelopes/" + created.ID

	if rec := doJSON(t, operator, http.MethodPost, base+"/documents", map[string]any{
		"source_key":  "tenants/acme/source.pdf",
		"source_hash": "sha256:f00d",
	}); rec.Code != http.StatusOK {
		t.Fatalf("document attach failed: %d %s", rec.Code, rec.Body.String())
	}
	signer := map[string]any{"email": "signer@acme.test", "order_index": 1}
	if accessCode != "" {
		signer["access_code"] = accessCode
	}
	party := decodeBody[partyBody](t, doJSON(t, operator, http.MethodPost, base+"/parties", signer))
	if rec := doJSON(t, operator, http.MethodPost, base+"/send", nil); rec.Code != http.StatusOK {
		t.Fatalf("send failed: %d %s", rec.Code, rec.Body.String())
	}
	return base, party.ID
}

// mintSignToken mints grants for every outstanding signer and returns
// the single grant these fixtures produce.
func mintSignToken(t *testing.T, operator http.Handler, base string) grantBody {
	t.Helper()
	rec := doJSON(t, operator, http.MethodPost, base+"/signing-tokens", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint failed: %d %s", rec.Code, rec.Body.String())
	}
	minted := decodeBody[mintBody](t, rec)
	if len(minted.Grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(minted.Grants))
	}
	return minted.Grants[0]
}

func TestSigningCeremonyViaHandler(t *testing.T) {
	operator, signer := newCeremonyRouters(t, id.TenantID(uuid.New()), id.UserID(uuid.New()))
	base, partyID := sentEnvelope(t, operator, "")

	grant := mintSignToken(t, operator, base)
	if grant.Scope != "sign" || grant.PartyID != partyID || grant.Email != "signer@acme.test" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if grant.Token == "" {
		t.Fatalf("expected a token in the grant")
	}

	rec := doBearer(t, signer, http.MethodGet, "/signing/session", grant.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 resolving session, got %d: %s", rec.Code, rec.Body.String())
	}
	session := decodeBody[sessionBody](t, rec)
	if session.Title != "Consulting Agreement" || session.EnvelopeStatus != "sent" || session.Scope != "sign" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.Signer.Email != "signer@acme.test" || session.Signer.ConsentGiven {
		t.Fatalf("unexpected session signer: %+v", session.Signer)
	}

	rec = doBearer(t, signer, http.MethodPost, "/signing/consent", grant.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 recording consent, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[signerBody](t, rec); !got.ConsentGiven {
		t.Fatalf("expected consent recorded, got %+v", got)
	}

	rec = doBearer(t, signer, http.MethodPost, "/signing/sign", grant.Token, map[string]any{
		"document_hash": "sha256:f00d",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 signing, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[outcomeBody](t, rec); got.Status != "completed" {
		t.Fatalf("expected completed envelope, got %s", got.Status)
	}

	// The signer is terminal now, so a second attempt conflicts before
	// the redemption store is even consulted.
	rec = doBearer(t, signer, http.MethodPost, "/signing/sign", grant.Token, map[string]any{
		"document_hash": "sha256:f00d",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 re-signing, got %d: %s", rec.Code, rec.Body.String())
	}

	// Viewing stays open after completion.
	rec = doBearer(t, signer, http.MethodGet, "/signing/session", grant.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 resolving session after completion, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[sessionBody](t, rec); got.EnvelopeStatus != "completed" {
		t.Fatalf("expected completed session, got %s", got.EnvelopeStatus)
	}
}

func TestSigningAccessCodeViaHandler(t *testing.T) {
	operator, signer := newCeremonyRouters(t, id.TenantID(uuid.New()), id.UserID(uuid.New()))
	base, _ := sentEnvelope(t, operator, "7421")
	grant := mintSignToken(t, operator, base)

	// Access codes gate redemption, not consent.
	if rec := doBearer(t, signer, http.MethodPost, "/signing/consent", grant.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("consent failed: %d %s", rec.Code, rec.Body.String())
	}

	rec := doBearer(t, signer, http.MethodPost, "/signing/sign", grant.Token, map[string]any{
		"document_hash": "sha256:f00d",
		"access_code":   "9999",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong access code, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doBearer(t, signer, http.MethodPost, "/signing/sign", grant.Token, map[string]any{
		"document_hash": "sha256:f00d",
		"access_code":   "7421",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after the failed code attempt, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[outcomeBody](t, rec); got.Status != "completed" {
		t.Fatalf("expected completed envelope, got %s", got.Status)
	}
}

func TestSigningDeclineViaHandler(t *testing.T) {
	operator, signer := newCeremonyRouters(t, id.TenantID(uuid.New()), id.UserID(uuid.New()))
	base, partyID := sentEnvelope(t, operator, "")

	rec := doJSON(t, operator, http.MethodPost, base+"/parties/"+partyID+"/signing-tokens", map[string]any{
		"scope": "decline",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("decline mint failed: %d %s", rec.Code, rec.Body.String())
	}
	grant := decodeBody[grantBody](t, rec)
	if grant.Scope != "decline" {
		t.Fatalf("expected a decline grant, got %+v", grant)
	}

	// A decline grant cannot be spent on signing, and the refusal must
	// not consume it.
	rec = doBearer(t, signer, http.MethodPost, "/signing/sign", grant.Token, map[string]any{
		"document_hash": "sha256:f00d",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 signing with a decline grant, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doBearer(t, signer, http.MethodPost, "/signing/decline", grant.Token, map[string]any{
		"reason": "pricing terms changed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 declining, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[outcomeBody](t, rec); got.Status != "declined" {
		t.Fatalf("expected declined envelope, got %s", got.Status)
	}
}

func TestSigningTokenRequired(t *testing.T) {
	_, signer := newCeremonyRouters(t, id.TenantID(uuid.New()), id.UserID(uuid.New()))

	rec := doJSON(t, signer, http.MethodGet, "/signing/session", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}

	rec = doBearer(t, signer, http.MethodGet, "/signing/session", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token, got %d", rec.Code)
	}
}

func TestMintRequiresTenant(t *testing.T) {
	operator, signer := newCeremonyRouters(t, id.TenantID(uuid.New()), id.UserID(uuid.New()))
	base, _ := sentEnvelope(t, operator, "")

	// The signer router carries no tenant middleware, so operator-facing
	// mint routes fail there.
	rec := doJSON(t, signer, http.MethodPost, base+"/signing-tokens", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 minting without tenant context, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMintGuardsViaHandler(t *testing.T) {
	operator, _ := newCeremonyRouters(t, id.TenantID(uuid.New()), id.UserID(uuid.New()))

	created := decodeBody[envelopeBody](t, doJSON(t, operator, http.MethodPost, "/envelopes", map[string]any{
		"title": "Consulting Agreement",
	}))

	rec := doJSON(t, operator, http.MethodPost, "/envelopes/"+created.ID+"/signing-tokens", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 minting for a draft, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, operator, http.MethodPost, "/envelopes/not-a-uuid/signing-tokens", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad envelope id, got %d", rec.Code)
	}

	base, partyID := sentEnvelope(t, operator, "")
	rec = doJSON(t, operator, http.MethodPost, base+"/parties/"+partyID+"/signing-tokens", map[string]any{
		"scope": "notarize",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown scope, got %d: %s", rec.Code, rec.Body.String())
	}
}
