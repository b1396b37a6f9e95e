package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	audithandler "signet/internal/audit/handler"
	auditservice "signet/internal/audit/service"
	auditmemory "signet/internal/audit/store/memory"
	certificatehandler "signet/internal/certificate/handler"
	certificateservice "signet/internal/certificate/service"
	documenthandler "signet/internal/document/handler"
	documentservice "signet/internal/document/service"
	documentmemory "signet/internal/document/store/memory"
	envelopehandler "signet/internal/envelope/handler"
	envelopeservice "signet/internal/envelope/service"
	envelopememory "signet/internal/envelope/store/memory"
	idempotency "signet/internal/idempotency/service"
	idempotencymemory "signet/internal/idempotency/store/memory"
	outboxmodels "signet/internal/outbox/models"
	outboxservice "signet/internal/outbox/service"
	outboxmemory "signet/internal/outbox/store/memory"
	partyservice "signet/internal/party/service"
	partymemory "signet/internal/party/store/memory"
	platformmetrics "signet/internal/platform/metrics"
	tokenhandler "signet/internal/signingtoken/handler"
	tokenservice "signet/internal/signingtoken/service"
	tokenmemory "signet/internal/signingtoken/store/memory"
	tenanthandler "signet/internal/tenant/handler"
	tenantservice "signet/internal/tenant/service"
	tenantmemory "signet/internal/tenant/store/memory"
	"signet/pkg/platform/tx"
)

const adminToken = "test-admin-token"

var apiSecret = []byte("0123456789abcdef0123456789abcdef")

// routerMetrics is shared across tests because Prometheus registration
// is once per process.
var routerMetrics = platformmetrics.New()

type ackPublisher struct{}

func (ackPublisher) Publish(_ context.Context, events []outboxmodels.BusEvent) []outboxmodels.PublishResult {
	out := make([]outboxmodels.PublishResult, len(events))
	for i, e := range events {
		out[i] = outboxmodels.PublishResult{ID: e.ID}
	}
	return out
}

// newAPIRouter assembles the full route tree over memory-backed
// services, the same shape main builds for production.
func newAPIRouter(t *testing.T, ready ReadyFunc) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tenants := tenantservice.New(tenantmemory.NewInMemoryStore())
	parties := partyservice.New(partymemory.NewInMemoryStore())
	audit := auditservice.New(auditmemory.NewInMemoryStore())
	outbox := outboxservice.New(outboxmemory.NewInMemoryStore(), ackPublisher{})
	envelopes := envelopeservice.New(
		envelopememory.NewInMemoryStore(), parties, audit, outbox, tx.NopRunner{},
		envelopeservice.WithTenantGuard(tenants),
	)
	documents := documentservice.New(documentmemory.NewInMemoryStore(), envelopes, audit)
	certificates := certificateservice.New(envelopes, audit)
	tokens, err := tokenservice.New(apiSecret, tokenmemory.NewInMemoryStore(), envelopes, parties)
	if err != nil {
		t.Fatalf("failed to build token service: %v", err)
	}
	guard := idempotency.New(idempotencymemory.NewInMemoryStore())

	return NewRouter(Dependencies{
		Logger:       logger,
		AdminToken:   adminToken,
		Envelopes:    envelopehandler.New(envelopes, logger),
		Documents:    documenthandler.New(documents, logger),
		Audit:        audithandler.New(audit, logger),
		Certificates: certificatehandler.New(certificates, logger),
		Tokens:       tokenhandler.New(tokens, envelopes, logger),
		Tenants:      tenanthandler.New(tenants, logger),
		Guard:        guard,
		Metrics:      routerMetrics,
		Ready:        ready,
	})
}

func doReq(t *testing.T, router http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return out
}

type tenantBody struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type envelopeBody struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// createTenant provisions a tenant through the admin surface and
// returns identity headers for its operators.
func createTenant(t *testing.T, router http.Handler, name string) (tenantID string, operator map[string]string) {
	t.Helper()
	rec := doReq(t, router, http.MethodPost, "/admin/tenants",
		map[string]string{"X-Admin-Token": adminToken},
		map[string]any{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("tenant create returned %d: %s", rec.Code, rec.Body.String())
	}
	tenant := decodeBody[tenantBody](t, rec)
	return tenant.ID, map[string]string{
		"X-Tenant-ID": tenant.ID,
		"X-User-ID":   "7f8a1c1e-4a63-4b9b-8f6d-1f2e3a4b5c6d",
	}
}

func TestHealthAndReadiness(t *testing.T) {
	router := newAPIRouter(t, nil)

	rec := doReq(t, router, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
	rec = doReq(t, router, http.MethodGet, "/readyz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz returned %d without a checker", rec.Code)
	}

	down := newAPIRouter(t, func(context.Context) error { return errors.New("postgres unreachable") })
	rec = doReq(t, down, http.MethodGet, "/readyz", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz returned %d with a failing checker", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "postgres") {
		t.Fatalf("readiness body leaked checker detail: %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newAPIRouter(t, nil)

	// One real request so the HTTP series exist before the scrape.
	doReq(t, router, http.MethodGet, "/envelopes", map[string]string{
		"X-Tenant-ID": "a2b9cbc0-8b5e-4dcf-9b21-5d06e1b0a111",
	}, nil)

	rec := doReq(t, router, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "signet_http_requests_total") {
		t.Fatalf("scrape missing request counter:\n%.300s", rec.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	router := newAPIRouter(t, nil)

	rec := doReq(t, router, http.MethodGet, "/healthz", nil, nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("response has no generated request id")
	}

	rec = doReq(t, router, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "trace-42"}, nil)
	if got := rec.Header().Get("X-Request-ID"); got != "trace-42" {
		t.Fatalf("request id not propagated, got %q", got)
	}

	// Unmatched routes still run the edge middleware.
	rec = doReq(t, router, http.MethodGet, "/no/such/route", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route returned %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("404 response has no request id")
	}
}

func TestAdminSurfaceGate(t *testing.T) {
	router := newAPIRouter(t, nil)

	rec := doReq(t, router, http.MethodPost, "/admin/tenants", nil, map[string]any{"name": "acme"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing admin token returned %d", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); body.Error != "unauthorized" {
		t.Fatalf("unexpected error code %q", body.Error)
	}

	rec = doReq(t, router, http.MethodPost, "/admin/tenants",
		map[string]string{"X-Admin-Token": "wrong"}, map[string]any{"name": "acme"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong admin token returned %d", rec.Code)
	}

	tenantID, _ := createTenant(t, router, "acme")
	if tenantID == "" {
		t.Fatal("tenant create returned empty id")
	}
}

func TestAdminSurfaceClosedWhenUnconfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tenants := tenantservice.New(tenantmemory.NewInMemoryStore())
	parties := partyservice.New(partymemory.NewInMemoryStore())
	audit := auditservice.New(auditmemory.NewInMemoryStore())
	outbox := outboxservice.New(outboxmemory.NewInMemoryStore(), ackPublisher{})
	envelopes := envelopeservice.New(envelopememory.NewInMemoryStore(), parties, audit, outbox, tx.NopRunner{})
	tokens, err := tokenservice.New(apiSecret, tokenmemory.NewInMemoryStore(), envelopes, parties)
	if err != nil {
		t.Fatalf("failed to build token service: %v", err)
	}

	router := NewRouter(Dependencies{
		Logger:       logger,
		Envelopes:    envelopehandler.New(envelopes, logger),
		Documents:    documenthandler.New(documentservice.New(documentmemory.NewInMemoryStore(), envelopes, audit), logger),
		Audit:        audithandler.New(audit, logger),
		Certificates: certificatehandler.New(certificateservice.New(envelopes, audit), logger),
		Tokens:       tokenhandler.New(tokens, envelopes, logger),
		Tenants:      tenanthandler.New(tenants, logger),
	})

	rec := doReq(t, router, http.MethodPost, "/admin/tenants",
		map[string]string{"X-Admin-Token": ""}, map[string]any{"name": "acme"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unconfigured admin surface returned %d", rec.Code)
	}
}

func TestOperatorIdentityHeaders(t *testing.T) {
	router := newAPIRouter(t, nil)
	_, operator := createTenant(t, router, "acme")

	rec := doReq(t, router, http.MethodPost, "/envelopes", operator,
		map[string]any{"title": "Consulting Agreement"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("envelope create returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, router, http.MethodPost, "/envelopes",
		map[string]string{"X-Tenant-ID": "not-a-uuid"},
		map[string]any{"title": "Consulting Agreement"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("malformed tenant header returned %d", rec.Code)
	}

	rec = doReq(t, router, http.MethodPost, "/envelopes", nil,
		map[string]any{"title": "Consulting Agreement"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing tenant header returned %d", rec.Code)
	}
}

func TestIdempotentCreateReplay(t *testing.T) {
	router := newAPIRouter(t, nil)
	_, operator := createTenant(t, router, "acme")

	keyed := map[string]string{"Idempotency-Key": "create-1"}
	for k, v := range operator {
		keyed[k] = v
	}
	first := doReq(t, router, http.MethodPost, "/envelopes", keyed,
		map[string]any{"title": "Consulting Agreement"})
	if first.Code != http.StatusCreated {
		t.Fatalf("first create returned %d: %s", first.Code, first.Body.String())
	}
	second := doReq(t, router, http.MethodPost, "/envelopes", keyed,
		map[string]any{"title": "Consulting Agreement"})
	if second.Code != http.StatusCreated {
		t.Fatalf("replayed create returned %d", second.Code)
	}
	if a, b := decodeBody[envelopeBody](t, first), decodeBody[envelopeBody](t, second); a.ID != b.ID {
		t.Fatalf("replay minted a second envelope: %s then %s", a.ID, b.ID)
	}

	// Without the header the key derives from the request itself, so a
	// byte-identical duplicate replays too.
	third := doReq(t, router, http.MethodPost, "/envelopes", operator,
		map[string]any{"title": "Framework Agreement"})
	fourth := doReq(t, router, http.MethodPost, "/envelopes", operator,
		map[string]any{"title": "Framework Agreement"})
	if a, b := decodeBody[envelopeBody](t, third), decodeBody[envelopeBody](t, fourth); a.ID != b.ID {
		t.Fatalf("derived-key duplicate minted a second envelope: %s then %s", a.ID, b.ID)
	}

	// A different body is a different command.
	fifth := doReq(t, router, http.MethodPost, "/envelopes", operator,
		map[string]any{"title": "Statement of Work"})
	if a, b := decodeBody[envelopeBody](t, third), decodeBody[envelopeBody](t, fifth); a.ID == b.ID {
		t.Fatal("distinct create collapsed into a replay")
	}

	rec := doReq(t, router, http.MethodGet, "/envelopes", operator, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	listed := decodeBody[struct {
		Envelopes []envelopeBody `json:"envelopes"`
	}](t, rec)
	if len(listed.Envelopes) != 3 {
		t.Fatalf("expected 3 envelopes after replays, got %d", len(listed.Envelopes))
	}
}

// TestSigningCeremonyAcrossSurfaces drives one envelope from tenant
// provisioning to completion using only HTTP, switching credentials at
// each trust boundary: admin token, then operator headers, then the
// signing token alone.
func TestSigningCeremonyAcrossSurfaces(t *testing.T) {
	router := newAPIRouter(t, nil)
	_, operator := createTenant(t, router, "acme")

	rec := doReq(t, router, http.MethodPost, "/envelopes", operator,
		map[string]any{"title": "Consulting Agreement"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("envelope create returned %d: %s", rec.Code, rec.Body.String())
	}
	envelope := decodeBody[envelopeBody](t, rec)
	base := "/envelopes/" + envelope.ID

	rec = doReq(t, router, http.MethodPost, base+"/documents", operator,
		map[string]any{"source_key": "tenants/acme/source.pdf", "source_hash": "sha256:f00d"})
	if rec.Code != http.StatusOK {
		t.Fatalf("attach document returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, router, http.MethodPost, base+"/parties", operator,
		map[string]any{"email": "signer@acme.test", "full_name": "Signer One", "order_index": 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add party returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, router, http.MethodPost, base+"/send", operator, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("send returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, router, http.MethodPost, base+"/signing-tokens", operator, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint returned %d: %s", rec.Code, rec.Body.String())
	}
	grants := decodeBody[struct {
		Grants []struct {
			Token string `json:"token"`
		} `json:"grants"`
	}](t, rec)
	if len(grants.Grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(grants.Grants))
	}
	bearer := map[string]string{"Authorization": "Bearer " + grants.Grants[0].Token}

	rec = doReq(t, router, http.MethodGet, "/signing/session", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, router, http.MethodPost, "/signing/consent", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consent returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, router, http.MethodPost, "/signing/sign", bearer,
		map[string]any{"document_hash": "sha256:f00d"})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign returned %d: %s", rec.Code, rec.Body.String())
	}
	outcome := decodeBody[struct {
		Status string `json:"status"`
	}](t, rec)
	if outcome.Status != "completed" {
		t.Fatalf("envelope finished as %q", outcome.Status)
	}

	rec = doReq(t, router, http.MethodGet, base, operator, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d", rec.Code)
	}
	if got := decodeBody[envelopeBody](t, rec); got.Status != "completed" {
		t.Fatalf("operator view shows %q", got.Status)
	}

	rec = doReq(t, router, http.MethodGet, base+"/certificate", operator, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("certificate returned %d: %s", rec.Code, rec.Body.String())
	}
}
