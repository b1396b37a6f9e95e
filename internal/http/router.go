// Package httpapi assembles the HTTP surface. Three route families sit
// behind different trust models: operator routes take gateway identity
// headers, admin routes take the deployment admin token, and signer
// ceremony routes authenticate with the signing token alone.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	audithandler "signet/internal/audit/handler"
	certificatehandler "signet/internal/certificate/handler"
	documenthandler "signet/internal/document/handler"
	envelopehandler "signet/internal/envelope/handler"
	idempotency "signet/internal/idempotency/service"
	platformmetrics "signet/internal/platform/metrics"
	tokenhandler "signet/internal/signingtoken/handler"
	tenanthandler "signet/internal/tenant/handler"
	"signet/pkg/platform/httputil"
	"signet/pkg/platform/middleware/actor"
	"signet/pkg/platform/middleware/admin"
	"signet/pkg/platform/middleware/metadata"
	"signet/pkg/platform/middleware/recovery"
	"signet/pkg/platform/middleware/requestid"
	"signet/pkg/platform/middleware/requestlog"
	"signet/pkg/platform/middleware/requesttime"
)

// ReadyFunc reports whether downstream dependencies answer. A non-nil
// error turns /readyz into a 503.
type ReadyFunc func(ctx context.Context) error

// Dependencies carries everything the router composes. The handlers are
// required; Guard, Metrics and Ready are optional and their features
// are disabled when nil.
type Dependencies struct {
	Logger       *slog.Logger
	AdminToken   string
	Envelopes    *envelopehandler.Handler
	Documents    *documenthandler.Handler
	Audit        *audithandler.Handler
	Certificates *certificatehandler.Handler
	Tokens       *tokenhandler.Handler
	Tenants      *tenanthandler.Handler
	Guard        *idempotency.Guard
	Metrics      *platformmetrics.Metrics
	Ready        ReadyFunc
}

// NewRouter builds the full route tree with its middleware chain.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	// Probes and the scrape endpoint skip request logging and metrics.
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleReady(deps.Ready, logger))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requestMetrics(deps.Metrics))
		r.Use(requestlog.Middleware(logger))
		r.Use(recovery.Middleware(logger))

		// Operator surface: envelope lifecycle and everything hanging
		// off it. Mutating POSTs run under the idempotency guard.
		r.Group(func(r chi.Router) {
			r.Use(actor.FromHeaders(logger))
			r.Use(idempotentPosts(deps.Guard, logger))
			deps.Envelopes.Register(r)
			deps.Documents.Register(r)
			deps.Audit.Register(r)
			deps.Certificates.Register(r)
			deps.Tokens.RegisterOperator(r)
		})

		// Admin surface: tenant administration.
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(deps.AdminToken, logger))
			deps.Tenants.Register(r)
		})

		// Signer surface: the ceremony routes carry their credential in
		// the signing token, and redemption is single use, so neither
		// identity headers nor the idempotency guard apply.
		deps.Tokens.RegisterSigner(r)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(ready ReadyFunc, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "readiness check failed", "error", err)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// requestMetrics observes every request with the route pattern as the
// label, so /envelopes/{envelopeID}/sign stays one series regardless of
// how many envelopes exist.
func requestMetrics(m *platformmetrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(r.Method, route, status, start)
		})
	}
}
