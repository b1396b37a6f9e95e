// Package actor resolves the acting identity on operator routes. The
// fronting gateway authenticates the operator and asserts the identity
// through headers; this service runs behind it and reads them into the
// request context. Routes that require a tenant enforce that in the
// service layer, so absent headers pass through and fail there.
package actor

import (
	"log/slog"
	"net/http"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// Identity headers asserted by the gateway.
const (
	headerTenantID   = "X-Tenant-ID"
	headerUserID     = "X-User-ID"
	headerActorEmail = "X-Actor-Email"
)

// FromHeaders builds the middleware that reads gateway identity headers
// into the request context. A malformed identifier is rejected rather
// than silently treated as an anonymous request.
func FromHeaders(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if raw := r.Header.Get(headerTenantID); raw != "" {
				tenantID, err := id.ParseTenantID(raw)
				if err != nil {
					logger.WarnContext(ctx, "rejected malformed tenant identity",
						"request_id", requestcontext.RequestID(ctx),
						"error", err,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid tenant identity"))
					return
				}
				ctx = requestcontext.WithTenantID(ctx, tenantID)
			}

			if raw := r.Header.Get(headerUserID); raw != "" {
				userID, err := id.ParseUserID(raw)
				if err != nil {
					logger.WarnContext(ctx, "rejected malformed user identity",
						"request_id", requestcontext.RequestID(ctx),
						"error", err,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid user identity"))
					return
				}
				ctx = requestcontext.WithUserID(ctx, userID)
			}

			if email := r.Header.Get(headerActorEmail); email != "" {
				ctx = requestcontext.WithActorEmail(ctx, email)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
