// Package admin gates the tenant administration surface behind a shared
// token. The token is deployment configuration, not a user credential;
// an empty configured token keeps the surface closed rather than open.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// headerName carries the admin token.
const headerName = "X-Admin-Token"

// RequireAdminToken rejects requests whose X-Admin-Token does not match
// the configured token. Comparison is constant time.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if expectedToken == "" {
				logger.WarnContext(ctx, "admin request refused, no admin token configured",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin interface is not configured"))
				return
			}

			token := r.Header.Get(headerName)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
