// Package requestid assigns every request an identifier for log and
// error correlation. An X-Request-ID supplied by the edge proxy is
// trusted and propagated; otherwise a fresh one is generated. The
// identifier is echoed on the response so callers can quote it.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"signet/pkg/requestcontext"
)

// headerName is the request id header, inbound and outbound.
const headerName = "X-Request-ID"

// Middleware stores the request id in the context and echoes it on the
// response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerName)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerName, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
