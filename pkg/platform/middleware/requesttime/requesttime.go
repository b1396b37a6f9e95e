// Package requesttime pins request-scoped time. Every operation inside
// a single HTTP request observes the same "now", so an envelope update,
// its audit event and its outbox record never disagree on when the
// command happened.
package requesttime

import (
	"net/http"
	"time"

	"signet/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request and
// stores it in the context for consistent time references throughout
// the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
