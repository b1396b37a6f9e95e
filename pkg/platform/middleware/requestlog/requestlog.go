// Package requestlog emits one structured line per completed request.
// The line carries the request id for correlation and a human-readable
// client label derived from the User-Agent, which is what an operator
// scans for when a signer reports a failed ceremony.
package requestlog

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mssola/useragent"

	"signet/pkg/requestcontext"
)

// Middleware logs method, path, status, size and duration for every
// request after the handler finishes.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			ctx := r.Context()
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.InfoContext(ctx, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestcontext.RequestID(ctx),
				"client_ip", requestcontext.ClientIP(ctx),
				"client", describeAgent(requestcontext.UserAgent(ctx)),
			)
		})
	}
}

// describeAgent turns a raw User-Agent into a short display label like
// "Chrome on Intel Mac OS X 10_15_7". Raw user agents still reach the
// audit trail untouched; the label is only for log readability.
func describeAgent(rawAgent string) string {
	if rawAgent == "" {
		return "Unknown Device"
	}

	agent := useragent.New(rawAgent)
	name, _ := agent.Browser()
	if name == "" {
		name = "Unknown Browser"
	}
	osName := agent.OS()
	if osName == "" {
		osName = agent.Platform()
	}
	if osName == "" {
		osName = "Unknown OS"
	}
	return strings.TrimSpace(name + " on " + osName)
}
