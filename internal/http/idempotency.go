package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	idempotency "signet/internal/idempotency/service"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

const (
	// idempotencyScope namespaces HTTP-derived keys against any other
	// key producers sharing the store.
	idempotencyScope = "http"

	// idempotencyKeyHeader lets a client choose its own key. When the
	// header is absent the key is derived from the request itself, so
	// a byte-identical retry still replays.
	idempotencyKeyHeader = "Idempotency-Key"

	// maxBufferedBody matches the decode limit handlers apply.
	maxBufferedBody = 1 << 20
)

// unrecordedError carries a response that must still reach the caller
// after the guard released the key instead of recording the result.
type unrecordedError struct {
	result idempotency.Result
}

func (e *unrecordedError) Error() string { return "response not recorded" }

// idempotentPosts runs POST requests through the guard. The first
// attempt executes and its response is recorded; duplicates get the
// recorded response back instead of a second effect. Responses in the
// 5xx range release the key so the client's retry runs fresh. GETs pass
// through untouched, and so does the document upload PUT, whose
// content-addressed storage makes a repeat upload converge on its own.
func idempotentPosts(guard *idempotency.Guard, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if guard == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			tenantID := requestcontext.TenantID(ctx)
			if tenantID.IsNil() {
				// No tenant identity; the handler rejects this itself.
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBufferedBody))
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
				return
			}
			_ = r.Body.Close()

			var key string
			if clientKey := r.Header.Get(idempotencyKeyHeader); clientKey != "" {
				key, err = idempotency.KeyFromClientKey(tenantID, idempotencyScope, clientKey)
			} else {
				key, err = idempotency.KeyFromRequest(r.Method, r.URL.Path, tenantID, requestcontext.UserID(ctx), idempotencyScope, body)
			}
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			result, err := guard.Do(ctx, key, func(ctx context.Context) (idempotency.Result, error) {
				buffered := r.Clone(ctx)
				buffered.Body = io.NopCloser(bytes.NewReader(body))
				capture := newCaptureWriter()
				next.ServeHTTP(capture, buffered)

				res := idempotency.Result{Code: capture.code, Body: capture.body.Bytes()}
				if res.Code >= http.StatusInternalServerError {
					return idempotency.Result{}, &unrecordedError{result: res}
				}
				return res, nil
			})
			if err != nil {
				var unrecorded *unrecordedError
				if errors.As(err, &unrecorded) {
					writeResult(w, unrecorded.result)
					return
				}
				logger.WarnContext(ctx, "idempotency guard refused request",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}
			writeResult(w, result)
		})
	}
}

// captureWriter buffers the handler's response so the guard can record
// it before anything reaches the wire.
type captureWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(code int) {
	if c.code == 0 {
		c.code = code
	}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.code == 0 {
		c.code = http.StatusOK
	}
	return c.body.Write(p)
}

// writeResult sends a recorded response. Replays may come from another
// process, where only code and body survived, so the content type is
// pinned rather than copied.
func writeResult(w http.ResponseWriter, res idempotency.Result) {
	w.Header().Set("Content-Type", "application/json")
	code := res.Code
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	_, _ = w.Write(res.Body)
}
