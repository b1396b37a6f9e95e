// Package httputil translates domain errors and request bodies at the HTTP
// boundary. Handlers never map status codes themselves; they hand any error
// to WriteError and the taxonomy decides the wire shape.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	dErrors "signet/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies before decoding.
const maxBodyBytes = 1 << 20

// errorBody is the wire shape for all error responses.
type errorBody struct {
	Error       string         `json:"error"`
	Description string         `json:"error_description,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// codeMapping fixes the HTTP status and wire code per domain error code.
// Internal-class failures omit the description so store and broker details
// never leak to callers.
type codeMapping struct {
	status          int
	wireCode        string
	hideDescription bool
}

var codeMappings = map[dErrors.Code]codeMapping{
	dErrors.CodeValidation:         {status: http.StatusBadRequest, wireCode: "validation_error"},
	dErrors.CodeInvalidInput:       {status: http.StatusBadRequest, wireCode: "invalid_input"},
	dErrors.CodeBadRequest:         {status: http.StatusBadRequest, wireCode: "bad_request"},
	dErrors.CodeInvariantViolation: {status: http.StatusUnprocessableEntity, wireCode: "invariant_violation"},
	dErrors.CodeNotFound:           {status: http.StatusNotFound, wireCode: "not_found"},
	dErrors.CodeConflict:           {status: http.StatusConflict, wireCode: "conflict"},
	dErrors.CodeInvalidState:       {status: http.StatusConflict, wireCode: "invalid_state"},
	dErrors.CodeAuditIntegrity:     {status: http.StatusInternalServerError, wireCode: "audit_integrity"},
	dErrors.CodeUnauthorized:       {status: http.StatusUnauthorized, wireCode: "unauthorized"},
	dErrors.CodeForbidden:          {status: http.StatusForbidden, wireCode: "forbidden"},
	dErrors.CodeTimeout:            {status: http.StatusGatewayTimeout, wireCode: "timeout"},
	dErrors.CodeUnavailable:        {status: http.StatusServiceUnavailable, wireCode: "unavailable", hideDescription: true},
	dErrors.CodeInternal:           {status: http.StatusInternalServerError, wireCode: "internal_error", hideDescription: true},
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error onto the wire. Unclassified errors are
// treated as internal. Meta fields (current status, allowed statuses,
// missing event types) ride along for diagnosability.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	mapping, ok := codeMappings[code]
	if !ok {
		mapping = codeMappings[dErrors.CodeInternal]
	}

	body := errorBody{Error: mapping.wireCode}
	if !mapping.hideDescription {
		var dErr *dErrors.Error
		if errors.As(err, &dErr) {
			body.Description = dErr.Message
		} else {
			body.Description = err.Error()
		}
		body.Meta = dErrors.MetaOf(err)
	}

	WriteJSON(w, mapping.status, body)
}

// QueryInt reads an integer query parameter, returning fallback when the
// parameter is absent.
func QueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.Newf(dErrors.CodeInvalidInput, "%s must be an integer", name)
	}
	return value, nil
}

// Validatable is implemented by request body types that normalize and parse
// themselves after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the request body into T, runs its validation, and
// writes the appropriate error response on failure. The second return is
// false when a response has already been written and the handler must stop.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (PT, bool) {
	defer func() {
		_ = r.Body.Close()
	}()

	req := PT(new(T))
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(req); err != nil {
		logger.WarnContext(ctx, "request body decode failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}

	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}

	return req, true
}
