package service

import (
	"strings"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/canonical"
)

// requestDigest is the canonical core a derived key is computed over.
// The body rides along as its own digest so non-JSON and empty bodies
// canonicalize cleanly.
type requestDigest struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Tenant   string `json:"tenant"`
	User     string `json:"user"`
	Scope    string `json:"scope"`
	BodyHash string `json:"body_hash"`
}

type clientKeyDigest struct {
	Tenant string `json:"tenant"`
	Scope  string `json:"scope"`
	Key    string `json:"key"`
}

// KeyFromRequest derives a deterministic key from the parts of a request
// that define its identity. Two requests agree on the key exactly when
// method, path, caller identity, scope and body all agree.
func KeyFromRequest(method, path string, tenantID id.TenantID, userID id.UserID, scope string, body []byte) (string, error) {
	if tenantID.IsNil() {
		return "", dErrors.New(dErrors.CodeValidation, "tenant id is required to derive an idempotency key")
	}
	key, err := canonical.Digest(requestDigest{
		Method:   strings.ToUpper(method),
		Path:     path,
		Tenant:   tenantID.String(),
		User:     userID.String(),
		Scope:    scope,
		BodyHash: canonical.HashBytes(body),
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive idempotency key")
	}
	return key, nil
}

// KeyFromClientKey derives the stored key from a caller-chosen one, for
// example an Idempotency-Key header. Scoping by tenant keeps two tenants
// that picked the same value from colliding on one record.
func KeyFromClientKey(tenantID id.TenantID, scope, clientKey string) (string, error) {
	if tenantID.IsNil() {
		return "", dErrors.New(dErrors.CodeValidation, "tenant id is required to derive an idempotency key")
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return "", dErrors.New(dErrors.CodeValidation, "idempotency key must not be empty")
	}
	key, err := canonical.Digest(clientKeyDigest{
		Tenant: tenantID.String(),
		Scope:  scope,
		Key:    clientKey,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive idempotency key")
	}
	return key, nil
}
