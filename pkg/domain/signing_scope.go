package domain

import dErrors "signet/pkg/domain-errors"

// SigningScope is a domain value that identifies what a signing token permits
// its holder to do on an envelope.
// Invariant: the value must be one of the supported scopes.
//
// Usage: construct via ParseSigningScope at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type SigningScope string

// Supported signing scopes.
const (
	ScopeSign    SigningScope = "sign"
	ScopeDecline SigningScope = "decline"
	ScopeView    SigningScope = "view"
)

// validSigningScopes is the single source of truth for valid scopes.
var validSigningScopes = map[SigningScope]bool{
	ScopeSign:    true,
	ScopeDecline: true,
	ScopeView:    true,
}

// ParseSigningScope constructs a SigningScope from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported; no
// other errors are expected.
func ParseSigningScope(s string) (SigningScope, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "scope cannot be empty")
	}
	scope := SigningScope(s)
	if !scope.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid scope")
	}
	return scope, nil
}

// IsValid checks if the scope is one of the supported enum values.
func (s SigningScope) IsValid() bool {
	return validSigningScopes[s]
}

// Permits reports whether a token with this scope may perform the requested
// action. Sign and decline each imply view access.
func (s SigningScope) Permits(requested SigningScope) bool {
	if s == requested {
		return true
	}
	return requested == ScopeView && (s == ScopeSign || s == ScopeDecline)
}

// String returns the string representation of the scope.
func (s SigningScope) String() string {
	return string(s)
}
