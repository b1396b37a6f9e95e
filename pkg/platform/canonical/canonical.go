// Package canonical provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization and digests. Audit chain hashes and idempotency keys both
// depend on byte-stable JSON, so all hashing funnels through this package.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashPrefix tags digests with the algorithm that produced them.
const HashPrefix = "sha256:"

// Bytes returns the RFC 8785 canonical JSON representation of v.
// Map keys are sorted by UTF-8 bytes and HTML escaping is disabled, so two
// structurally equal values always canonicalize to identical bytes.
func Bytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Digest returns the prefixed SHA-256 hex digest of v's canonical form.
func Digest(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the prefixed SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// ChainHash binds a value to its predecessor's digest: the canonical bytes of
// v are concatenated with prevHash before hashing, so replacing or reordering
// any ancestor changes every digest downstream.
func ChainHash(v any, prevHash string) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append(b, []byte(prevHash)...))
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}
