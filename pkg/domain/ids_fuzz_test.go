//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseEnvelopeID tests that parsing never panics on arbitrary input
// and always returns either a valid ID or an error.
func FuzzParseEnvelopeID(f *testing.F) {
	// Seed corpus with interesting inputs
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE envelopes;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseEnvelopeID(input)

		// Either valid ID or error, never both
		if err == nil {
			roundTrip, err2 := ParseEnvelopeID(id.String())
			if err2 != nil {
				t.Errorf("Valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("Round-trip changed ID value")
			}
		}

		// Non-UTF8 input must be rejected
		if !utf8.ValidString(input) && err == nil {
			t.Error("Non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAllIDs ensures all ID types have consistent behavior.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errTenant := ParseTenantID(input)
		_, errUser := ParseUserID(input)
		_, errEnvelope := ParseEnvelopeID(input)
		_, errParty := ParsePartyID(input)

		// If one accepts, all should accept (same underlying validation)
		if errTenant == nil {
			if errUser != nil || errEnvelope != nil || errParty != nil {
				t.Error("Inconsistent parsing across ID types")
			}
		}

		// If one rejects, all should reject
		if errTenant != nil {
			if errUser == nil || errEnvelope == nil || errParty == nil {
				t.Error("Inconsistent rejection across ID types")
			}
		}
	})
}
