// Package email derives presentable signer names from addresses. Senders
// often add parties by address alone, and the ceremony still needs a name
// to show and to stamp into audit actor snapshots.
package email

import (
	"strings"
	"unicode"
)

// DisplayName builds a "First Last" display name from the address's local
// part, splitting on the usual separator runes. A single-word local part
// yields "<Word> User" and an unusable address yields "User User", so the
// caller always gets something printable.
func DisplayName(address string) string {
	local := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		local = address[:at]
	}

	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(words) == 0 {
		return "User User"
	}

	first := capitalize(words[0])
	last := "User"
	if len(words) > 1 {
		last = capitalize(words[len(words)-1])
	}
	return first + " " + last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
