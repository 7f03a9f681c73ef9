// Package email normalizes and validates the addresses used as signup keys.
package email

import (
	"net/mail"
	"strings"
)

const maxLength = 254

// Normalize trims surrounding space and lower-cases the whole address, so
// providers and the provisioning store see one key per mailbox.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Valid reports whether address is a bare addr-spec with a dotted domain.
// Display-name forms such as "Ada <ada@example.com>" are rejected.
func Valid(address string) bool {
	if address == "" || len(address) > maxLength {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return false
	}
	at := strings.LastIndexByte(address, '@')
	domain := address[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}
