// Package email provides common email utility functions.
package email

import (
	"net/mail"
	"regexp"
	"strings"
)

// addressPattern is a loose local@domain.tld check
var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// listSeparators splits pasted address lists
var listSeparators = regexp.MustCompile(`[,;\s]+`)

// Normalize trims and lowercases an address.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsValid reports whether address looks like local@domain.
func IsValid(address string) bool {
	return addressPattern.MatchString(strings.TrimSpace(address))
}

// SplitList splits every entry on commas, semicolons and whitespace and
// returns the non-empty trimmed parts in order.
func SplitList(entries []string) []string {
	var out []string
	for _, entry := range entries {
		for _, part := range listSeparators.Split(entry, -1) {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		// Try simple extraction for malformed addresses
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// ExtractDomainOrDefault extracts the domain part from an email address.
// Returns the provided default value if the email is invalid or domain is empty.
func ExtractDomainOrDefault(email, defaultDomain string) string {
	domain := ExtractDomain(email)
	if domain == "" {
		return defaultDomain
	}
	return domain
}
