package identity

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s is a single bare address (no display name).
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return false
	}
	a, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return a.Address == s
}

// DefaultDisplayName derives a display name from the local part of email.
func DefaultDisplayName(email string) string {
	email = NormalizeEmail(email)
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// TruncateText returns s as valid UTF-8 of at most maxBytes bytes, cut on a
// rune boundary. Invalid sequences become U+FFFD first.
func TruncateText(s string, maxBytes int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	i := maxBytes
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}
