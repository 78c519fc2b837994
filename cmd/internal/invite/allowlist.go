// Package invite decides who may register. passgate is invite-only: the
// allow-list is an explicit set of emails from configuration.
package invite

import (
	"fmt"
	"sort"
	"strings"

	"passgate/cmd/identity"
)

// Allowlist is an immutable set of normalized emails. The zero value allows nobody.
type Allowlist struct {
	emails map[string]struct{}
}

// ParseAllowlist parses a comma-separated list (the ALLOWED_EMAIL format).
// Empty entries are skipped; malformed addresses are an error.
func ParseAllowlist(raw string) (Allowlist, error) {
	return NewAllowlist(strings.Split(raw, ","))
}

// NewAllowlist builds an Allowlist from individual entries.
func NewAllowlist(entries []string) (Allowlist, error) {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = identity.NormalizeEmail(e)
		if e == "" {
			continue
		}
		if !identity.ValidEmail(e) {
			return Allowlist{}, fmt.Errorf("%w: %q", ErrInvalidEntry, e)
		}
		set[e] = struct{}{}
	}
	return Allowlist{emails: set}, nil
}

// Allows reports whether email, compared case-insensitively, is listed.
func (a Allowlist) Allows(email string) bool {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return false
	}
	_, ok := a.emails[email]
	return ok
}

// Check is Allows as an error.
func (a Allowlist) Check(email string) error {
	if !a.Allows(email) {
		return ErrNotInvited
	}
	return nil
}

// Len is the number of listed emails.
func (a Allowlist) Len() int { return len(a.emails) }

// Emails returns the listed emails, sorted.
func (a Allowlist) Emails() []string {
	out := make([]string, 0, len(a.emails))
	for e := range a.emails {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
