// Package audit records security-relevant events. Recording is best-effort:
// a failed insert is logged and never fails the request that caused it.
package audit

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"passgate/cmd/identity"
	"passgate/cmd/identity/ids"
)

// Actions.
const (
	ActionRegisterSuccess = "auth.register.success"
	ActionRegisterFailed  = "auth.register.failed"
	ActionLoginSuccess    = "auth.login.success"
	ActionLoginFailed     = "auth.login.failed"
	ActionLoginRejected   = "auth.login.rejected"
	ActionLoginLocked     = "auth.login.locked"
	ActionLogout          = "auth.logout"
	ActionPasskeyDeleted  = "passkey.deleted"
	ActionSessionRevoked  = "session.revoked"
	ActionUserDeleted     = "user.deleted"
)

// Event is one audit_log row.
type Event struct {
	ID        string
	UserID    string
	SessionID string
	Action    string

	// Subject is what the event is about when it is not the acting user,
	// e.g. the normalized email of a failed login.
	Subject string

	IP        string
	UserAgent string
	Meta      map[string]any
	CreatedAt time.Time
}

// Recorder persists and queries events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error

	// List returns the newest events first.
	List(ctx context.Context, limit int) ([]Event, error)

	// CountSince counts the events matching q.
	CountSince(ctx context.Context, q CountQuery) (int, error)
}

// CountQuery selects events with Action and Subject from the same IP,
// created at or after Since. An empty IP matches events recorded without one.
type CountQuery struct {
	Action  string
	Subject string
	IP      string
	Since   time.Time
}

const maxUserAgentLen = 512

// DefaultListLimit and MaxListLimit bound List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit maps a requested limit into [1, MaxListLimit].
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	if n > MaxListLimit {
		return MaxListLimit
	}
	return n
}

// Log records ev through rec and logs failures. A nil rec is a no-op.
func Log(ctx context.Context, rec Recorder, log *slog.Logger, ev Event) {
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, ev); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Error("audit.insert.fail", "err", err, "action", ev.Action)
	}
}

func prepare(ev Event) (Event, error) {
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return ev, ErrEmptyAction
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.ID == "" {
		id, err := ids.NewULID(ev.CreatedAt)
		if err != nil {
			return ev, err
		}
		ev.ID = id
	}
	ev.UserAgent = identity.TruncateText(strings.TrimSpace(ev.UserAgent), maxUserAgentLen)
	ev.IP = normalizeIP(ev.IP)
	return ev, nil
}

// normalizeIP returns the canonical form of s, or "" if it is not an address.
func normalizeIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
