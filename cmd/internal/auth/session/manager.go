package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"passgate/cmd/identity"
	"passgate/cmd/internal/metrics"
	"passgate/cmd/security/secret"
)

// idLength and secretLength are the character counts of the two cookie halves.
const (
	idLength     = 32
	secretLength = 32

	// maxCookieValueLen bounds the parse of hostile cookie values.
	maxCookieValueLen = 256

	maxUserAgentLen = 512
)

// ErrInvalidSession is the single reason reported for any cookie that does not
// resolve to a live session. It never says which check failed.
var ErrInvalidSession = errors.New("invalid session")

// Current is the authenticated state of a request.
type Current struct {
	Session Row
	User    identity.User
}

// Meta is informational request data recorded with a new session.
type Meta struct {
	UserAgent string
	IP        string
}

// Manager issues, validates and destroys cookie sessions.
type Manager struct {
	cfg   Config
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger for storage failures.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a Manager.
func NewManager(cfg Config, store Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg,
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

// ParseCookieValue splits `id.secret` on the first dot.
func ParseCookieValue(v string) (id, sec string, ok bool) {
	if v == "" || len(v) > maxCookieValueLen {
		return "", "", false
	}
	id, sec, found := strings.Cut(v, ".")
	if !found || id == "" || sec == "" {
		return "", "", false
	}
	return id, sec, true
}

// ValidateErr resolves a cookie value. It returns ErrInvalidSession for any
// malformed, unknown, aged-out or mismatched cookie, and the storage error
// when the lookup itself failed. Rows are never deleted here.
func (m *Manager) ValidateErr(ctx context.Context, cookieValue string) (Current, error) {
	id, sec, ok := ParseCookieValue(cookieValue)
	if !ok {
		return Current{}, ErrInvalidSession
	}

	row, u, err := m.store.GetWithUser(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return Current{}, ErrInvalidSession
	}
	if err != nil {
		return Current{}, err
	}

	if m.now().Sub(row.CreatedAt) >= m.cfg.MaxAge {
		return Current{}, ErrInvalidSession
	}
	if !secret.Equal(secret.Hash(sec), row.SecretHash) {
		return Current{}, ErrInvalidSession
	}

	return Current{Session: row, User: u}, nil
}

// Validate is ValidateErr that fails closed: storage errors are logged and
// reported as unauthenticated.
func (m *Manager) Validate(ctx context.Context, cookieValue string) (Current, bool) {
	cur, err := m.ValidateErr(ctx, cookieValue)
	if err == nil {
		metrics.RecordSession(metrics.SessionValidated)
		return cur, true
	}
	if !errors.Is(err, ErrInvalidSession) {
		m.log.Error("session.validate.fail", "error", err)
	}
	metrics.RecordSession(metrics.SessionRejected)
	return Current{}, false
}

// Resolve validates the session cookie on r, if any.
func (m *Manager) Resolve(r *http.Request) (Current, bool) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil || c.Value == "" {
		return Current{}, false
	}
	return m.Validate(r.Context(), c.Value)
}

// Set creates a session for userID and writes the cookie. The secret appears
// only in the Set-Cookie header; the returned row holds its digest.
func (m *Manager) Set(ctx context.Context, w http.ResponseWriter, userID string, meta Meta) (Row, error) {
	if strings.TrimSpace(userID) == "" {
		return Row{}, ErrNoUser
	}

	id, err := secret.RandomString(idLength)
	if err != nil {
		return Row{}, err
	}
	sec, err := secret.RandomString(secretLength)
	if err != nil {
		return Row{}, err
	}

	row := Row{
		ID:         id,
		UserID:     userID,
		SecretHash: secret.Hash(sec),
		CreatedAt:  m.now(),
		UserAgent:  identity.TruncateText(meta.UserAgent, maxUserAgentLen),
		IP:         meta.IP,
	}
	if err := m.store.Create(ctx, row); err != nil {
		return Row{}, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    id + "." + sec,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		MaxAge:   int(m.cfg.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	metrics.RecordSession(metrics.SessionCreated)
	return row, nil
}

// Destroy deletes the request's session, if it validates, and expires the
// cookie. Calling it without a session is a no-op.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cur, ok := FromContext(r.Context())
	if !ok {
		cur, ok = m.Resolve(r)
	}

	var err error
	if ok {
		err = m.store.Delete(ctx, cur.Session.ID)
		if err == nil {
			metrics.RecordSession(metrics.SessionDestroyed)
		}
	}

	m.expireCookie(w)
	return err
}

// Revoke deletes one session by id. Missing ids are not an error.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	metrics.RecordSession(metrics.SessionRevoked)
	return nil
}

// Lookup returns the live session row with id, without a secret check. It is
// for ownership checks on revocation, never for authentication.
func (m *Manager) Lookup(ctx context.Context, id string) (Row, error) {
	row, _, err := m.store.GetWithUser(ctx, id)
	if err != nil {
		return Row{}, err
	}
	if m.now().Sub(row.CreatedAt) >= m.cfg.MaxAge {
		return Row{}, ErrSessionNotFound
	}
	return row, nil
}

// ExpireCookie clears the session cookie on w without touching the store.
func (m *Manager) ExpireCookie(w http.ResponseWriter) { m.expireCookie(w) }

// RevokeAllForUser deletes every session of userID.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := m.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	metrics.SessionsTotal.WithLabelValues(metrics.SessionRevoked).Add(float64(n))
	return n, nil
}

// List returns the live sessions of userID, newest first. Aged-out rows awaiting
// cleanup are omitted.
func (m *Manager) List(ctx context.Context, userID string) ([]Row, error) {
	rows, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := rows[:0]
	for _, row := range rows {
		if now.Sub(row.CreatedAt) < m.cfg.MaxAge {
			out = append(out, row)
		}
	}
	return out, nil
}

// Cleanup deletes sessions older than MaxAge.
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteCreatedBefore(ctx, m.now().Add(-m.cfg.MaxAge))
	if err != nil {
		return 0, err
	}
	metrics.SessionsTotal.WithLabelValues(metrics.SessionExpired).Add(float64(n))
	return n, nil
}

func (m *Manager) expireCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
