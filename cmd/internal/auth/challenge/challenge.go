// Package challenge stores the pending WebAuthn challenge in a short-lived,
// single-use cookie. Nothing is persisted server-side.
package challenge

import (
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is the lifetime of a challenge cookie.
const DefaultTTL = 5 * time.Minute

// maxValueLen bounds what Get accepts; real challenges are ~43 chars.
const maxValueLen = 512

// Config controls the challenge cookie.
type Config struct {
	CookieName   string
	CookieDomain string
	CookiePath   string
	CookieSecure bool
	TTL          time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:   "challenge",
		CookiePath:   "/",
		CookieSecure: true,
		TTL:          DefaultTTL,
	}
}

// Manager reads and writes the challenge cookie.
type Manager struct {
	cfg Config
}

// NewManager constructs a Manager, filling zero fields from DefaultConfig.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = def.CookiePath
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &Manager{cfg: cfg}
}

// TTL returns the challenge lifetime.
func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

// Set writes value as the pending challenge, replacing any previous one.
func (m *Manager) Set(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Get consumes the pending challenge. The cookie is expired on the response and
// removed from r, so a second Get in the same request returns ("", false) and a
// later request no longer carries it.
func (m *Manager) Get(w http.ResponseWriter, r *http.Request) (string, bool) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return "", false
	}

	m.expire(w)
	stripCookie(r, m.cfg.CookieName)

	v := strings.TrimSpace(c.Value)
	if v == "" || len(v) > maxValueLen {
		return "", false
	}
	return v, true
}

func (m *Manager) expire(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// stripCookie rewrites the Cookie header of r without any cookie named name.
func stripCookie(r *http.Request, name string) {
	kept := make([]string, 0, len(r.Cookies()))
	for _, c := range r.Cookies() {
		if c.Name == name {
			continue
		}
		kept = append(kept, c.String())
	}
	r.Header.Del("Cookie")
	if len(kept) > 0 {
		r.Header.Set("Cookie", strings.Join(kept, "; "))
	}
}
