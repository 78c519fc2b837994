// Package csrf implements the double-submit cookie check for mutating requests.
//
// The token lives in a script-readable cookie and must be echoed in the
// x-csrf-token header (or the csrf_token query parameter). Tokens are issued
// only when the request carries none; an existing token is never rotated.
package csrf

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"passgate/cmd/internal/metrics"
	"passgate/cmd/security/secret"
)

const (
	DefaultCookieName = "csrf_token"
	DefaultHeaderName = "x-csrf-token"
	DefaultQueryParam = "csrf_token"
	DefaultMaxAge     = 30 * 24 * time.Hour

	// tokenBytes of randomness, hex encoded to 64 chars.
	tokenBytes  = 32
	maxTokenLen = 256
)

// FailureMessage is the body text of every rejection.
const FailureMessage = "CSRF token validation failed"

// Config controls the token cookie and where the echo is read from.
type Config struct {
	CookieName   string
	CookieDomain string
	CookiePath   string
	CookieSecure bool
	MaxAge       time.Duration

	HeaderName string
	QueryParam string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:   DefaultCookieName,
		CookiePath:   "/",
		CookieSecure: true,
		MaxAge:       DefaultMaxAge,
		HeaderName:   DefaultHeaderName,
		QueryParam:   DefaultQueryParam,
	}
}

// Guard is the CSRF middleware.
type Guard struct {
	cfg Config
	log *slog.Logger
}

// NewGuard constructs a Guard, filling zero fields from DefaultConfig.
func NewGuard(cfg Config, log *slog.Logger) *Guard {
	def := DefaultConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = def.CookiePath
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = def.HeaderName
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = def.QueryParam
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{cfg: cfg, log: log}
}

type ctxKey struct{}

// Token returns the request's effective token: the cookie value, or the token
// issued for this response when the request had none.
func Token(r *http.Request) string {
	v, _ := r.Context().Value(ctxKey{}).(string)
	return v
}

// Protected reports whether method changes state.
func Protected(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Middleware rejects mutating requests whose echoed token does not match the
// cookie, before next runs, and issues a token cookie when none was sent.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookieToken := g.cookieToken(r)

		effective := cookieToken
		if effective == "" {
			tok, err := secret.RandomHex(tokenBytes)
			if err != nil {
				g.log.Error("csrf.token.generate.fail", "error", err)
				writeForbidden(w)
				return
			}
			effective = tok
			g.setCookie(w, tok)
		}
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, effective))

		if Protected(r.Method) {
			presented := g.presentedToken(r)
			if cookieToken == "" || presented == "" || !secret.EqualString(cookieToken, presented) {
				metrics.CSRFRejectionsTotal.Inc()
				g.log.Warn("csrf.reject",
					"method", r.Method,
					"path", r.URL.Path,
					"has_cookie", cookieToken != "",
					"has_token", presented != "",
				)
				writeForbidden(w)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Guard) cookieToken(r *http.Request) string {
	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil {
		return ""
	}
	v := strings.TrimSpace(c.Value)
	if len(v) > maxTokenLen {
		return ""
	}
	return v
}

func (g *Guard) presentedToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(g.cfg.HeaderName))
	if v == "" {
		v = strings.TrimSpace(r.URL.Query().Get(g.cfg.QueryParam))
	}
	if len(v) > maxTokenLen {
		return ""
	}
	return v
}

func (g *Guard) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     g.cfg.CookiePath,
		Domain:   g.cfg.CookieDomain,
		MaxAge:   int(g.cfg.MaxAge / time.Second),
		HttpOnly: false,
		Secure:   g.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": FailureMessage})
}
