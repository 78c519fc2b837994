package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxAge is the lifetime of a session, enforced when the cookie is read.
const MaxAge = 30 * 24 * time.Hour

// Config defines runtime configuration for cookie sessions.
type Config struct {
	// CookieName is the name of the `id.secret` cookie.
	CookieName string

	CookieDomain string
	CookiePath   string

	// CookieSecure sets the Secure attribute. Only plain-http development turns it off.
	CookieSecure bool

	// MaxAge bounds session age at validation time and sets the cookie Max-Age.
	MaxAge time.Duration

	// CleanupInterval is how often the janitor removes aged-out rows. Zero disables it.
	CleanupInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:      "session",
		CookiePath:      "/",
		CookieSecure:    true,
		MaxAge:          MaxAge,
		CleanupInterval: time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - PASSGATE_SESSION_COOKIE
//   - PASSGATE_COOKIE_DOMAIN
//   - PASSGATE_COOKIE_PATH
//   - PASSGATE_COOKIE_SECURE
//   - PASSGATE_SESSION_MAX_AGE
//   - PASSGATE_SESSION_CLEANUP_INTERVAL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PASSGATE_SESSION_COOKIE")); v != "" {
		cfg.CookieName = v
	}
	if v := strings.TrimSpace(os.Getenv("PASSGATE_COOKIE_DOMAIN")); v != "" {
		cfg.CookieDomain = v
	}
	if v := strings.TrimSpace(os.Getenv("PASSGATE_COOKIE_PATH")); v != "" {
		cfg.CookiePath = v
	}

	if v := strings.TrimSpace(os.Getenv("PASSGATE_COOKIE_SECURE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.CookieSecure = b
	}

	if v := strings.TrimSpace(os.Getenv("PASSGATE_SESSION_MAX_AGE")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxAge = d
	}

	if v := strings.TrimSpace(os.Getenv("PASSGATE_SESSION_CLEANUP_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.CleanupInterval = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants of a hand-built Config.
func (c Config) Validate() error {
	if c.CookieName == "" || strings.ContainsAny(c.CookieName, " ;,=") {
		return ErrConfig
	}
	if c.MaxAge <= 0 || c.CleanupInterval < 0 {
		return ErrConfig
	}
	if c.CookiePath == "" || !strings.HasPrefix(c.CookiePath, "/") {
		return ErrConfig
	}
	return nil
}
