package passkey

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"passgate/cmd/security/access"
	"passgate/cmd/security/secret"
)

// Defaults.
const (
	DefaultTimeout          = 5 * time.Minute
	DefaultLockoutThreshold = 10
	DefaultLockoutWindow    = 15 * time.Minute

	// UserHandleBytes is the size of derived WebAuthn user handles.
	UserHandleBytes = 32
)

// Config describes the relying party and ceremony policy.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string

	// Timeout is the timeout hint sent to browsers. Challenge expiry itself is
	// the challenge cookie lifetime.
	Timeout time.Duration

	// UserHandleKey derives user handles for new accounts. Empty means a
	// random per-process key.
	UserHandleKey []byte

	// DefaultRole is given to every registered user after the first one.
	// The first user becomes admin.
	DefaultRole string

	// LockoutThreshold failed logins per email within LockoutWindow lock
	// further attempts. Zero disables lockout.
	LockoutThreshold int
	LockoutWindow    time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPID:             "localhost",
		RPDisplayName:    "passgate",
		RPOrigins:        []string{"http://localhost:8080"},
		Timeout:          DefaultTimeout,
		DefaultRole:      string(access.RoleMember),
		LockoutThreshold: DefaultLockoutThreshold,
		LockoutWindow:    DefaultLockoutWindow,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RPID) == "" {
		return fmt.Errorf("%w: rp id is required", ErrConfig)
	}
	if strings.Contains(c.RPID, "/") || strings.Contains(c.RPID, ":") {
		return fmt.Errorf("%w: rp id must be a bare host, got %q", ErrConfig, c.RPID)
	}
	if strings.TrimSpace(c.RPDisplayName) == "" {
		return fmt.Errorf("%w: rp name is required", ErrConfig)
	}
	if len(c.RPOrigins) == 0 {
		return fmt.Errorf("%w: at least one origin is required", ErrConfig)
	}
	for _, o := range c.RPOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: invalid origin %q", ErrConfig, o)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrConfig)
	}
	if len(c.UserHandleKey) > 0 {
		if err := secret.CheckKey(c.UserHandleKey); err != nil {
			return fmt.Errorf("%w: user handle key: %v", ErrConfig, err)
		}
	}
	if _, ok := access.ParseRole(c.DefaultRole); !ok {
		return fmt.Errorf("%w: unknown default role %q", ErrConfig, c.DefaultRole)
	}
	if c.LockoutThreshold < 0 {
		return fmt.Errorf("%w: lockout threshold must not be negative", ErrConfig)
	}
	if c.LockoutThreshold > 0 && c.LockoutWindow <= 0 {
		return fmt.Errorf("%w: lockout window must be positive", ErrConfig)
	}
	return nil
}
