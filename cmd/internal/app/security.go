package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"passgate/cmd/security/secret"
)

// ValidateSecurityConfig enforces passgate's security policy at startup.
//
// Fail-fast: a deployment that would silently lose accounts or leak cookies
// over plain http does not start.
func ValidateSecurityConfig(cfg Config) error {
	key := cfg.Passkey.UserHandleKey
	if len(key) == 0 {
		if cfg.RequireUserHandleKey {
			return errors.New("security policy: PASSGATE_REQUIRE_USER_HANDLE_KEY=true but PASSGATE_USER_HANDLE_KEY is missing")
		}
	} else if err := secret.CheckKey(key); err != nil {
		return fmt.Errorf("security policy: PASSGATE_USER_HANDLE_KEY: %w", err)
	}

	// Browsers drop Secure cookies on http origins, and https origins must
	// never receive cookies without it.
	for _, o := range cfg.Passkey.RPOrigins {
		u, err := url.Parse(o)
		if err != nil {
			continue
		}
		if strings.EqualFold(u.Scheme, "https") && !cfg.Session.CookieSecure {
			return fmt.Errorf("security policy: origin %s is https but PASSGATE_COOKIE_SECURE=false", o)
		}
	}

	if cfg.CORSAllowCredentials {
		for _, o := range cfg.CORSAllowedOrigins {
			if o == "*" {
				return errors.New("security policy: credentialed CORS cannot allow origin *")
			}
		}
	}

	return nil
}
