package session

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CookieName != "session" {
		t.Fatalf("cookie name mismatch: %q", cfg.CookieName)
	}
	if !cfg.CookieSecure {
		t.Fatalf("cookie must default to Secure")
	}
	if cfg.MaxAge != 30*24*time.Hour {
		t.Fatalf("max age mismatch: %v", cfg.MaxAge)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("PASSGATE_SESSION_MAX_AGE", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidBool(t *testing.T) {
	t.Setenv("PASSGATE_COOKIE_SECURE", "sometimes")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for bad bool, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidCookieName(t *testing.T) {
	t.Setenv("PASSGATE_SESSION_COOKIE", "bad;name")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for bad cookie name, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("PASSGATE_SESSION_COOKIE", "__Host-session")
	t.Setenv("PASSGATE_COOKIE_SECURE", "false")
	t.Setenv("PASSGATE_SESSION_MAX_AGE", "48h")
	t.Setenv("PASSGATE_SESSION_CLEANUP_INTERVAL", "0")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CookieName != "__Host-session" {
		t.Fatalf("cookie name mismatch: %q", cfg.CookieName)
	}
	if cfg.CookieSecure {
		t.Fatalf("expected Secure=false")
	}
	if cfg.MaxAge != 48*time.Hour {
		t.Fatalf("max age mismatch: %v", cfg.MaxAge)
	}
	if cfg.CleanupInterval != 0 {
		t.Fatalf("cleanup interval mismatch: %v", cfg.CleanupInterval)
	}
}
