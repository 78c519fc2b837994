package authapi

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	if cfg.TrustProxy {
		t.Fatalf("trust proxy must default to false")
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected 1MiB body cap, got %d", cfg.MaxBodyBytes)
	}
	if cfg.RateLimitRequests != 30 || cfg.RateLimitWindow != time.Minute {
		t.Fatalf("unexpected rate limit %d/%v", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("PASSGATE_TRUST_PROXY", "true")
	t.Setenv("PASSGATE_MAX_BODY_BYTES", "2048")
	t.Setenv("PASSGATE_RATE_LIMIT_REQUESTS", "0")
	t.Setenv("PASSGATE_RATE_LIMIT_WINDOW", "30s")

	cfg := LoadConfigFromEnv()

	if !cfg.TrustProxy {
		t.Fatalf("expected trust proxy")
	}
	if cfg.MaxBodyBytes != 2048 {
		t.Fatalf("expected 2048, got %d", cfg.MaxBodyBytes)
	}
	if cfg.RateLimitRequests != 0 {
		t.Fatalf("zero must disable the limiter, got %d", cfg.RateLimitRequests)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("expected 30s, got %v", cfg.RateLimitWindow)
	}
}

func TestLoadConfigFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("PASSGATE_MAX_BODY_BYTES", "-1")
	t.Setenv("PASSGATE_RATE_LIMIT_WINDOW", "soon")

	cfg := LoadConfigFromEnv()

	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected default body cap, got %d", cfg.MaxBodyBytes)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Fatalf("expected default window, got %v", cfg.RateLimitWindow)
	}
}
