package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// TrustProxy honours X-Forwarded-For and X-Real-IP for client addresses.
	TrustProxy   bool
	MaxBodyBytes int64

	// RateLimitRequests per RateLimitWindow per client IP on ceremony routes.
	// Zero disables the limiter.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		RateLimitRequests: 30,
		RateLimitWindow:   time.Minute,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:        envBool("PASSGATE_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("PASSGATE_MAX_BODY_BYTES", def.MaxBodyBytes),
		RateLimitRequests: envInt("PASSGATE_RATE_LIMIT_REQUESTS", def.RateLimitRequests),
		RateLimitWindow:   envDuration("PASSGATE_RATE_LIMIT_WINDOW", def.RateLimitWindow),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
