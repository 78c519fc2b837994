package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authapi "passgate/cmd/internal/auth/api"
	"passgate/cmd/internal/auth/challenge"
	"passgate/cmd/internal/auth/csrf"
	"passgate/cmd/internal/auth/passkey"
	"passgate/cmd/internal/auth/session"
)

func testConfig() Config {
	sess := session.DefaultConfig()
	sess.CookieSecure = false
	cs := csrf.DefaultConfig()
	cs.CookieSecure = false
	ch := challenge.DefaultConfig()
	ch.CookieSecure = false

	return Config{
		HTTPAddr:         "127.0.0.1:0",
		LogLevel:         "info",
		LogFormat:        LogFormatJSON,
		AllowedEmail:     "admin@example.com",
		WSAllowedOrigins: []string{"http://localhost:8080"},
		Session:          sess,
		Challenge:        ch,
		CSRF:             cs,
		Passkey:          passkey.DefaultConfig(),
		Auth:             authapi.DefaultConfig(),
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(testConfig(), log, memoryStores())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return a
}

func TestRoutes_Probes(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).Handler())
	defer srv.Close()

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/healthz", status: http.StatusOK, body: "ok"},
		{path: "/readyz", status: http.StatusOK, body: "ready"},
		{path: "/metrics", status: http.StatusOK, body: "passgate_"},
		{path: "/auth/me", status: http.StatusUnauthorized, body: "Unauthorized"},
		{path: "/admin/users", status: http.StatusUnauthorized, body: "Unauthorized"},
	}

	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode != tc.status {
			t.Fatalf("GET %s status=%d want=%d", tc.path, resp.StatusCode, tc.status)
		}
		if !strings.Contains(string(raw), tc.body) {
			t.Fatalf("GET %s body=%q want containing %q", tc.path, raw, tc.body)
		}
		if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("GET %s missing security headers", tc.path)
		}
	}
}

func TestRoutes_CSRFBeforeHandlers(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/auth/login/options", "application/json", strings.NewReader(`{"email":"admin@example.com"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d want 403", resp.StatusCode)
	}
}

func TestRoutes_EventsRequireSession(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/auth/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", resp.StatusCode)
	}
}

func TestReadyz_RequireDB(t *testing.T) {
	cfg := testConfig()
	cfg.ReadinessRequireDB = true
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := newApp(cfg, log, memoryStores())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
}

func TestLoadConfig_LegacyNames(t *testing.T) {
	t.Setenv("RP_ID", "example.com")
	t.Setenv("RP_NAME", "Example")
	t.Setenv("ORIGIN", "https://example.com")
	t.Setenv("ALLOWED_EMAIL", "Admin@Example.com")
	t.Setenv("PASSGATE_WEBAUTHN_TIMEOUT", "2m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Passkey.RPID != "example.com" || cfg.Passkey.RPDisplayName != "Example" {
		t.Fatalf("rp=%q/%q", cfg.Passkey.RPID, cfg.Passkey.RPDisplayName)
	}
	if len(cfg.Passkey.RPOrigins) != 1 || cfg.Passkey.RPOrigins[0] != "https://example.com" {
		t.Fatalf("origins=%v", cfg.Passkey.RPOrigins)
	}
	if len(cfg.WSAllowedOrigins) != 1 || cfg.WSAllowedOrigins[0] != "https://example.com" {
		t.Fatalf("ws origins=%v", cfg.WSAllowedOrigins)
	}
	if cfg.AllowedEmail != "Admin@Example.com" {
		t.Fatalf("allowed=%q", cfg.AllowedEmail)
	}
	if cfg.Challenge.TTL != 2*time.Minute {
		t.Fatalf("challenge ttl=%v want 2m", cfg.Challenge.TTL)
	}
	if cfg.CSRF.MaxAge != cfg.Session.MaxAge {
		t.Fatalf("csrf max age=%v session=%v", cfg.CSRF.MaxAge, cfg.Session.MaxAge)
	}
}

func TestLoadConfig_PrefixedWins(t *testing.T) {
	t.Setenv("RP_ID", "legacy.example.com")
	t.Setenv("PASSGATE_RP_ID", "example.com")
	t.Setenv("PASSGATE_RP_ORIGINS", "https://example.com, https://www.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Passkey.RPID != "example.com" {
		t.Fatalf("rp id=%q", cfg.Passkey.RPID)
	}
	if len(cfg.Passkey.RPOrigins) != 2 || cfg.Passkey.RPOrigins[1] != "https://www.example.com" {
		t.Fatalf("origins=%v", cfg.Passkey.RPOrigins)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "log format", key: "PASSGATE_LOG_FORMAT", val: "xml"},
		{name: "cookie secure", key: "PASSGATE_COOKIE_SECURE", val: "maybe"},
		{name: "rp id with scheme", key: "PASSGATE_RP_ID", val: "https://example.com"},
		{name: "allow-list", key: "PASSGATE_ALLOWED_EMAIL", val: "not an email"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := LoadConfig()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("err=%v want ErrConfig", err)
			}
		})
	}
}
