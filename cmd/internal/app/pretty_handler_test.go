package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{ReplaceAttr: redactAttr}, false))

	log.With("request_id", "r1").Info("http.request",
		"method", "post",
		"path", "/auth/login/verify",
		"status", 401,
		"status_class", "4xx",
		"duration_ms", int64(12),
	)

	got := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"request_id=r1",
		"method=POST",
		"path=/auth/login/verify",
		"status=401",
		"class=4xx",
		"duration=12ms",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("line %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("uncolored handler wrote escape codes: %q", got)
	}
}

func TestPrettyHandler_Redacts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{ReplaceAttr: redactAttr}, false))

	log.Warn("csrf.reject", "csrf_token", "abc123", "has_cookie", true)

	got := buf.String()
	if strings.Contains(got, "abc123") {
		t.Fatalf("token leaked: %q", got)
	}
	if !strings.Contains(got, "csrf_token=[redacted]") {
		t.Fatalf("missing redaction marker: %q", got)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))

	log.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	log.Error("loud")
	if got := stripANSI(buf.String()); !strings.Contains(got, "lvl=[ERROR]") {
		t.Fatalf("missing error tag: %q", got)
	}
}

func TestPrettyHandler_NestedGroupKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).WithGroup("req")

	log.Info("x", slog.Group("client", "ip", "127.0.0.1"))

	got := buf.String()
	if !strings.Contains(got, " req.client.ip=127.0.0.1") {
		t.Fatalf("line %q missing nested key", got)
	}
	if strings.Contains(got, "req.req.") {
		t.Fatalf("group prefix repeated: %q", got)
	}
}

func TestPrettyHandler_Colors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))

	log.Info("http.request", "status", 503, "duration_ms", int64(1200), "result", "locked")

	got := buf.String()
	for _, want := range []string{
		ansiBlue + "[INFO]" + ansiReset,
		ansiRed + "503" + ansiReset,
		ansiRed + "1200ms" + ansiReset,
		ansiYellow + "locked" + ansiReset,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("line %q missing %q", got, want)
		}
	}
}

func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
