package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecorder_ListNewestFirst(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, action := range []string{ActionLoginFailed, ActionLoginSuccess, ActionLogout} {
		require.NoError(t, rec.Record(ctx, Event{Action: action, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	events, err := rec.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionLogout, events[0].Action)
	assert.Equal(t, ActionLoginSuccess, events[1].Action)
	assert.Len(t, events[0].ID, 26)
}

func TestMemoryRecorder_CountSince(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := func(action, subject, ip string, at time.Time) {
		require.NoError(t, rec.Record(ctx, Event{Action: action, Subject: subject, IP: ip, CreatedAt: at}))
	}
	record(ActionLoginFailed, "a@example.com", "192.0.2.1", now.Add(-20*time.Minute))
	record(ActionLoginFailed, "a@example.com", "192.0.2.1", now.Add(-5*time.Minute))
	record(ActionLoginFailed, "a@example.com", "::ffff:192.0.2.1", now)
	record(ActionLoginFailed, "a@example.com", "198.51.100.9", now)
	record(ActionLoginFailed, "a@example.com", "", now)
	record(ActionLoginFailed, "b@example.com", "192.0.2.1", now)
	record(ActionLoginSuccess, "a@example.com", "192.0.2.1", now)

	count := func(ip string) int {
		n, err := rec.CountSince(ctx, CountQuery{
			Action:  ActionLoginFailed,
			Subject: "a@example.com",
			IP:      ip,
			Since:   now.Add(-15 * time.Minute),
		})
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 2, count("192.0.2.1"))
	assert.Equal(t, 1, count("198.51.100.9"))
	assert.Equal(t, 1, count(""))
	assert.Equal(t, 0, count("203.0.113.5"))
}

func TestRecord_NormalizesIPAndUserAgent(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	ua := strings.Repeat("x", maxUserAgentLen-1) + "日本"
	require.NoError(t, rec.Record(ctx, Event{Action: ActionLogout, IP: "not-an-ip", UserAgent: ua}))
	require.NoError(t, rec.Record(ctx, Event{Action: ActionLogout, IP: " ::ffff:10.0.0.1 "}))

	events, err := rec.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "10.0.0.1", events[0].IP)
	assert.Equal(t, "", events[1].IP)
	assert.True(t, utf8.ValidString(events[1].UserAgent))
	assert.Equal(t, strings.Repeat("x", maxUserAgentLen-1), events[1].UserAgent)
}

func TestRecord_RejectsEmptyAction(t *testing.T) {
	err := NewMemoryRecorder().Record(context.Background(), Event{Action: "  "})
	assert.ErrorIs(t, err, ErrEmptyAction)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ClampLimit(0))
	assert.Equal(t, DefaultListLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxListLimit, ClampLimit(MaxListLimit+1))
}

type failingRecorder struct{ MemoryRecorder }

func (*failingRecorder) Record(context.Context, Event) error { return errors.New("db down") }

func TestLog_SwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	Log(context.Background(), &failingRecorder{}, log, Event{Action: ActionLogout})
	assert.Contains(t, buf.String(), "audit.insert.fail")

	Log(context.Background(), nil, log, Event{Action: ActionLogout})
}
