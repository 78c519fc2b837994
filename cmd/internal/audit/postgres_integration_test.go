package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"passgate/cmd/internal/pgtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRecorder(t *testing.T) {
	pool := pgtest.OpenPool(t)
	ctx := context.Background()

	rec, err := NewPostgresRecorder(pool, "")
	require.NoError(t, err)

	b := make([]byte, 6)
	_, _ = rand.Read(b)
	subject := "audit-" + hex.EncodeToString(b) + "@example.com"
	now := time.Now().UTC()

	require.NoError(t, rec.Record(ctx, Event{
		Action:    ActionLoginFailed,
		Subject:   subject,
		IP:        "198.51.100.7",
		UserAgent: "go-test",
		Meta:      map[string]any{"reason": "verification"},
		CreatedAt: now,
	}))

	n, err := rec.CountSince(ctx, CountQuery{Action: ActionLoginFailed, Subject: subject, IP: "198.51.100.7", Since: now.Add(-time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = rec.CountSince(ctx, CountQuery{Action: ActionLoginFailed, Subject: subject, IP: "198.51.100.8", Since: now.Add(-time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	events, err := rec.List(ctx, MaxListLimit)
	require.NoError(t, err)

	var found bool
	for _, ev := range events {
		if ev.Subject == subject {
			found = true
			assert.Equal(t, "198.51.100.7", ev.IP)
			assert.Equal(t, "verification", ev.Meta["reason"])
		}
	}
	assert.True(t, found)
}
