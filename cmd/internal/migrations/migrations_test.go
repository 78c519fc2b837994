package migrations

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_ContainsOrderedGooseFiles(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, "00001_init.sql", names[0])
	assert.Equal(t, "00002_audit_log.sql", names[1])

	for _, name := range names {
		b, err := fs.ReadFile(FS, name)
		require.NoError(t, err)
		body := string(b)
		assert.Contains(t, body, "-- +goose Up", name)
		assert.Contains(t, body, "-- +goose Down", name)
	}
}

func TestInit_DeclaresCascades(t *testing.T) {
	t.Parallel()

	b, err := fs.ReadFile(FS, "00001_init.sql")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(b), "ON DELETE CASCADE"))
}

func TestOpen_EmptyURL(t *testing.T) {
	t.Parallel()

	_, err := Open("  ")
	assert.Error(t, err)
}

func TestUp_Integration(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("PASSGATE_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PASSGATE_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(raw)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Up(ctx, db))
	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, int64(2))
}
