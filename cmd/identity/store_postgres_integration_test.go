package identity

import (
	"testing"

	"passgate/cmd/internal/pgtest"
)

func TestPostgresStore(t *testing.T) {
	pool := pgtest.OpenPool(t)

	s, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runStoreContract(t, s)
}

func TestWithSchema_RejectsBadIdentifier(t *testing.T) {
	if _, err := NewPostgresStore(nil, WithSchema("bad;schema")); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
}
