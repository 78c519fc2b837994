package ids

import (
	"testing"
	"time"
)

func TestNewULID_SortsByTime(t *testing.T) {
	t.Parallel()

	a, err := NewULID(time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(time.Unix(1700000100, 0))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected ULID length: %d %d", len(a), len(b))
	}
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestNewUUID(t *testing.T) {
	t.Parallel()

	id, err := NewUUID()
	if err != nil {
		t.Fatalf("NewUUID: %v", err)
	}
	if !ValidUUID(id) {
		t.Fatalf("NewUUID returned invalid uuid %q", id)
	}
	if ValidUUID("not-a-uuid") {
		t.Fatalf("expected invalid uuid to be rejected")
	}
}
