package identity

import (
	"time"

	"passgate/cmd/identity/ids"
)

// NewULID returns a new ULID (26-char string) for user rows.
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
