package session

import (
	"context"
	"time"

	"passgate/cmd/identity"
)

// Row mirrors the passgate.sessions row.
type Row struct {
	ID         string
	UserID     string
	SecretHash []byte
	CreatedAt  time.Time

	// UserAgent and IP are informational (session listings, audit); never used for validation.
	UserAgent string
	IP        string
}

// Store abstracts persistence for session state.
//
// Every method is a single statement against the backing store.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, row Row) error

	// GetWithUser loads a session together with its owning user in one lookup.
	// A session whose user no longer exists is ErrSessionNotFound.
	GetWithUser(ctx context.Context, id string) (Row, identity.User, error)

	// Delete removes a session. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error

	// ListByUser returns a user's sessions, newest first.
	ListByUser(ctx context.Context, userID string) ([]Row, error)

	// DeleteByUser removes every session of a user.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// DeleteCreatedBefore removes sessions created before t.
	DeleteCreatedBefore(ctx context.Context, t time.Time) (int64, error)
}
