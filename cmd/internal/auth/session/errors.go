package session

import "errors"

var (
	// ErrSessionNotFound is returned when no session row matches an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrNoUser is returned by Set when no user id is given.
	ErrNoUser = errors.New("session: user id is required")
)
