package invite

import "errors"

var (
	// ErrNotInvited is returned when an email is not on the allow-list.
	ErrNotInvited = errors.New("not invited")

	// ErrInvalidEntry is returned for a malformed allow-list entry.
	ErrInvalidEntry = errors.New("invalid allow-list entry")
)
