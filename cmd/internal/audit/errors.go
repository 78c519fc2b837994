package audit

import "errors"

// ErrEmptyAction is returned when an event has no action.
var ErrEmptyAction = errors.New("audit: empty action")
