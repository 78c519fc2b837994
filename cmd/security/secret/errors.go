package secret

import "errors"

var (
	// ErrKeyTooShort is returned when a derivation key is below the minimum length.
	ErrKeyTooShort = errors.New("secret: key too short")
	// ErrDeriveLength is returned for a non-positive derivation output length.
	ErrDeriveLength = errors.New("secret: invalid derive length")
)
