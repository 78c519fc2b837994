package secret

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinKeyBytes is the minimum accepted length for a configured derivation key.
const MinKeyBytes = 32

// DeriveKey expands key into n bytes with HKDF-SHA256, bound to salt and info.
// The output is deterministic for the same inputs.
func DeriveKey(key, salt, info []byte, n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrDeriveLength
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckKey enforces MinKeyBytes on a configured key. Empty keys are reported as
// too short as well; callers decide whether an empty key is acceptable.
func CheckKey(key []byte) error {
	if len(key) < MinKeyBytes {
		return ErrKeyTooShort
	}
	return nil
}
