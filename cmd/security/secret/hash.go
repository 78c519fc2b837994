package secret

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Hash returns the raw SHA-256 digest of s.
func Hash(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// HashHex returns the hex SHA-256 digest of s.
func HashHex(s string) string {
	return hex.EncodeToString(Hash(s))
}

// Equal compares a and b in constant time. Differing or zero lengths return false
// immediately; callers only compare fixed-size digests or fixed-size tokens.
func Equal(a, b []byte) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// EqualString is Equal for string tokens.
func EqualString(a, b string) bool {
	return Equal([]byte(a), []byte(b))
}
