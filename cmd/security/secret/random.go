package secret

import (
	"crypto/rand"
	"encoding/hex"
)

// Alphabet has 32 symbols so a random byte maps onto it with a 3-bit shift and
// no modulo bias. Confusable characters (l, o, 0, 1) are left out.
const Alphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// DefaultLength is used when RandomString is called with n <= 0.
const DefaultLength = 24

// RandomString returns n characters drawn uniformly from Alphabet using crypto/rand.
func RandomString(n int) (string, error) {
	if n <= 0 {
		n = DefaultLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = Alphabet[b[i]>>3]
	}
	return string(b), nil
}

// RandomHex returns the hex encoding of nBytes random bytes (2*nBytes chars).
func RandomHex(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
