// Package secret provides the random-string, digest and comparison primitives
// used for session ids, session secrets and CSRF tokens.
//
// Session secrets are stored as raw SHA-256 digests (32 bytes). Comparison of
// digests and tokens must go through Equal/EqualString.
package secret
