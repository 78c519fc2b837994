// Package session implements passgate's cookie sessions.
//
// A session cookie carries `id.secret`. The id is a lookup key; only the
// SHA-256 digest of the secret is stored. A session is valid while its row
// exists, it is younger than MaxAge, and the digest matches in constant time.
// Expiry is enforced when the cookie is read; the Janitor only reclaims rows.
//
// The Manager is the only component that reads or writes the cookie.
package session
