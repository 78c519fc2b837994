// Package identity holds passgate's accounts and their passkey credentials.
//
// A User is created by the first successful registration ceremony for an
// allow-listed email and owns zero or more Authenticators. Deleting a user
// removes its sessions and authenticators.
package identity
