// Package passkey runs the WebAuthn registration and login ceremonies.
//
// Each ceremony has two steps. The options step issues a challenge, stored
// only in a short-lived cookie through the challenge manager. The verify step
// consumes that cookie exactly once, verifies the authenticator response with
// go-webauthn and, on success, persists the credential or counter and starts a
// cookie session.
package passkey
