// Package authapi is the HTTP surface of passgate: passkey ceremonies, the
// signed-in account, its passkeys and sessions, and the admin views.
//
// Routes assume the CSRF guard and session middleware already ran.
package authapi
