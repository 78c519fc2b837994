package identity

import (
	"context"
	"time"
)

// User is passgate's account record.
type User struct {
	ID          string
	Email       string // normalized
	DisplayName string
	Roles       []string

	// WebAuthnID is the opaque user handle given to authenticators.
	WebAuthnID []byte

	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// Authenticator is a registered passkey credential.
type Authenticator struct {
	ID           string
	UserID       string
	CredentialID []byte
	PublicKey    []byte

	// Counter is the last accepted signature counter. It never decreases.
	Counter uint32

	Transports      []string
	AttestationType string
	AAGUID          []byte

	// Flags is the raw authenticator-data flag byte from registration.
	Flags uint8

	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// CreateUserInput describes a new account.
type CreateUserInput struct {
	Email       string
	DisplayName string
	Roles       []string
	WebAuthnID  []byte
	Now         time.Time
}

// AddAuthenticatorInput describes a freshly verified credential.
type AddAuthenticatorInput struct {
	UserID          string
	CredentialID    []byte
	PublicKey       []byte
	Counter         uint32
	Transports      []string
	AttestationType string
	AAGUID          []byte
	Flags           uint8
	Now             time.Time
}

// Reader is the read side needed by session lookups.
type Reader interface {
	GetUserByID(ctx context.Context, id string) (User, error)
}

// Store is the identity persistence boundary.
type Store interface {
	Reader

	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CountUsers(ctx context.Context) (int, error)
	TouchLastLogin(ctx context.Context, userID string, now time.Time) error

	// DeleteUser removes the user together with its sessions and authenticators.
	DeleteUser(ctx context.Context, userID string) error

	AddAuthenticator(ctx context.Context, in AddAuthenticatorInput) (Authenticator, error)
	GetAuthenticator(ctx context.Context, id string) (Authenticator, error)
	ListAuthenticators(ctx context.Context, userID string) ([]Authenticator, error)
	DeleteAuthenticator(ctx context.Context, id string) error

	// UpdateAuthenticatorCounter stores counter only if it is greater than the
	// stored value, as one statement. A zero counter is accepted only while the
	// stored value is zero too (authenticators without counters). A lost update
	// returns ErrStaleCounter.
	UpdateAuthenticatorCounter(ctx context.Context, id string, counter uint32, now time.Time) error
}

func validateCreateUser(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Email = NormalizeEmail(in.Email)
	if !ValidEmail(in.Email) {
		return in, invalid(op, "valid email is required")
	}
	if len(in.WebAuthnID) == 0 || len(in.WebAuthnID) > 64 {
		return in, invalid(op, "webauthn id must be 1..64 bytes")
	}
	if in.DisplayName == "" {
		in.DisplayName = DefaultDisplayName(in.Email)
	}
	if in.Roles == nil {
		in.Roles = []string{}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}

func validateAddAuthenticator(op string, in AddAuthenticatorInput) (AddAuthenticatorInput, error) {
	if in.UserID == "" {
		return in, invalid(op, "user id is required")
	}
	if len(in.CredentialID) == 0 {
		return in, invalid(op, "credential id is required")
	}
	if len(in.PublicKey) == 0 {
		return in, invalid(op, "public key is required")
	}
	if in.Transports == nil {
		in.Transports = []string{}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
