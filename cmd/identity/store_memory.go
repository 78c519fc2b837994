package identity

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"passgate/cmd/identity/ids"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Returned values never alias internal state.
type MemoryStore struct {
	mu sync.Mutex

	users          map[string]User
	authenticators map[string]Authenticator
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          make(map[string]User),
		authenticators: make(map[string]Authenticator),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := validateCreateUser(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == in.Email {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		if bytes.Equal(u.WebAuthnID, in.WebAuthnID) {
			return User{}, ConflictError{Op: op, Field: "webauthn_id"}
		}
	}

	u := User{
		ID:          id,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Roles:       cloneStrings(in.Roles),
		WebAuthnID:  bytes.Clone(in.WebAuthnID),
		CreatedAt:   in.Now,
	}
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	email = NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return User{}, NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.Lock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CountUsers(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *MemoryStore) TouchLastLogin(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: "identity.TouchLastLogin", Resource: "user"}
	}
	t := now
	u.LastLoginAt = &t
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return NotFoundError{Op: "identity.DeleteUser", Resource: "user"}
	}
	delete(s.users, userID)
	for id, a := range s.authenticators {
		if a.UserID == userID {
			delete(s.authenticators, id)
		}
	}
	return nil
}

func (s *MemoryStore) AddAuthenticator(_ context.Context, in AddAuthenticatorInput) (Authenticator, error) {
	const op = "identity.AddAuthenticator"

	in, err := validateAddAuthenticator(op, in)
	if err != nil {
		return Authenticator{}, err
	}
	id, err := ids.NewUUID()
	if err != nil {
		return Authenticator{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[in.UserID]; !ok {
		return Authenticator{}, NotFoundError{Op: op, Resource: "user"}
	}
	for _, a := range s.authenticators {
		if bytes.Equal(a.CredentialID, in.CredentialID) {
			return Authenticator{}, ConflictError{Op: op, Field: "credential_id"}
		}
	}

	a := Authenticator{
		ID:              id,
		UserID:          in.UserID,
		CredentialID:    bytes.Clone(in.CredentialID),
		PublicKey:       bytes.Clone(in.PublicKey),
		Counter:         in.Counter,
		Transports:      cloneStrings(in.Transports),
		AttestationType: in.AttestationType,
		AAGUID:          bytes.Clone(in.AAGUID),
		Flags:           in.Flags,
		CreatedAt:       in.Now,
	}
	s.authenticators[id] = a
	return cloneAuthenticator(a), nil
}

func (s *MemoryStore) GetAuthenticator(_ context.Context, id string) (Authenticator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.authenticators[id]
	if !ok {
		return Authenticator{}, NotFoundError{Op: "identity.GetAuthenticator", Resource: "authenticator"}
	}
	return cloneAuthenticator(a), nil
}

func (s *MemoryStore) ListAuthenticators(_ context.Context, userID string) ([]Authenticator, error) {
	s.mu.Lock()
	var out []Authenticator
	for _, a := range s.authenticators {
		if a.UserID == userID {
			out = append(out, cloneAuthenticator(a))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeleteAuthenticator(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authenticators[id]; !ok {
		return NotFoundError{Op: "identity.DeleteAuthenticator", Resource: "authenticator"}
	}
	delete(s.authenticators, id)
	return nil
}

func (s *MemoryStore) UpdateAuthenticatorCounter(_ context.Context, id string, counter uint32, now time.Time) error {
	const op = "identity.UpdateAuthenticatorCounter"

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.authenticators[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "authenticator"}
	}

	switch {
	case counter == 0 && a.Counter == 0:
	case counter > a.Counter:
		a.Counter = counter
	default:
		return OpError{Op: op, Kind: ErrStaleCounter}
	}

	t := now
	a.LastUsedAt = &t
	s.authenticators[id] = a
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUser(u User) User {
	u.Roles = cloneStrings(u.Roles)
	u.WebAuthnID = bytes.Clone(u.WebAuthnID)
	u.LastLoginAt = cloneTime(u.LastLoginAt)
	return u
}

func cloneAuthenticator(a Authenticator) Authenticator {
	a.CredentialID = bytes.Clone(a.CredentialID)
	a.PublicKey = bytes.Clone(a.PublicKey)
	a.Transports = cloneStrings(a.Transports)
	a.AAGUID = bytes.Clone(a.AAGUID)
	a.LastUsedAt = cloneTime(a.LastUsedAt)
	return a
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
