package authapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	"passgate/cmd/internal/auth/session"
)

var (
	errEmailRequired    = errors.New("email required")
	errResponseRequired = errors.New("response required")
)

// emailRequest is the body of both options steps.
type emailRequest struct {
	Email string `json:"email"`
}

func (r *emailRequest) Validate() error {
	r.Email = identity.NormalizeEmail(r.Email)
	if r.Email == "" {
		return errEmailRequired
	}
	return nil
}

// verifyRequest is the body of both verify steps. Response is the browser's
// PublicKeyCredential JSON, passed through untouched to the verifier.
type verifyRequest struct {
	Email    string          `json:"email"`
	Response json.RawMessage `json:"response"`
}

func (r *verifyRequest) Validate() error {
	r.Email = identity.NormalizeEmail(r.Email)
	if r.Email == "" {
		return errEmailRequired
	}
	if len(r.Response) == 0 || string(r.Response) == "null" {
		return errResponseRequired
	}
	return nil
}

type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Roles       []string   `json:"roles"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

type verifyResponse struct {
	Verified bool         `json:"verified"`
	User     userResponse `json:"user"`
}

type passkeyResponse struct {
	ID           string     `json:"id"`
	CredentialID string     `json:"credential_id"`
	Transports   []string   `json:"transports"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Current   bool      `json:"current"`
}

type auditEventResponse struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func toUserResponse(u identity.User) userResponse {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       roles,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func toPasskeyResponse(a identity.Authenticator) passkeyResponse {
	transports := a.Transports
	if transports == nil {
		transports = []string{}
	}
	return passkeyResponse{
		ID:           a.ID,
		CredentialID: base64.RawURLEncoding.EncodeToString(a.CredentialID),
		Transports:   transports,
		CreatedAt:    a.CreatedAt,
		LastUsedAt:   a.LastUsedAt,
	}
}

func toSessionResponse(row session.Row, maxAge time.Duration, currentID string) sessionResponse {
	return sessionResponse{
		ID:        row.ID,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.CreatedAt.Add(maxAge),
		UserAgent: row.UserAgent,
		IP:        row.IP,
		Current:   row.ID == currentID,
	}
}

func toAuditEventResponse(ev audit.Event) auditEventResponse {
	return auditEventResponse{
		ID:        ev.ID,
		Action:    ev.Action,
		UserID:    ev.UserID,
		SessionID: ev.SessionID,
		Subject:   ev.Subject,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		Meta:      ev.Meta,
		CreatedAt: ev.CreatedAt,
	}
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
