package realtime

import (
	"encoding/json"
	"time"

	"passgate/cmd/identity/ids"
)

// Version is the envelope schema version.
const Version = 1

// Event types sent to clients.
const (
	TypeHello          = "hello"
	TypePong           = "pong"
	TypeError          = "error"
	TypeSessionCreated = "session.created"
	TypeSessionRevoked = "session.revoked"
	TypePasskeyAdded   = "passkey.added"
	TypePasskeyRemoved = "passkey.removed"
)

// TypePing is the only message clients send.
const TypePing = "ping"

// Envelope is the wire frame in both directions.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload is sent once after the upgrade.
type HelloPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// SessionPayload describes a session event. The id is the public lookup key, never the secret.
type SessionPayload struct {
	SessionID string `json:"session_id"`
}

// PasskeyPayload describes an authenticator event.
type PasskeyPayload struct {
	PasskeyID string `json:"passkey_id"`
}

// ErrorPayload reports a protocol problem.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope builds a server envelope. A payload that fails to marshal is sent empty.
func NewEnvelope(typ string, payload any, now time.Time) Envelope {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	id, _ := ids.NewULID(now)
	return Envelope{V: Version, Type: typ, ID: id, TS: now, Payload: raw}
}
