package passkey

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	"passgate/cmd/internal/auth/challenge"
	"passgate/cmd/internal/auth/session"
	"passgate/cmd/internal/invite"
	"passgate/cmd/internal/realtime"
	"passgate/cmd/security/secret"
)

// Params holds the controller's collaborators.
type Params struct {
	Config     Config
	Users      identity.Store
	Sessions   *session.Manager
	Challenges *challenge.Manager
	Invites    invite.Allowlist

	// Audit records ceremony outcomes and backs the login lockout. Optional.
	Audit audit.Recorder

	// Events receives session and passkey events. Optional.
	Events realtime.Publisher

	Log *slog.Logger
	Now func() time.Time
}

// Controller runs registration and login ceremonies.
type Controller struct {
	wa         *webauthn.WebAuthn
	cfg        Config
	handleKey  []byte
	users      identity.Store
	sessions   *session.Manager
	challenges *challenge.Manager
	invites    invite.Allowlist
	audit      audit.Recorder
	events     realtime.Publisher
	log        *slog.Logger
	now        func() time.Time
}

// FinishInput is the body of a verify step plus request metadata.
type FinishInput struct {
	Email    string
	Response json.RawMessage

	// Viewer is the signed-in user, or nil. Registration only.
	Viewer *identity.User

	Meta session.Meta
}

// Result is the outcome of a successful verify step.
type Result struct {
	User          identity.User
	Authenticator identity.Authenticator
	Session       session.Row
}

func NewController(p Params) (*Controller, error) {
	if p.Users == nil {
		return nil, errors.New("passkey: user store is required")
	}
	if p.Sessions == nil {
		return nil, errors.New("passkey: session manager is required")
	}
	if p.Challenges == nil {
		return nil, errors.New("passkey: challenge manager is required")
	}
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Now == nil {
		p.Now = func() time.Time { return time.Now().UTC() }
	}
	if p.Events == nil {
		p.Events = realtime.Nop{}
	}

	key := p.Config.UserHandleKey
	if len(key) == 0 {
		key = make([]byte, secret.MinKeyBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		p.Log.Warn("passkey.user_handle_key.ephemeral",
			"hint", "set PASSGATE_USER_HANDLE_KEY so new-account handles survive restarts")
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:                  p.Config.RPID,
		RPDisplayName:         p.Config.RPDisplayName,
		RPOrigins:             p.Config.RPOrigins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		},
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Timeout:    p.Config.Timeout,
				TimeoutUVD: p.Config.Timeout,
			},
			Registration: webauthn.TimeoutConfig{
				Timeout:    p.Config.Timeout,
				TimeoutUVD: p.Config.Timeout,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return &Controller{
		wa:         wa,
		cfg:        p.Config,
		handleKey:  key,
		users:      p.Users,
		sessions:   p.Sessions,
		challenges: p.Challenges,
		invites:    p.Invites,
		audit:      p.Audit,
		events:     p.Events,
		log:        p.Log,
		now:        p.Now,
	}, nil
}

// Config returns the relying party configuration in use.
func (c *Controller) Config() Config { return c.cfg }

func (c *Controller) record(ctx context.Context, ev audit.Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = c.now()
	}
	audit.Log(ctx, c.audit, c.log, ev)
}

func (c *Controller) publish(userID, typ string, payload any) {
	c.events.Publish(userID, realtime.NewEnvelope(typ, payload, c.now()))
}

// lookup returns the user for email and its authenticators. found is false
// when no account exists.
func (c *Controller) lookup(ctx context.Context, email string) (identity.User, []identity.Authenticator, bool, error) {
	u, err := c.users.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) {
		return identity.User{}, nil, false, nil
	}
	if err != nil {
		return identity.User{}, nil, false, err
	}
	auths, err := c.users.ListAuthenticators(ctx, u.ID)
	if err != nil {
		return identity.User{}, nil, false, err
	}
	return u, auths, true, nil
}

func normalizeEmail(email string) (string, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	return email, nil
}
