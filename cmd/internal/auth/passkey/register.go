package passkey

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	"passgate/cmd/internal/metrics"
	"passgate/cmd/internal/realtime"
	"passgate/cmd/security/access"
)

// BeginRegistration issues creation options for email and stores the challenge
// cookie on w. viewer is the signed-in user, or nil.
//
// An account that already has passkeys can only add more while signed in as
// itself.
func (c *Controller) BeginRegistration(ctx context.Context, w http.ResponseWriter, email string, viewer *identity.User) (*protocol.CredentialCreation, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !c.invites.Allows(email) {
		return nil, ErrNotInvited
	}

	u, err := c.registrant(ctx, email, viewer)
	if err != nil {
		return nil, err
	}

	creation, sd, err := c.wa.BeginRegistration(u,
		webauthn.WithExclusions(u.descriptors()),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return nil, err
	}

	c.challenges.Set(w, sd.Challenge)
	metrics.RecordCeremony(metrics.CeremonyRegister, metrics.ResultOptions)
	return creation, nil
}

// FinishRegistration verifies an attestation response, stores the credential
// (creating the account on first use) and starts a session.
//
// The credential is committed before the session is created. If session
// creation fails the passkey stays registered and the client signs in instead.
func (c *Controller) FinishRegistration(ctx context.Context, w http.ResponseWriter, r *http.Request, in FinishInput) (Result, error) {
	chal, ok := c.challenges.Get(w, r)

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrChallengeMissing
	}
	if !c.invites.Allows(email) {
		return Result{}, ErrNotInvited
	}

	u, err := c.registrant(ctx, email, in.Viewer)
	if err != nil {
		return Result{}, err
	}

	res, err := c.finishRegistration(ctx, w, email, chal, in, u)
	if err != nil {
		if IsVerification(err) || errors.Is(err, ErrDuplicateCredential) {
			c.record(ctx, audit.Event{
				Action:    audit.ActionRegisterFailed,
				Subject:   email,
				IP:        in.Meta.IP,
				UserAgent: in.Meta.UserAgent,
				Meta:      map[string]any{"reason": err.Error()},
			})
		}
		metrics.RecordCeremony(metrics.CeremonyRegister, metrics.ResultFailure)
		return Result{}, err
	}

	metrics.RecordCeremony(metrics.CeremonyRegister, metrics.ResultSuccess)
	c.record(ctx, audit.Event{
		UserID:    res.User.ID,
		SessionID: res.Session.ID,
		Action:    audit.ActionRegisterSuccess,
		Subject:   email,
		IP:        res.Session.IP,
		UserAgent: res.Session.UserAgent,
		Meta:      map[string]any{"passkey_id": res.Authenticator.ID},
	})
	c.publish(res.User.ID, realtime.TypePasskeyAdded, realtime.PasskeyPayload{PasskeyID: res.Authenticator.ID})
	c.publish(res.User.ID, realtime.TypeSessionCreated, realtime.SessionPayload{SessionID: res.Session.ID})
	return res, nil
}

// registrant is the account being registered. For a new email it has no id
// yet and carries the derived user handle.
type registrant struct {
	*waUser
	existing *identity.User
}

func (c *Controller) registrant(ctx context.Context, email string, viewer *identity.User) (registrant, error) {
	existing, auths, found, err := c.lookup(ctx, email)
	if err != nil {
		return registrant{}, err
	}
	if found {
		if len(auths) > 0 && (viewer == nil || viewer.ID != existing.ID) {
			return registrant{}, ErrNotInvited
		}
		return registrant{
			waUser:   newWAUser(existing.WebAuthnID, existing.Email, existing.DisplayName, auths),
			existing: &existing,
		}, nil
	}

	handle, err := c.userHandle(email)
	if err != nil {
		return registrant{}, err
	}
	return registrant{waUser: newWAUser(handle, email, "", nil)}, nil
}

func (c *Controller) finishRegistration(ctx context.Context, w http.ResponseWriter, email, chal string, in FinishInput, u registrant) (Result, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(in.Response)
	if err != nil {
		return Result{}, &VerifyError{Step: "parse attestation", Err: err}
	}

	sd := webauthn.SessionData{
		Challenge:        chal,
		RelyingPartyID:   c.cfg.RPID,
		UserID:           u.WebAuthnID(),
		UserVerification: protocol.VerificationPreferred,
		CredParams:       webauthn.CredentialParametersDefault(),
	}
	cred, err := c.wa.CreateCredential(u, sd, parsed)
	if err != nil {
		c.log.Warn("auth.register.verify.fail", "err", err)
		return Result{}, &VerifyError{Step: "verify attestation", Err: err}
	}

	now := c.now()
	var user identity.User
	if u.existing != nil {
		user = *u.existing
	} else {
		user, err = c.createUser(ctx, email, u.WebAuthnID(), now)
		if err != nil {
			return Result{}, err
		}
	}

	a, err := c.users.AddAuthenticator(ctx, identity.AddAuthenticatorInput{
		UserID:          user.ID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		Counter:         cred.Authenticator.SignCount,
		Transports:      transportStrings(cred.Transport),
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		Flags:           uint8(cred.Flags.ProtocolValue()),
		Now:             now,
	})
	if identity.IsConflict(err) {
		return Result{}, ErrDuplicateCredential
	}
	if err != nil {
		return Result{}, err
	}

	if err := c.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		c.log.Warn("auth.register.touch.fail", "err", err, "user_id", user.ID)
	}

	row, err := c.sessions.Set(ctx, w, user.ID, in.Meta)
	if err != nil {
		c.log.Error("auth.register.session.fail", "err", err, "user_id", user.ID)
		return Result{}, err
	}
	return Result{User: user, Authenticator: a, Session: row}, nil
}

// createUser creates the account. The first account becomes admin, later
// ones get the configured default role.
func (c *Controller) createUser(ctx context.Context, email string, handle []byte, now time.Time) (identity.User, error) {
	n, err := c.users.CountUsers(ctx)
	if err != nil {
		return identity.User{}, err
	}
	role := c.cfg.DefaultRole
	if n == 0 {
		role = string(access.RoleAdmin)
	}

	user, err := c.users.CreateUser(ctx, identity.CreateUserInput{
		Email:      email,
		Roles:      []string{role},
		WebAuthnID: handle,
		Now:        now,
	})
	if identity.IsConflict(err) {
		// Lost a race with a concurrent registration of the same email.
		return c.users.GetUserByEmail(ctx, email)
	}
	return user, err
}
