package passkey

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	"passgate/cmd/internal/metrics"
	"passgate/cmd/internal/realtime"
)

// BeginLogin issues assertion options listing the credentials registered for
// email and stores the challenge cookie on w. ip is the client address the
// lockout is keyed on.
func (c *Controller) BeginLogin(ctx context.Context, w http.ResponseWriter, email, ip string) (*protocol.CredentialAssertion, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := c.checkLockout(ctx, email, ip); err != nil {
		return nil, err
	}

	user, auths, found, err := c.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if !found || len(auths) == 0 {
		return nil, ErrUserNotFound
	}

	u := newWAUser(user.WebAuthnID, user.Email, user.DisplayName, auths)
	assertion, sd, err := c.wa.BeginLogin(u,
		webauthn.WithAllowedCredentials(u.descriptors()),
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, err
	}

	c.challenges.Set(w, sd.Challenge)
	metrics.RecordCeremony(metrics.CeremonyLogin, metrics.ResultOptions)
	return assertion, nil
}

// FinishLogin verifies an assertion, advances the stored signature counter and
// starts a session.
//
// A counter that does not increase (other than an authenticator that always
// reports zero) is rejected as a possible cloned authenticator, even when the
// signature is valid.
func (c *Controller) FinishLogin(ctx context.Context, w http.ResponseWriter, r *http.Request, in FinishInput) (Result, error) {
	chal, ok := c.challenges.Get(w, r)

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrChallengeMissing
	}
	if err := c.checkLockout(ctx, email, in.Meta.IP); err != nil {
		return Result{}, err
	}

	user, auths, found, err := c.lookup(ctx, email)
	if err != nil {
		return Result{}, err
	}
	if !found || len(auths) == 0 {
		return Result{}, ErrUserNotFound
	}

	res, err := c.finishLogin(ctx, w, chal, in, user, auths)
	if err != nil {
		if IsVerification(err) {
			action := audit.ActionLoginRejected
			if countsTowardLockout(err) {
				action = audit.ActionLoginFailed
			}
			c.log.Warn("auth.login.verify.fail", "err", err, "user_id", user.ID, "action", action)
			c.record(ctx, audit.Event{
				UserID:    user.ID,
				Action:    action,
				Subject:   email,
				IP:        in.Meta.IP,
				UserAgent: in.Meta.UserAgent,
				Meta:      map[string]any{"reason": err.Error()},
			})
		}
		metrics.RecordCeremony(metrics.CeremonyLogin, metrics.ResultFailure)
		return Result{}, err
	}

	metrics.RecordCeremony(metrics.CeremonyLogin, metrics.ResultSuccess)
	c.record(ctx, audit.Event{
		UserID:    res.User.ID,
		SessionID: res.Session.ID,
		Action:    audit.ActionLoginSuccess,
		Subject:   email,
		IP:        res.Session.IP,
		UserAgent: res.Session.UserAgent,
		Meta:      map[string]any{"passkey_id": res.Authenticator.ID},
	})
	c.publish(res.User.ID, realtime.TypeSessionCreated, realtime.SessionPayload{SessionID: res.Session.ID})
	return res, nil
}

func (c *Controller) finishLogin(ctx context.Context, w http.ResponseWriter, chal string, in FinishInput, user identity.User, auths []identity.Authenticator) (Result, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(in.Response)
	if err != nil {
		return Result{}, &VerifyError{Step: "parse assertion", Err: err}
	}

	var stored identity.Authenticator
	for _, a := range auths {
		if bytes.Equal(a.CredentialID, parsed.RawID) {
			stored = a
			break
		}
	}
	if stored.ID == "" {
		return Result{}, &VerifyError{Step: "match credential", Err: errors.New("credential not registered")}
	}

	u := newWAUser(user.WebAuthnID, user.Email, user.DisplayName, auths)
	sd := webauthn.SessionData{
		Challenge:            chal,
		RelyingPartyID:       c.cfg.RPID,
		UserID:               u.WebAuthnID(),
		AllowedCredentialIDs: u.credentialIDs(),
		UserVerification:     protocol.VerificationPreferred,
	}
	cred, err := c.wa.ValidateLogin(u, sd, parsed)
	if err != nil {
		return Result{}, &VerifyError{Step: "verify assertion", Err: err, Known: true}
	}
	if cred.Authenticator.CloneWarning {
		return Result{}, ErrCounterRegressed
	}

	now := c.now()
	err = c.users.UpdateAuthenticatorCounter(ctx, stored.ID, cred.Authenticator.SignCount, now)
	if identity.IsStaleCounter(err) {
		// A concurrent login advanced the counter first.
		return Result{}, ErrCounterRegressed
	}
	if identity.IsNotFound(err) {
		return Result{}, &VerifyError{Step: "update counter", Err: err, Known: true}
	}
	if err != nil {
		return Result{}, err
	}
	stored.Counter = cred.Authenticator.SignCount
	stored.LastUsedAt = &now

	if err := c.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		c.log.Warn("auth.login.touch.fail", "err", err, "user_id", user.ID)
	} else {
		user.LastLoginAt = &now
	}

	row, err := c.sessions.Set(ctx, w, user.ID, in.Meta)
	if err != nil {
		c.log.Error("auth.login.session.fail", "err", err, "user_id", user.ID)
		return Result{}, err
	}
	return Result{User: user, Authenticator: stored, Session: row}, nil
}
