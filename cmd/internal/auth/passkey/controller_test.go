package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	"passgate/cmd/internal/auth/challenge"
	"passgate/cmd/internal/auth/session"
	"passgate/cmd/internal/invite"
	"passgate/cmd/internal/realtime"
)

const (
	adminEmail  = "admin@example.com"
	friendEmail = "friend@example.com"

	testIP     = "127.0.0.1"
	attackerIP = "203.0.113.9"
)

var rp = virtualwebauthn.RelyingParty{
	Name:   "Example",
	ID:     "example.com",
	Origin: "https://example.com",
}

type recordingPublisher struct {
	types []string
}

func (p *recordingPublisher) Publish(_ string, env realtime.Envelope) {
	p.types = append(p.types, env.Type)
}
func (p *recordingPublisher) KickSession(string) {}
func (p *recordingPublisher) KickUser(string)    {}

type harness struct {
	c        *Controller
	users    *identity.MemoryStore
	sessions *session.Manager
	audit    *audit.MemoryRecorder
	events   *recordingPublisher
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RPID = rp.ID
	cfg.RPDisplayName = rp.Name
	cfg.RPOrigins = []string{rp.Origin}
	cfg.UserHandleKey = []byte("0123456789abcdef0123456789abcdef")
	for _, fn := range mutate {
		fn(&cfg)
	}

	allow, err := invite.ParseAllowlist(adminEmail + "," + friendEmail)
	require.NoError(t, err)

	users := identity.NewMemoryStore()
	sessCfg := session.DefaultConfig()
	sessCfg.CookieSecure = false
	sessions := session.NewManager(sessCfg, session.NewMemoryStore(users))
	rec := audit.NewMemoryRecorder()
	events := &recordingPublisher{}

	c, err := NewController(Params{
		Config:     cfg,
		Users:      users,
		Sessions:   sessions,
		Challenges: challenge.NewManager(challenge.Config{}),
		Invites:    allow,
		Audit:      rec,
		Events:     events,
	})
	require.NoError(t, err)

	return &harness{c: c, users: users, sessions: sessions, audit: rec, events: events}
}

// carry builds a request holding the cookies set on rec.
func carry(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			req.AddCookie(c)
		}
	}
	return req
}

type device struct {
	auth virtualwebauthn.Authenticator
	cred virtualwebauthn.Credential
}

func newDevice() *device {
	return &device{
		auth: virtualwebauthn.NewAuthenticator(),
		cred: virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
	}
}

func (h *harness) register(t *testing.T, d *device, email string, viewer *identity.User) (Result, error) {
	t.Helper()

	rec := httptest.NewRecorder()
	creation, err := h.c.BeginRegistration(context.Background(), rec, email, viewer)
	if err != nil {
		return Result{}, err
	}

	optsJSON, err := json.Marshal(creation.Response)
	require.NoError(t, err)
	opts, err := virtualwebauthn.ParseAttestationOptions(string(optsJSON))
	require.NoError(t, err)
	resp := virtualwebauthn.CreateAttestationResponse(rp, d.auth, d.cred, *opts)

	res, err := h.c.FinishRegistration(context.Background(), httptest.NewRecorder(), carry(rec), FinishInput{
		Email:    email,
		Response: json.RawMessage(resp),
		Viewer:   viewer,
		Meta:     session.Meta{UserAgent: "test", IP: testIP},
	})
	if err == nil {
		d.auth.AddCredential(d.cred)
	}
	return res, err
}

func (h *harness) login(t *testing.T, d *device, email string) (Result, error) {
	t.Helper()

	rec := httptest.NewRecorder()
	assertion, err := h.c.BeginLogin(context.Background(), rec, email, testIP)
	if err != nil {
		return Result{}, err
	}

	optsJSON, err := json.Marshal(assertion.Response)
	require.NoError(t, err)
	opts, err := virtualwebauthn.ParseAssertionOptions(string(optsJSON))
	require.NoError(t, err)
	resp := virtualwebauthn.CreateAssertionResponse(rp, d.auth, d.cred, *opts)

	return h.c.FinishLogin(context.Background(), httptest.NewRecorder(), carry(rec), FinishInput{
		Email:    email,
		Response: json.RawMessage(resp),
		Meta:     session.Meta{UserAgent: "test", IP: testIP},
	})
}

func TestRegisterThenLogin(t *testing.T) {
	h := newHarness(t)
	d := newDevice()

	reg, err := h.register(t, d, "Admin@Example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, adminEmail, reg.User.Email)
	assert.Equal(t, []string{"admin"}, reg.User.Roles)
	assert.Len(t, reg.User.WebAuthnID, UserHandleBytes)
	assert.Equal(t, d.cred.ID, reg.Authenticator.CredentialID)
	assert.NotEmpty(t, reg.Session.ID)

	auths, err := h.users.ListAuthenticators(context.Background(), reg.User.ID)
	require.NoError(t, err)
	require.Len(t, auths, 1)

	d.cred.Counter = 1
	got, err := h.login(t, d, adminEmail)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, got.User.ID)
	assert.NotEqual(t, reg.Session.ID, got.Session.ID)
	assert.Equal(t, uint32(1), got.Authenticator.Counter)
	require.NotNil(t, got.User.LastLoginAt)

	stored, err := h.users.GetAuthenticator(context.Background(), reg.Authenticator.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.Counter)
	require.NotNil(t, stored.LastUsedAt)

	assert.Equal(t, []string{
		realtime.TypePasskeyAdded,
		realtime.TypeSessionCreated,
		realtime.TypeSessionCreated,
	}, h.events.types)

	events, err := h.audit.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionLoginSuccess, events[0].Action)
	assert.Equal(t, audit.ActionRegisterSuccess, events[1].Action)
}

func TestRegister_SecondUserGetsDefaultRole(t *testing.T) {
	h := newHarness(t)

	_, err := h.register(t, newDevice(), adminEmail, nil)
	require.NoError(t, err)

	res, err := h.register(t, newDevice(), friendEmail, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, res.User.Roles)
}

func TestBeginRegistration_Rejections(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		email string
		want  error
	}{
		{"empty", "", ErrEmailRequired},
		{"blank", "   ", ErrEmailRequired},
		{"not invited", "stranger@example.com", ErrNotInvited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			_, err := h.c.BeginRegistration(context.Background(), rec, tt.email, nil)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestBeginRegistration_CaseInsensitiveAllowlist(t *testing.T) {
	h := newHarness(t)

	for _, email := range []string{"ADMIN@EXAMPLE.COM", "admin@example.com", " Admin@Example.Com "} {
		rec := httptest.NewRecorder()
		creation, err := h.c.BeginRegistration(context.Background(), rec, email, nil)
		require.NoError(t, err, email)
		assert.Equal(t, adminEmail, creation.Response.User.Name)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "challenge", cookies[0].Name)
		assert.Equal(t, creation.Response.Challenge.String(), cookies[0].Value)
	}
}

// Once an allow-listed email has a passkey, registering it again without that
// account's session is refused with ErrNotInvited (403), even though the email
// is on the allow-list.
func TestBeginRegistration_EnrolledEmailWithoutOwnerSessionIsForbidden(t *testing.T) {
	h := newHarness(t)

	first, err := h.register(t, newDevice(), adminEmail, nil)
	require.NoError(t, err)
	other, err := h.register(t, newDevice(), friendEmail, nil)
	require.NoError(t, err)

	_, err = h.c.BeginRegistration(context.Background(), httptest.NewRecorder(), adminEmail, nil)
	require.ErrorIs(t, err, ErrNotInvited)

	_, err = h.c.BeginRegistration(context.Background(), httptest.NewRecorder(), adminEmail, &other.User)
	require.ErrorIs(t, err, ErrNotInvited)

	second, err := h.register(t, newDevice(), adminEmail, &first.User)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)

	auths, err := h.users.ListAuthenticators(context.Background(), first.User.ID)
	require.NoError(t, err)
	assert.Len(t, auths, 2)
}

func TestRegister_DuplicateCredential(t *testing.T) {
	h := newHarness(t)
	d := newDevice()

	_, err := h.register(t, d, adminEmail, nil)
	require.NoError(t, err)

	_, err = h.register(t, d, friendEmail, nil)
	require.ErrorIs(t, err, ErrDuplicateCredential)

	friend, err := h.users.GetUserByEmail(context.Background(), friendEmail)
	require.NoError(t, err)
	auths, err := h.users.ListAuthenticators(context.Background(), friend.ID)
	require.NoError(t, err)
	assert.Empty(t, auths)
}

func TestFinishRegistration_ChallengeMissing(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	_, err := h.c.FinishRegistration(context.Background(), httptest.NewRecorder(), req, FinishInput{
		Email:    adminEmail,
		Response: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrChallengeMissing)
}

func TestFinishRegistration_GarbageResponse(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	_, err := h.c.BeginRegistration(context.Background(), rec, adminEmail, nil)
	require.NoError(t, err)

	_, err = h.c.FinishRegistration(context.Background(), httptest.NewRecorder(), carry(rec), FinishInput{
		Email:    adminEmail,
		Response: json.RawMessage(`{"id":"nope"}`),
	})
	require.ErrorIs(t, err, ErrVerification)

	var ve *VerifyError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "parse attestation", ve.Step)

	n, err := h.users.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFinishRegistration_WrongChallenge(t *testing.T) {
	h := newHarness(t)
	d := newDevice()

	first := httptest.NewRecorder()
	creation, err := h.c.BeginRegistration(context.Background(), first, adminEmail, nil)
	require.NoError(t, err)

	// A second options call replaces the pending challenge.
	second := httptest.NewRecorder()
	_, err = h.c.BeginRegistration(context.Background(), second, adminEmail, nil)
	require.NoError(t, err)

	optsJSON, err := json.Marshal(creation.Response)
	require.NoError(t, err)
	opts, err := virtualwebauthn.ParseAttestationOptions(string(optsJSON))
	require.NoError(t, err)
	resp := virtualwebauthn.CreateAttestationResponse(rp, d.auth, d.cred, *opts)

	_, err = h.c.FinishRegistration(context.Background(), httptest.NewRecorder(), carry(second), FinishInput{
		Email:    adminEmail,
		Response: json.RawMessage(resp),
	})
	require.ErrorIs(t, err, ErrVerification)
}

func TestFinishRegistration_ConsumesChallenge(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	_, err := h.c.BeginRegistration(context.Background(), rec, adminEmail, nil)
	require.NoError(t, err)

	req := carry(rec)
	out := httptest.NewRecorder()
	_, err = h.c.FinishRegistration(context.Background(), out, req, FinishInput{Email: adminEmail, Response: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrVerification)

	expired := out.Result().Cookies()
	require.Len(t, expired, 1)
	assert.Equal(t, "challenge", expired[0].Name)
	assert.Less(t, expired[0].MaxAge, 0)

	_, err = h.c.FinishRegistration(context.Background(), httptest.NewRecorder(), req, FinishInput{Email: adminEmail, Response: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrChallengeMissing)
}

func TestBeginLogin_UnknownUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.BeginLogin(context.Background(), httptest.NewRecorder(), "nobody@example.com", testIP)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = h.c.BeginLogin(context.Background(), httptest.NewRecorder(), "", testIP)
	require.ErrorIs(t, err, ErrEmailRequired)
}

func TestBeginLogin_ListsCredentials(t *testing.T) {
	h := newHarness(t)
	d := newDevice()

	_, err := h.register(t, d, adminEmail, nil)
	require.NoError(t, err)

	assertion, err := h.c.BeginLogin(context.Background(), httptest.NewRecorder(), "ADMIN@example.com", testIP)
	require.NoError(t, err)
	require.Len(t, assertion.Response.AllowedCredentials, 1)
	assert.Equal(t, d.cred.ID, []byte(assertion.Response.AllowedCredentials[0].CredentialID))
}

func TestFinishLogin_RejectsCounterRegression(t *testing.T) {
	h := newHarness(t)
	d := newDevice()

	reg, err := h.register(t, d, adminEmail, nil)
	require.NoError(t, err)

	d.cred.Counter = 5
	_, err = h.login(t, d, adminEmail)
	require.NoError(t, err)

	// Replayed or cloned: same counter, then a lower one.
	for _, counter := range []uint32{5, 3} {
		d.cred.Counter = counter
		_, err = h.login(t, d, adminEmail)
		require.ErrorIs(t, err, ErrCounterRegressed, "counter %d", counter)
		assert.True(t, IsVerification(err))
	}

	stored, err := h.users.GetAuthenticator(context.Background(), reg.Authenticator.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), stored.Counter)

	n, err := h.audit.CountSince(context.Background(), audit.CountQuery{
		Action:  audit.ActionLoginFailed,
		Subject: adminEmail,
		IP:      testIP,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFinishLogin_ZeroCounterAuthenticator(t *testing.T) {
	h := newHarness(t)
	d := newDevice()

	_, err := h.register(t, d, adminEmail, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = h.login(t, d, adminEmail)
		require.NoError(t, err)
	}
}

func TestFinishLogin_StoredCounterAhead(t *testing.T) {
	h := newHarness(t)
	d := newDevice()

	reg, err := h.register(t, d, adminEmail, nil)
	require.NoError(t, err)
	require.NoError(t, h.users.UpdateAuthenticatorCounter(context.Background(), reg.Authenticator.ID, 1000, time.Now()))

	d.cred.Counter = 7
	_, err = h.login(t, d, adminEmail)
	require.ErrorIs(t, err, ErrCounterRegressed)
}

func TestFinishLogin_ChallengeMissing(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	_, err := h.c.FinishLogin(context.Background(), httptest.NewRecorder(), req, FinishInput{
		Email:    adminEmail,
		Response: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrChallengeMissing)
}

// staleLogin answers a fresh challenge with an assertion signed over an
// earlier one: a registered credential with a failing check.
func (h *harness) staleLogin(t *testing.T, d *device, email, ip string) error {
	t.Helper()

	first := httptest.NewRecorder()
	assertion, err := h.c.BeginLogin(context.Background(), first, email, ip)
	if err != nil {
		return err
	}
	optsJSON, err := json.Marshal(assertion.Response)
	require.NoError(t, err)
	opts, err := virtualwebauthn.ParseAssertionOptions(string(optsJSON))
	require.NoError(t, err)
	resp := virtualwebauthn.CreateAssertionResponse(rp, d.auth, d.cred, *opts)

	second := httptest.NewRecorder()
	if _, err := h.c.BeginLogin(context.Background(), second, email, ip); err != nil {
		return err
	}
	_, err = h.c.FinishLogin(context.Background(), httptest.NewRecorder(), carry(second), FinishInput{
		Email:    email,
		Response: json.RawMessage(resp),
		Meta:     session.Meta{IP: ip},
	})
	return err
}

func TestFinishLogin_Lockout(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.LockoutThreshold = 2
		c.LockoutWindow = time.Hour
	})
	d := newDevice()

	_, err := h.register(t, d, adminEmail, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := h.staleLogin(t, d, adminEmail, attackerIP)
		require.ErrorIs(t, err, ErrVerification)
	}

	_, err = h.c.BeginLogin(context.Background(), httptest.NewRecorder(), adminEmail, attackerIP)
	require.ErrorIs(t, err, ErrLockedOut)

	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, time.Hour, locked.RetryAfter)

	// The owner signs in from another address.
	_, err = h.login(t, d, adminEmail)
	require.NoError(t, err)

	// Other accounts are unaffected.
	_, err = h.c.BeginLogin(context.Background(), httptest.NewRecorder(), friendEmail, attackerIP)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestFinishLogin_JunkResponsesDoNotLockOwner(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.LockoutThreshold = 2
		c.LockoutWindow = time.Hour
	})
	d := newDevice()

	_, err := h.register(t, d, adminEmail, nil)
	require.NoError(t, err)

	// Another browser, same address as the owner, sending garbage.
	for _, body := range []string{`{"id":"junk"}`, `{}`, `{"id":"AAAA","rawId":"AAAA","type":"public-key"}`, `{"id":"junk"}`, `{"id":"junk"}`} {
		rec := httptest.NewRecorder()
		_, err := h.c.BeginLogin(context.Background(), rec, adminEmail, testIP)
		require.NoError(t, err)
		_, err = h.c.FinishLogin(context.Background(), httptest.NewRecorder(), carry(rec), FinishInput{
			Email:    adminEmail,
			Response: json.RawMessage(body),
			Meta:     session.Meta{IP: testIP},
		})
		require.ErrorIs(t, err, ErrVerification)
	}

	d.cred.Counter = 7
	_, err = h.login(t, d, adminEmail)
	require.NoError(t, err)

	failed, err := h.audit.CountSince(context.Background(), audit.CountQuery{Action: audit.ActionLoginFailed, Subject: adminEmail, IP: testIP})
	require.NoError(t, err)
	assert.Zero(t, failed)

	rejected, err := h.audit.CountSince(context.Background(), audit.CountQuery{Action: audit.ActionLoginRejected, Subject: adminEmail, IP: testIP})
	require.NoError(t, err)
	assert.Equal(t, 5, rejected)
}

func TestUserHandle_DeterministicPerEmail(t *testing.T) {
	h := newHarness(t)

	a, err := h.c.userHandle(adminEmail)
	require.NoError(t, err)
	b, err := h.c.userHandle(adminEmail)
	require.NoError(t, err)
	c, err := h.c.userHandle(friendEmail)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, UserHandleBytes)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no rp id", func(c *Config) { c.RPID = "" }},
		{"rp id with scheme", func(c *Config) { c.RPID = "https://example.com" }},
		{"no rp name", func(c *Config) { c.RPDisplayName = "" }},
		{"no origins", func(c *Config) { c.RPOrigins = nil }},
		{"bad origin", func(c *Config) { c.RPOrigins = []string{"example.com"} }},
		{"short key", func(c *Config) { c.UserHandleKey = []byte("short") }},
		{"unknown role", func(c *Config) { c.DefaultRole = "root" }},
		{"negative threshold", func(c *Config) { c.LockoutThreshold = -1 }},
		{"zero window", func(c *Config) { c.LockoutWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}
