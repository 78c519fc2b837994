package passkey

import (
	"crypto/rand"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"passgate/cmd/identity"
	"passgate/cmd/security/secret"
)

// waUser adapts an account and its stored credentials to webauthn.User.
type waUser struct {
	handle      []byte
	name        string
	displayName string
	creds       []webauthn.Credential
}

var _ webauthn.User = (*waUser)(nil)

func newWAUser(handle []byte, email, displayName string, auths []identity.Authenticator) *waUser {
	if displayName == "" {
		displayName = identity.DefaultDisplayName(email)
	}
	creds := make([]webauthn.Credential, 0, len(auths))
	for _, a := range auths {
		creds = append(creds, toCredential(a))
	}
	return &waUser{handle: handle, name: email, displayName: displayName, creds: creds}
}

func (u *waUser) WebAuthnID() []byte                         { return u.handle }
func (u *waUser) WebAuthnName() string                       { return u.name }
func (u *waUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (u *waUser) descriptors() []protocol.CredentialDescriptor {
	return webauthn.Credentials(u.creds).CredentialDescriptors()
}

func (u *waUser) credentialIDs() [][]byte {
	out := make([][]byte, len(u.creds))
	for i, c := range u.creds {
		out[i] = c.ID
	}
	return out
}

func toCredential(a identity.Authenticator) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, len(a.Transports))
	for i, t := range a.Transports {
		transports[i] = protocol.AuthenticatorTransport(t)
	}
	return webauthn.Credential{
		ID:              a.CredentialID,
		PublicKey:       a.PublicKey,
		AttestationType: a.AttestationType,
		Transport:       transports,
		Flags:           webauthn.NewCredentialFlags(protocol.AuthenticatorFlags(a.Flags)),
		Authenticator: webauthn.Authenticator{
			AAGUID:    a.AAGUID,
			SignCount: a.Counter,
		},
	}
}

func transportStrings(ts []protocol.AuthenticatorTransport) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

// userHandle derives the stable handle for a new account from its normalized email.
func (c *Controller) userHandle(email string) ([]byte, error) {
	return UserHandle(c.handleKey, c.cfg.RPID, email)
}

// UserHandle derives the WebAuthn user handle of email under key. Without a
// key the handle is random. Handles are fixed once an account exists.
func UserHandle(key []byte, rpID, email string) ([]byte, error) {
	if len(key) == 0 {
		h := make([]byte, UserHandleBytes)
		if _, err := rand.Read(h); err != nil {
			return nil, err
		}
		return h, nil
	}
	return secret.DeriveKey(key, []byte(rpID), []byte(email), UserHandleBytes)
}
