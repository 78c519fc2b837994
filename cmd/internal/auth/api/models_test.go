package authapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/cmd/identity"
)

func TestEmailRequest_Validate(t *testing.T) {
	req := emailRequest{Email: "  Admin@Example.COM "}
	require.NoError(t, req.Validate())
	assert.Equal(t, "admin@example.com", req.Email)

	req = emailRequest{Email: "   "}
	assert.ErrorIs(t, req.Validate(), errEmailRequired)
}

func TestVerifyRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  verifyRequest
		want error
	}{
		{"ok", verifyRequest{Email: "a@example.com", Response: json.RawMessage(`{}`)}, nil},
		{"no email", verifyRequest{Response: json.RawMessage(`{}`)}, errEmailRequired},
		{"no response", verifyRequest{Email: "a@example.com"}, errResponseRequired},
		{"null response", verifyRequest{Email: "a@example.com", Response: json.RawMessage(`null`)}, errResponseRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestToPasskeyResponse_EncodesCredentialID(t *testing.T) {
	out := toPasskeyResponse(identityAuthenticator([]byte{0xfb, 0xff}))
	assert.Equal(t, "-_8", out.CredentialID)
	assert.NotNil(t, out.Transports)
}

func identityAuthenticator(credID []byte) identity.Authenticator {
	return identity.Authenticator{ID: "a1", UserID: "u1", CredentialID: credID}
}
