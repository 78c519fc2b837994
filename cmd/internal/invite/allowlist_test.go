package invite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowlist(t *testing.T) {
	a, err := ParseAllowlist(" Admin@Example.com , ,second@example.org")
	require.NoError(t, err)

	assert.Equal(t, 2, a.Len())
	assert.Equal(t, []string{"admin@example.com", "second@example.org"}, a.Emails())
}

func TestAllows_CaseInsensitive(t *testing.T) {
	a, err := ParseAllowlist("admin@example.com")
	require.NoError(t, err)

	for _, in := range []string{"admin@example.com", "ADMIN@EXAMPLE.COM", "  Admin@Example.Com "} {
		assert.True(t, a.Allows(in), in)
		assert.NoError(t, a.Check(in))
	}
	for _, in := range []string{"", "other@example.com", "admin@example.co"} {
		assert.False(t, a.Allows(in), in)
		assert.ErrorIs(t, a.Check(in), ErrNotInvited)
	}
}

func TestEmptyAllowsNobody(t *testing.T) {
	var zero Allowlist
	assert.False(t, zero.Allows("admin@example.com"))

	a, err := ParseAllowlist("")
	require.NoError(t, err)
	assert.Zero(t, a.Len())
	assert.False(t, a.Allows("admin@example.com"))
}

func TestParseAllowlist_Invalid(t *testing.T) {
	_, err := ParseAllowlist("admin@example.com,not an email")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}
