package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKey_RoundTrip(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key.Token, "sk_"))

	selector, verifier, err := ParseAPIKey(key.Token)
	require.NoError(t, err)
	assert.Equal(t, key.Selector, selector)
	assert.True(t, VerifyAPIKey(verifier, key.VerifierHash))
	assert.False(t, VerifyAPIKey(verifier+"0", key.VerifierHash))
}

func TestParseAPIKey_Malformed(t *testing.T) {
	for _, token := range []string{"", "sk_", "abc", ":abc", "abc:"} {
		_, _, err := ParseAPIKey(token)
		assert.ErrorIs(t, err, ErrMalformedKey, token)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	sealed, err := Encrypt("whsec_123", "master-key")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "whsec_123")

	plain, err := Decrypt(sealed, "master-key")
	require.NoError(t, err)
	assert.Equal(t, "whsec_123", plain)

	_, err = Decrypt(sealed, "other-key")
	assert.Error(t, err)
}
