package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminToken_RoundTrip(t *testing.T) {
	token, exp, err := GenerateAdminToken("ops", "secret", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
	assert.Equal(t, "ops", claims.Subject)
}

func TestValidateToken_Rejects(t *testing.T) {
	token, _, err := GenerateAdminToken("ops", "secret", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, "wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _, err := GenerateAdminToken("ops", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired, "secret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = GenerateAdminToken("ops", "", time.Hour)
	assert.Error(t, err)
}
