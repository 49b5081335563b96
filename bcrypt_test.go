package auth_test

import (
	"testing"

	auth "github.com/resmoai/resmo-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse-battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct-horse-battery", hash)

	assert.NoError(t, auth.ComparePasswordAndHash("correct-horse-battery", hash))

	other, err := auth.HashPassword("correct-horse-battery")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "hashes are salted")
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := auth.HashPassword("")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)
}

func TestComparePasswordAndHashFailures(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse-battery")
	require.NoError(t, err)

	err = auth.ComparePasswordAndHash("Correct-horse-battery", hash)
	assert.True(t, auth.IsInvalidCredentials(err))

	err = auth.ComparePasswordAndHash("correct-horse-battery", "not-a-bcrypt-hash")
	require.Error(t, err)
	assert.False(t, auth.IsInvalidCredentials(err))
}

func TestSetPasswordHashCost(t *testing.T) {
	previous := auth.SetPasswordHashCost(5)
	defer auth.SetPasswordHashCost(previous)

	assert.Equal(t, 5, auth.SetPasswordHashCost(100))
	assert.Equal(t, 5, auth.SetPasswordHashCost(6))

	hash, err := auth.HashPassword("another-password")
	require.NoError(t, err)
	assert.Contains(t, hash, "$06$")
}
