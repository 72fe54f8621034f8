package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop-backend/internal/model"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.GenerateAccessToken("u1", "sb1", "Ann", model.RoleGM)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "sb1", claims.SandboxID)
	assert.Equal(t, "Ann", claims.Name)
	assert.Equal(t, model.RoleGM, claims.Role)
	assert.Equal(t, "u1", claims.Subject)
}

func TestValidateAccessTokenErrors(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	t.Run("garbage token", func(t *testing.T) {
		_, err := m.ValidateAccessToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTManager("other-secret", time.Hour)
		token, err := other.GenerateAccessToken("u1", "sb1", "Ann", model.RolePlayer)
		require.NoError(t, err)

		_, err = m.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		short := NewJWTManager("test-secret", -time.Minute)
		token, err := short.GenerateAccessToken("u1", "sb1", "Ann", model.RolePlayer)
		require.NoError(t, err)

		_, err = short.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)

	assert.True(t, CheckPassword(hash, "secret123"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
