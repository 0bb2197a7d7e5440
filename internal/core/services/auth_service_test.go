package services_test

import (
	"testing"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour)

	token, err := auth.GenerateToken("alice", "Alice")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), claims.UserID)
	assert.Equal(t, "Alice", claims.Username)
}

func TestValidateRejectsForeignAndExpiredTokens(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour)
	other := services.NewAuthService("other-secret", time.Hour)

	token, err := other.GenerateToken("alice", "Alice")
	require.NoError(t, err)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	expired := services.NewAuthService("test-secret", -time.Minute)
	token, err = expired.GenerateToken("alice", "Alice")
	require.NoError(t, err)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, services.ErrExpiredToken)

	_, err = auth.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}
