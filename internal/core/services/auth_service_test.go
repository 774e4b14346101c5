package services

import (
	"context"
	"testing"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthServiceTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)

	token, err := svc.GenerateToken(domain.UserID("alice"))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), claims.UserID)
}

func TestAuthServiceRejectsExpiredToken(t *testing.T) {
	svc := NewAuthService("test-secret", -time.Minute)

	token, err := svc.GenerateToken(domain.UserID("alice"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthServiceRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", time.Hour)
	verifier := NewAuthService("secret-b", time.Hour)

	token, err := issuer.GenerateToken(domain.UserID("alice"))
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthServiceRejectsGarbageToken(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)

	_, err := svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGetUserFromContext(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)

	ctx := context.WithValue(context.Background(), logger.UserIDKey, "bob")
	user, err := svc.GetUserFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("bob"), user)

	_, err = svc.GetUserFromContext(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
