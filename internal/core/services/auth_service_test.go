package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"fluxx/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_GuestRoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	user, token, err := auth.IssueGuest("")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^Fluxx_\d{4}$`), user.DisplayName)
	assert.NotEmpty(t, user.ID)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.DisplayName, claims.DisplayName)
	assert.False(t, claims.Admin)
}

func TestAuthService_AdminClaim(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	token, err := auth.GenerateToken(&domain.User{ID: "ops", DisplayName: "ops", IsAdmin: true})
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.User().IsAdmin)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)
	other := NewAuthService("other-secret", time.Hour)

	token, err := other.GenerateToken(&domain.User{ID: "u1"})
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_Expired(t *testing.T) {
	svc := NewAuthService("secret", time.Minute).(*authService)
	token, err := svc.GenerateToken(&domain.User{ID: "u1"})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestGetUserFromContext(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	_, err := auth.GetUserFromContext(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	id, err := auth.GetUserFromContext(WithUser(context.Background(), "u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u1"), id)
}
