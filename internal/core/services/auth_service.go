package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"fluxx/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

type AuthService interface {
	IssueGuest(displayName string) (*domain.User, string, error)
	GenerateToken(user *domain.User) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	GetUserFromContext(ctx context.Context) (domain.UserID, error)
}

type Claims struct {
	UserID      domain.UserID `json:"user_id"`
	DisplayName string        `json:"display_name"`
	Admin       bool          `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) User() *domain.User {
	return &domain.User{ID: c.UserID, DisplayName: c.DisplayName, IsAdmin: c.Admin}
}

type userCtxKey struct{}

// WithUser stores the authenticated user id in ctx.
func WithUser(ctx context.Context, id domain.UserID) context.Context {
	return context.WithValue(ctx, userCtxKey{}, id)
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	now            func() time.Time
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		now:            time.Now,
	}
}

// GuestName returns a display name of the form Fluxx_NNNN.
func GuestName() string {
	return fmt.Sprintf("Fluxx_%04d", rand.Intn(10000))
}

func (s *authService) IssueGuest(displayName string) (*domain.User, string, error) {
	if displayName == "" {
		displayName = GuestName()
	}
	user := &domain.User{
		ID:          domain.UserID(uuid.New().String()),
		DisplayName: displayName,
		CreatedAt:   s.now(),
	}
	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *authService) GenerateToken(user *domain.User) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Admin:       user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) GetUserFromContext(ctx context.Context) (domain.UserID, error) {
	userID, ok := ctx.Value(userCtxKey{}).(domain.UserID)
	if !ok || userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}
