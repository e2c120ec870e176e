package http

import (
	"net/http"
	"strings"
	"time"

	"fluxx/internal/core/services"
	"fluxx/pkg/errors"
	"fluxx/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/guest", h.Guest)
	}
}

type GuestRequest struct {
	DisplayName string `json:"display_name" binding:"max=128"`
}

type GuestResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Token       string `json:"token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Guest issues an anonymous identity. The body is optional; without a
// display name the server picks one.
func (h *AuthHandler) Guest(c *gin.Context) {
	var req GuestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validation.ValidateDisplayName(req.DisplayName); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	user, token, err := h.authService.IssueGuest(req.DisplayName)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, GuestResponse{
		UserID:      string(user.ID),
		DisplayName: user.DisplayName,
		Token:       token,
		ExpiresIn:   int(h.tokenTTL / time.Second),
	})
}
