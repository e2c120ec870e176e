package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/services"
	"fluxx/internal/infrastructure/middleware"
	"fluxx/pkg/errors"
	"fluxx/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BanService is the moderation surface of the matchmaker.
type BanService interface {
	Ban(ctx context.Context, record domain.BanRecord) error
	LiftBan(ctx context.Context, user domain.UserID) error
	CheckBan(ctx context.Context, user domain.UserID) (*domain.BanRecord, error)
}

// Kicker drops a user's signaling connection.
type Kicker interface {
	Kick(user domain.UserID) bool
}

type AdminHandler struct {
	authService services.AuthService
	bans        BanService
	kicker      Kicker
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewAdminHandler(authService services.AuthService, bans BanService, kicker Kicker, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{
		authService: authService,
		bans:        bans,
		kicker:      kicker,
		logger:      logger,
		now:         time.Now,
	}
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.AuthMiddleware(h.authService), middleware.AdminMiddleware())
	{
		admin.POST("/bans", h.CreateBan)
		admin.GET("/bans/:user_id", h.GetBan)
		admin.DELETE("/bans/:user_id", h.LiftBan)
	}
}

type BanRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason" binding:"required"`
	// Duration is a Go duration string; empty bans permanently.
	Duration string `json:"duration"`
}

type BanResponse struct {
	UserID    string     `json:"user_id"`
	Reason    string     `json:"reason"`
	Permanent bool       `json:"permanent"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Kicked    bool       `json:"kicked,omitempty"`
}

func (h *AdminHandler) adminID(c *gin.Context) domain.UserID {
	id, _ := h.authService.GetUserFromContext(c.Request.Context())
	return id
}

func banResponse(rec *domain.BanRecord) BanResponse {
	resp := BanResponse{
		UserID:    string(rec.UserID),
		Reason:    rec.Reason,
		Permanent: rec.ExpiresAt.IsZero(),
		CreatedAt: rec.CreatedAt,
	}
	if !rec.ExpiresAt.IsZero() {
		exp := rec.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

func (h *AdminHandler) CreateBan(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateBanReason(req.Reason); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	duration, err := validation.ParseBanDuration(req.Duration)
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()).WithContext("duration", req.Duration))
		return
	}

	now := h.now()
	record := domain.BanRecord{
		UserID:    domain.UserID(req.UserID),
		Reason:    req.Reason,
		CreatedAt: now,
	}
	if duration > 0 {
		record.ExpiresAt = now.Add(duration)
	}

	if err := h.bans.Ban(c.Request.Context(), record); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "failed to store ban", http.StatusServiceUnavailable))
		return
	}
	kicked := h.kicker.Kick(record.UserID)

	h.logger.Infow("Ban issued",
		"user_id", record.UserID,
		"admin_id", h.adminID(c),
		"duration", duration,
		"kicked", kicked,
	)

	resp := banResponse(&record)
	resp.Kicked = kicked
	c.JSON(http.StatusCreated, resp)
}

func (h *AdminHandler) GetBan(c *gin.Context) {
	id := c.Param("user_id")
	if err := validation.ValidateUserID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	rec, err := h.bans.CheckBan(c.Request.Context(), domain.UserID(id))
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "failed to read ban", http.StatusServiceUnavailable))
		return
	}
	if rec == nil {
		c.Error(errors.NewNotFoundError("ban"))
		return
	}
	c.JSON(http.StatusOK, banResponse(rec))
}

func (h *AdminHandler) LiftBan(c *gin.Context) {
	id := c.Param("user_id")
	if err := validation.ValidateUserID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.bans.LiftBan(c.Request.Context(), domain.UserID(id)); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "failed to lift ban", http.StatusServiceUnavailable))
		return
	}
	h.logger.Infow("Ban lifted", "user_id", id, "admin_id", h.adminID(c))
	c.Status(http.StatusNoContent)
}
