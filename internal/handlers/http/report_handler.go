package http

import (
	"context"
	stderrors "errors"
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

const defaultReportListLimit = 50

// ReportService files and lists partner reports.
type ReportService interface {
	ReportPartner(ctx context.Context, reporter, target domain.UserID, reason domain.ReportReason, details string) (*domain.Report, error)
	Reports(ctx context.Context, user domain.UserID, limit int) ([]domain.Report, error)
}

type ReportHandler struct {
	authService services.AuthService
	reports     ReportService
	logger      *zap.SugaredLogger
}

func NewReportHandler(authService services.AuthService, reports ReportService, logger *zap.SugaredLogger) *ReportHandler {
	return &ReportHandler{
		authService: authService,
		reports:     reports,
		logger:      logger,
	}
}

func (h *ReportHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/reports")
	api.Use(middleware.AuthMiddleware(h.authService))
	{
		api.POST("", h.CreateReport)
	}

	admin := router.Group("/api/v1/admin/reports")
	admin.Use(middleware.AuthMiddleware(h.authService), middleware.AdminMiddleware())
	{
		admin.GET("", h.ListReports)
	}
}

type ReportRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Details string `json:"details"`
	// UserID optionally names the partner; it must match the current one.
	UserID string `json:"user_id"`
}

type ReportResponse struct {
	Success bool      `json:"success"`
	ID      string    `json:"id"`
	RoomID  string    `json:"room_id"`
	Created time.Time `json:"created_at"`
}

type ReportListResponse struct {
	Reports []domain.Report `json:"reports"`
}

// CreateReport files a report against the caller's current partner.
func (h *ReportHandler) CreateReport(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	reason := domain.ReportReason(strings.TrimSpace(req.Reason))
	if !reason.Valid() {
		c.Error(errors.NewInvalidInputError("unknown report reason").WithContext("reason", req.Reason))
		return
	}
	details := strings.TrimSpace(req.Details)
	if err := validation.ValidateReportDetails(details); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	target := strings.TrimSpace(req.UserID)
	if target != "" {
		if err := validation.ValidateUserID(target); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	reporter, err := h.authService.GetUserFromContext(c.Request.Context())
	if err != nil {
		c.Error(errors.NewUnauthorizedError("authorization required"))
		return
	}

	report, err := h.reports.ReportPartner(c.Request.Context(), reporter, domain.UserID(target), reason, details)
	switch {
	case stderrors.Is(err, domain.ErrNotInRoom):
		c.Error(errors.NewAppError(errors.ErrCodeConflict, "no partner to report", http.StatusConflict))
		return
	case stderrors.Is(err, domain.ErrNotPartner):
		c.Error(errors.NewForbiddenError("user is not your current partner"))
		return
	case err != nil:
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "failed to store report", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusCreated, ReportResponse{
		Success: true,
		ID:      report.ID,
		RoomID:  string(report.RoomID),
		Created: report.CreatedAt,
	})
}

// ListReports returns the newest reports, optionally filtered by the
// reported user.
func (h *ReportHandler) ListReports(c *gin.Context) {
	user := c.Query("user_id")
	if user != "" {
		if err := validation.ValidateUserID(user); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}
	limit, err := validation.ParseListLimit(c.Query("limit"), defaultReportListLimit)
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()).WithContext("limit", c.Query("limit")))
		return
	}

	reports, err := h.reports.Reports(c.Request.Context(), domain.UserID(user), limit)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "failed to read reports", http.StatusServiceUnavailable))
		return
	}
	c.JSON(http.StatusOK, ReportListResponse{Reports: reports})
}
