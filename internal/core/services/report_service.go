package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportMetrics is implemented by the server's prometheus collector.
type ReportMetrics interface {
	UserReported(reason domain.ReportReason)
}

type noopReportMetrics struct{}

func (noopReportMetrics) UserReported(domain.ReportReason) {}

// ReportService records complaints against the partner a user is currently
// matched with. A report names the room it was made from so moderators can
// correlate it with signaling logs.
type ReportService struct {
	rooms   ports.RoomRepository
	reports ports.ReportRepository
	metrics ReportMetrics
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewReportService(rooms ports.RoomRepository, reports ports.ReportRepository, metrics ReportMetrics, logger *zap.SugaredLogger) *ReportService {
	if metrics == nil {
		metrics = noopReportMetrics{}
	}
	return &ReportService{
		rooms:   rooms,
		reports: reports,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ReportPartner files a report by reporter against their current partner.
// If target is set it must name that partner. Users outside a room get
// domain.ErrNotInRoom.
func (s *ReportService) ReportPartner(ctx context.Context, reporter, target domain.UserID, reason domain.ReportReason, details string) (*domain.Report, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("invalid report reason %q", reason)
	}

	room, err := s.rooms.FindByUser(ctx, reporter)
	if errors.Is(err, domain.ErrRoomNotFound) || (err == nil && room == nil) {
		return nil, domain.ErrNotInRoom
	}
	if err != nil {
		return nil, err
	}
	partner, ok := room.Partner(reporter)
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	if target != "" && target != partner {
		return nil, domain.ErrNotPartner
	}

	report := domain.Report{
		ID:         uuid.New().String(),
		ReporterID: reporter,
		ReportedID: partner,
		RoomID:     room.ID,
		Reason:     reason,
		Details:    details,
		CreatedAt:  s.now(),
	}
	if err := s.reports.Add(ctx, report); err != nil {
		return nil, err
	}

	s.metrics.UserReported(reason)
	s.logger.Infow("User reported",
		"report_id", report.ID,
		"reporter_id", reporter,
		"reported_id", partner,
		"room_id", room.ID,
		"reason", reason,
	)
	return &report, nil
}

// Reports lists the newest reports against user, or against anyone when
// user is empty.
func (s *ReportService) Reports(ctx context.Context, user domain.UserID, limit int) ([]domain.Report, error) {
	return s.reports.List(ctx, user, limit)
}
