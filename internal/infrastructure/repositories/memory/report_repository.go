package memory

import (
	"context"
	"sync"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
)

// MemoryReportRepository keeps the most recent reports in insertion order.
type MemoryReportRepository struct {
	reports []domain.Report
	max     int
	mu      sync.RWMutex
}

func NewMemoryReportRepository(max int) ports.ReportRepository {
	return &MemoryReportRepository{max: max}
}

func (r *MemoryReportRepository) Add(ctx context.Context, report domain.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, report)
	if r.max > 0 && len(r.reports) > r.max {
		r.reports = append([]domain.Report(nil), r.reports[len(r.reports)-r.max:]...)
	}
	return nil
}

func (r *MemoryReportRepository) List(ctx context.Context, user domain.UserID, limit int) ([]domain.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Report, 0)
	for i := len(r.reports) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if user != "" && r.reports[i].ReportedID != user {
			continue
		}
		out = append(out, r.reports[i])
	}
	return out, nil
}
