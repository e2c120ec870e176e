package memory

import (
	"context"
	"sync"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
)

type MemoryBanRepository struct {
	bans map[domain.UserID]domain.BanRecord
	mu   sync.RWMutex
}

func NewMemoryBanRepository() ports.BanRepository {
	return &MemoryBanRepository{
		bans: make(map[domain.UserID]domain.BanRecord),
	}
}

func (r *MemoryBanRepository) Ban(ctx context.Context, record domain.BanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans[record.UserID] = record
	return nil
}

func (r *MemoryBanRepository) Get(ctx context.Context, user domain.UserID) (*domain.BanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.bans[user]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *MemoryBanRepository) Lift(ctx context.Context, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bans, user)
	return nil
}

// List returns every stored ban, expired ones included.
func (r *MemoryBanRepository) List(ctx context.Context) ([]domain.BanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.BanRecord, 0, len(r.bans))
	for _, rec := range r.bans {
		out = append(out, rec)
	}
	return out, nil
}
