package repositories

import (
	"context"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/cache"
)

// CachedBanRepository answers ban lookups from memory for a short TTL.
// Every join checks for a ban, and almost every answer is "none". Writes
// through this instance invalidate immediately; writes made by other
// instances are seen once the entry expires.
type CachedBanRepository struct {
	inner ports.BanRepository
	cache *cache.Cache[domain.UserID, *domain.BanRecord]
}

func NewCachedBanRepository(inner ports.BanRepository, ttl time.Duration) *CachedBanRepository {
	return &CachedBanRepository{
		inner: inner,
		cache: cache.New[domain.UserID, *domain.BanRecord](ttl),
	}
}

func (r *CachedBanRepository) Ban(ctx context.Context, record domain.BanRecord) error {
	err := r.inner.Ban(ctx, record)
	r.cache.Delete(record.UserID)
	return err
}

func (r *CachedBanRepository) Get(ctx context.Context, user domain.UserID) (*domain.BanRecord, error) {
	rec, err := r.cache.GetOrLoad(ctx, user, func(ctx context.Context) (*domain.BanRecord, error) {
		return r.inner.Get(ctx, user)
	})
	if err != nil || rec == nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

func (r *CachedBanRepository) Lift(ctx context.Context, user domain.UserID) error {
	err := r.inner.Lift(ctx, user)
	r.cache.Delete(user)
	return err
}

func (r *CachedBanRepository) Close() {
	r.cache.Stop()
}

var _ ports.BanRepository = (*CachedBanRepository)(nil)
