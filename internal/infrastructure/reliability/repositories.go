package reliability

import (
	"context"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/circuitbreaker"

	"go.uber.org/zap"
)

type none = struct{}

// GuardedQueue fails fast once the backing queue store keeps erroring.
// Enqueue and PopOldest are not idempotent and run at most once.
type GuardedQueue struct {
	inner ports.QueueRepository
	g     *guard
}

func NewGuardedQueue(inner ports.QueueRepository, cfg Config, observer BreakerObserver, logger *zap.SugaredLogger) *GuardedQueue {
	return &GuardedQueue{inner: inner, g: newGuard("queue", cfg, observer, logger)}
}

func (q *GuardedQueue) Enqueue(ctx context.Context, entry domain.QueueEntry) (int, error) {
	return once(ctx, q.g, func(ctx context.Context) (int, error) {
		return q.inner.Enqueue(ctx, entry)
	})
}

func (q *GuardedQueue) PopOldest(ctx context.Context, exclude domain.UserID) (*domain.QueueEntry, error) {
	return once(ctx, q.g, func(ctx context.Context) (*domain.QueueEntry, error) {
		return q.inner.PopOldest(ctx, exclude)
	})
}

func (q *GuardedQueue) Remove(ctx context.Context, user domain.UserID) error {
	_, err := retried(ctx, q.g, func(ctx context.Context) (none, error) {
		return none{}, q.inner.Remove(ctx, user)
	})
	return err
}

func (q *GuardedQueue) Len(ctx context.Context) (int, error) {
	return retried(ctx, q.g, q.inner.Len)
}

func (q *GuardedQueue) Stats() circuitbreaker.Stats { return q.g.stats() }

// GuardedBans wraps a ban store. Every ban operation is idempotent.
type GuardedBans struct {
	inner ports.BanRepository
	g     *guard
}

func NewGuardedBans(inner ports.BanRepository, cfg Config, observer BreakerObserver, logger *zap.SugaredLogger) *GuardedBans {
	return &GuardedBans{inner: inner, g: newGuard("bans", cfg, observer, logger)}
}

func (b *GuardedBans) Ban(ctx context.Context, record domain.BanRecord) error {
	_, err := retried(ctx, b.g, func(ctx context.Context) (none, error) {
		return none{}, b.inner.Ban(ctx, record)
	})
	return err
}

func (b *GuardedBans) Get(ctx context.Context, user domain.UserID) (*domain.BanRecord, error) {
	return retried(ctx, b.g, func(ctx context.Context) (*domain.BanRecord, error) {
		return b.inner.Get(ctx, user)
	})
}

func (b *GuardedBans) Lift(ctx context.Context, user domain.UserID) error {
	_, err := retried(ctx, b.g, func(ctx context.Context) (none, error) {
		return none{}, b.inner.Lift(ctx, user)
	})
	return err
}

func (b *GuardedBans) Stats() circuitbreaker.Stats { return b.g.stats() }

// GuardedRooms wraps a room store. Create runs once, the rest may retry.
type GuardedRooms struct {
	inner ports.RoomRepository
	g     *guard
}

func NewGuardedRooms(inner ports.RoomRepository, cfg Config, observer BreakerObserver, logger *zap.SugaredLogger) *GuardedRooms {
	return &GuardedRooms{inner: inner, g: newGuard("rooms", cfg, observer, logger)}
}

func (r *GuardedRooms) Create(ctx context.Context, room *domain.Room) error {
	_, err := once(ctx, r.g, func(ctx context.Context) (none, error) {
		return none{}, r.inner.Create(ctx, room)
	})
	return err
}

func (r *GuardedRooms) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return retried(ctx, r.g, func(ctx context.Context) (*domain.Room, error) {
		return r.inner.Get(ctx, id)
	})
}

func (r *GuardedRooms) FindByUser(ctx context.Context, user domain.UserID) (*domain.Room, error) {
	return retried(ctx, r.g, func(ctx context.Context) (*domain.Room, error) {
		return r.inner.FindByUser(ctx, user)
	})
}

func (r *GuardedRooms) Delete(ctx context.Context, id domain.RoomID) error {
	_, err := retried(ctx, r.g, func(ctx context.Context) (none, error) {
		return none{}, r.inner.Delete(ctx, id)
	})
	return err
}

func (r *GuardedRooms) Count(ctx context.Context) (int, error) {
	return retried(ctx, r.g, r.inner.Count)
}

func (r *GuardedRooms) Stats() circuitbreaker.Stats { return r.g.stats() }

// GuardedReports wraps a report store. Add pushes onto lists and runs once.
type GuardedReports struct {
	inner ports.ReportRepository
	g     *guard
}

func NewGuardedReports(inner ports.ReportRepository, cfg Config, observer BreakerObserver, logger *zap.SugaredLogger) *GuardedReports {
	return &GuardedReports{inner: inner, g: newGuard("reports", cfg, observer, logger)}
}

func (r *GuardedReports) Add(ctx context.Context, report domain.Report) error {
	_, err := once(ctx, r.g, func(ctx context.Context) (none, error) {
		return none{}, r.inner.Add(ctx, report)
	})
	return err
}

func (r *GuardedReports) List(ctx context.Context, user domain.UserID, limit int) ([]domain.Report, error) {
	return retried(ctx, r.g, func(ctx context.Context) ([]domain.Report, error) {
		return r.inner.List(ctx, user, limit)
	})
}

func (r *GuardedReports) Stats() circuitbreaker.Stats { return r.g.stats() }

var (
	_ ports.QueueRepository  = (*GuardedQueue)(nil)
	_ ports.BanRepository    = (*GuardedBans)(nil)
	_ ports.RoomRepository   = (*GuardedRooms)(nil)
	_ ports.ReportRepository = (*GuardedReports)(nil)
)
