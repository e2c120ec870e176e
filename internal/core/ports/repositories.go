package ports

import (
	"context"

	"fluxx/internal/core/domain"
)

// QueueRepository is the FIFO of users waiting for a partner.
type QueueRepository interface {
	// Enqueue appends entry and returns its 1-based position. A user who is
	// already queued gets domain.ErrAlreadyQueued.
	Enqueue(ctx context.Context, entry domain.QueueEntry) (int, error)
	// PopOldest removes and returns the oldest entry that is not exclude, or
	// nil when nobody else is waiting.
	PopOldest(ctx context.Context, exclude domain.UserID) (*domain.QueueEntry, error)
	Remove(ctx context.Context, user domain.UserID) error
	Len(ctx context.Context) (int, error)
}

// BanRepository returns a nil record for users that were never banned.
type BanRepository interface {
	Ban(ctx context.Context, record domain.BanRecord) error
	Get(ctx context.Context, user domain.UserID) (*domain.BanRecord, error)
	Lift(ctx context.Context, user domain.UserID) error
}

// ReportRepository keeps partner reports for moderators, newest first.
type ReportRepository interface {
	Add(ctx context.Context, report domain.Report) error
	// List returns at most limit reports against user, or against anyone
	// when user is empty.
	List(ctx context.Context, user domain.UserID, limit int) ([]domain.Report, error)
}

// RoomRepository tracks live rooms and each user's membership.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	FindByUser(ctx context.Context, user domain.UserID) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
	Count(ctx context.Context) (int, error)
}

// Locker serializes queue and room changes. Lock returns the release func.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}
