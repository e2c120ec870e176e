package memory

import (
	"context"
	"sync"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
)

type MemoryQueueRepository struct {
	entries []domain.QueueEntry
	mu      sync.Mutex
}

func NewMemoryQueueRepository() ports.QueueRepository {
	return &MemoryQueueRepository{}
}

func (r *MemoryQueueRepository) Enqueue(ctx context.Context, entry domain.QueueEntry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.UserID == entry.UserID {
			return i + 1, domain.ErrAlreadyQueued
		}
	}
	r.entries = append(r.entries, entry)
	return len(r.entries), nil
}

func (r *MemoryQueueRepository) PopOldest(ctx context.Context, exclude domain.UserID) (*domain.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.UserID == exclude {
			continue
		}
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		return &e, nil
	}
	return nil, nil
}

func (r *MemoryQueueRepository) Remove(ctx context.Context, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.UserID == user {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *MemoryQueueRepository) Len(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), nil
}
