package memory

import (
	"context"
	"fmt"
	"sync"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
)

type MemoryRoomRepository struct {
	rooms  map[domain.RoomID]*domain.Room
	byUser map[domain.UserID]domain.RoomID
	mu     sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms:  make(map[domain.RoomID]*domain.Room),
		byUser: make(map[domain.UserID]domain.RoomID),
	}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.ID]; exists {
		return fmt.Errorf("room already exists: %s", room.ID)
	}

	r.rooms[room.ID] = room
	r.byUser[room.Initiator] = room.ID
	r.byUser[room.Responder] = room.ID
	return nil
}

func (r *MemoryRoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (r *MemoryRoomRepository) FindByUser(ctx context.Context, user domain.UserID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUser[user]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return r.rooms[id], nil
}

func (r *MemoryRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return domain.ErrRoomNotFound
	}
	delete(r.rooms, id)
	for _, u := range []domain.UserID{room.Initiator, room.Responder} {
		if r.byUser[u] == id {
			delete(r.byUser, u)
		}
	}
	return nil
}

func (r *MemoryRoomRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), nil
}
