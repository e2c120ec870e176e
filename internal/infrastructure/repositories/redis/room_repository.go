package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	roomPrefix     = keyPrefix + "room:"
	userRoomPrefix = keyPrefix + "user_room:"
)

type RedisRoomRepository struct {
	client *redis.Client
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{client: client}
}

func (r *RedisRoomRepository) roomKey(id domain.RoomID) string {
	return roomPrefix + string(id)
}

func (r *RedisRoomRepository) userKey(user domain.UserID) string {
	return userRoomPrefix + string(user)
}

func (r *RedisRoomRepository) activeRoomsKey() string {
	return roomPrefix + "active"
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.roomKey(room.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set room in Redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("room already exists: %s", room.ID)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.userKey(room.Initiator), string(room.ID), 0)
		pipe.Set(ctx, r.userKey(room.Responder), string(room.ID), 0)
		pipe.SAdd(ctx, r.activeRoomsKey(), string(room.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index room: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RedisRoomRepository) FindByUser(ctx context.Context, user domain.UserID) (*domain.Room, error) {
	id, err := r.client.Get(ctx, r.userKey(user)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user room from Redis: %w", err)
	}
	return r.Get(ctx, domain.RoomID(id))
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	room, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.roomKey(id))
		pipe.SRem(ctx, r.activeRoomsKey(), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}

	// A member may already have moved on to another room.
	for _, u := range []domain.UserID{room.Initiator, room.Responder} {
		current, err := r.client.Get(ctx, r.userKey(u)).Result()
		if err == nil && current == string(id) {
			r.client.Del(ctx, r.userKey(u))
		}
	}
	return nil
}

func (r *RedisRoomRepository) Count(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.activeRoomsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count rooms: %w", err)
	}
	return int(n), nil
}
