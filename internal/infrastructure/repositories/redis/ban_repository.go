package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const banPrefix = keyPrefix + "ban:"

// RedisBanRepository stores one key per banned user. Temporary bans expire
// with the key.
type RedisBanRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisBanRepository(client *redis.Client) ports.BanRepository {
	return &RedisBanRepository{client: client, now: time.Now}
}

func (r *RedisBanRepository) banKey(user domain.UserID) string {
	return banPrefix + string(user)
}

func (r *RedisBanRepository) Ban(ctx context.Context, record domain.BanRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ban: %w", err)
	}

	var ttl time.Duration
	if !record.ExpiresAt.IsZero() {
		ttl = record.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return nil
		}
	}

	if err := r.client.Set(ctx, r.banKey(record.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ban in Redis: %w", err)
	}
	return nil
}

func (r *RedisBanRepository) Get(ctx context.Context, user domain.UserID) (*domain.BanRecord, error) {
	data, err := r.client.Get(ctx, r.banKey(user)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ban from Redis: %w", err)
	}

	var rec domain.BanRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ban: %w", err)
	}
	return &rec, nil
}

func (r *RedisBanRepository) Lift(ctx context.Context, user domain.UserID) error {
	if err := r.client.Del(ctx, r.banKey(user)).Err(); err != nil {
		return fmt.Errorf("failed to delete ban from Redis: %w", err)
	}
	return nil
}
