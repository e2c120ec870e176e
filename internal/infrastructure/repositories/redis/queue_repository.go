package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const queuePrefix = keyPrefix + "queue:"

// RedisQueueRepository keeps waiting users in a sorted set scored by join
// time and their entries in a hash.
type RedisQueueRepository struct {
	client *redis.Client
}

func NewRedisQueueRepository(client *redis.Client) ports.QueueRepository {
	return &RedisQueueRepository{client: client}
}

func (r *RedisQueueRepository) orderKey() string   { return queuePrefix + "order" }
func (r *RedisQueueRepository) entriesKey() string { return queuePrefix + "entries" }

func (r *RedisQueueRepository) Enqueue(ctx context.Context, entry domain.QueueEntry) (int, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	added, err := r.client.ZAddNX(ctx, r.orderKey(), redis.Z{
		Score:  float64(entry.JoinedAt.UnixNano()),
		Member: string(entry.UserID),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add to queue: %w", err)
	}

	if added > 0 {
		if err := r.client.HSet(ctx, r.entriesKey(), string(entry.UserID), data).Err(); err != nil {
			return 0, fmt.Errorf("failed to store queue entry: %w", err)
		}
	}

	rank, err := r.client.ZRank(ctx, r.orderKey(), string(entry.UserID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue position: %w", err)
	}
	if added == 0 {
		return int(rank) + 1, domain.ErrAlreadyQueued
	}
	return int(rank) + 1, nil
}

func (r *RedisQueueRepository) PopOldest(ctx context.Context, exclude domain.UserID) (*domain.QueueEntry, error) {
	for {
		ids, err := r.client.ZRange(ctx, r.orderKey(), 0, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read queue: %w", err)
		}

		var candidate string
		for _, id := range ids {
			if id != string(exclude) {
				candidate = id
				break
			}
		}
		if candidate == "" {
			return nil, nil
		}

		removed, err := r.client.ZRem(ctx, r.orderKey(), candidate).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to pop queue: %w", err)
		}
		if removed == 0 {
			// Another server popped it first.
			continue
		}

		data, err := r.client.HGet(ctx, r.entriesKey(), candidate).Result()
		r.client.HDel(ctx, r.entriesKey(), candidate)
		if err == redis.Nil {
			return &domain.QueueEntry{UserID: domain.UserID(candidate)}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get queue entry: %w", err)
		}

		var entry domain.QueueEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue entry: %w", err)
		}
		return &entry, nil
	}
}

func (r *RedisQueueRepository) Remove(ctx context.Context, user domain.UserID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.orderKey(), string(user))
		pipe.HDel(ctx, r.entriesKey(), string(user))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	return nil
}

func (r *RedisQueueRepository) Len(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.orderKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(n), nil
}
