package monitoring

import (
	"context"
	"time"

	"fluxx/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddMatchmakingCheck verifies the queue and room stores answer.
func (h *HealthChecker) AddMatchmakingCheck(queue ports.QueueRepository, rooms ports.RoomRepository, interval, timeout time.Duration) {
	h.AddCheck("matchmaking", func(ctx context.Context) (bool, error) {
		if _, err := queue.Len(ctx); err != nil {
			return false, err
		}
		if _, err := rooms.Count(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}
