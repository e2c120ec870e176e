package distributed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxx/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const presencePrefix = "fluxx:presence:"

// ErrNotPresent means no instance has announced the user.
var ErrNotPresent = errors.New("user not present on any instance")

var unregisterScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Presence records which instance holds each user's signaling connection.
// Entries expire unless refreshed, so a crashed instance ages out.
type Presence struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
}

func NewPresence(client *redis.Client, instanceID string, ttl time.Duration) *Presence {
	return &Presence{client: client, instanceID: instanceID, ttl: ttl}
}

func presenceKey(user domain.UserID) string {
	return presencePrefix + string(user)
}

// Register claims user for this instance and returns the instance that held
// it before, or "" when nobody did.
func (p *Presence) Register(ctx context.Context, user domain.UserID) (string, error) {
	prev, err := p.client.SetArgs(ctx, presenceKey(user), p.instanceID, redis.SetArgs{
		TTL: p.ttl,
		Get: true,
	}).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to register presence: %w", err)
	}
	return prev, nil
}

// Unregister releases user only if this instance still holds it.
func (p *Presence) Unregister(ctx context.Context, user domain.UserID) error {
	if err := unregisterScript.Run(ctx, p.client, []string{presenceKey(user)}, p.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to unregister presence: %w", err)
	}
	return nil
}

// Locate returns the instance holding user.
func (p *Presence) Locate(ctx context.Context, user domain.UserID) (string, error) {
	instance, err := p.client.Get(ctx, presenceKey(user)).Result()
	if err == redis.Nil {
		return "", ErrNotPresent
	}
	if err != nil {
		return "", fmt.Errorf("failed to locate user: %w", err)
	}
	return instance, nil
}

// Refresh extends the entries for users held here.
func (p *Presence) Refresh(ctx context.Context, users []domain.UserID) error {
	if len(users) == 0 {
		return nil
	}
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			pipe.Expire(ctx, presenceKey(u), p.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}
