package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/internal/infrastructure/repositories/memory"
	"fluxx/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryFallback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	f, err := NewRepositoryFactory(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))

	assert.IsType(t, &memory.MemoryQueueRepository{}, f.CreateQueueRepository())
	assert.IsType(t, &memory.MemoryBanRepository{}, f.CreateBanRepository())
	assert.IsType(t, &memory.MemoryRoomRepository{}, f.CreateRoomRepository())
	assert.Nil(t, f.CreatePairingLock())
}

func TestRepositoryFactory_UnreachableRedisFallsBack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f, err := NewRepositoryFactory(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Nil(t, f.RedisClient())

	q := f.CreateQueueRepository()
	pos, err := q.Enqueue(context.Background(), domain.QueueEntry{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

type countingBans struct {
	mu    sync.Mutex
	gets  int
	inner ports.BanRepository
}

func (c *countingBans) Ban(ctx context.Context, r domain.BanRecord) error { return c.inner.Ban(ctx, r) }
func (c *countingBans) Lift(ctx context.Context, u domain.UserID) error   { return c.inner.Lift(ctx, u) }

func (c *countingBans) Get(ctx context.Context, u domain.UserID) (*domain.BanRecord, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.inner.Get(ctx, u)
}

func TestCachedBanRepository(t *testing.T) {
	ctx := context.Background()
	inner := &countingBans{inner: memory.NewMemoryBanRepository()}
	bans := NewCachedBanRepository(inner, time.Hour)
	defer bans.Close()

	rec, err := bans.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, _ = bans.Get(ctx, "alice")
	assert.Equal(t, 1, inner.gets, "negative answer is cached")

	require.NoError(t, bans.Ban(ctx, domain.BanRecord{UserID: "alice", Reason: "spam"}))
	rec, err = bans.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "spam", rec.Reason)
	assert.Equal(t, 2, inner.gets)

	rec.Reason = "mutated"
	again, err := bans.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "spam", again.Reason, "callers get a copy")

	require.NoError(t, bans.Lift(ctx, "alice"))
	rec, err = bans.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
