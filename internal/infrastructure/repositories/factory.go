package repositories

import (
	"context"

	"fluxx/internal/core/ports"
	"fluxx/internal/infrastructure/reliability"
	"fluxx/internal/infrastructure/repositories/memory"
	redisrepo "fluxx/internal/infrastructure/repositories/redis"
	"fluxx/pkg/config"
	"fluxx/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pairingLockKey = "fluxx:lock:pairing"

	// maxStoredReports caps each report list.
	maxStoredReports = 1000
)

// RepositoryFactory hands out matchmaking repositories backed by Redis when
// it is reachable and by process memory otherwise. Redis-backed stores are
// wrapped in circuit breakers so an outage fails requests fast.
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	guard       reliability.Config
	observer    reliability.BreakerObserver
	closers     []func()
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		guard:    guardConfig(cfg),
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

func guardConfig(cfg *config.Config) reliability.Config {
	out := reliability.DefaultConfig()
	if cfg.Redis.Breaker.FailureThreshold > 0 {
		out.Breaker.FailureThreshold = cfg.Redis.Breaker.FailureThreshold
	}
	if cfg.Redis.Breaker.SuccessThreshold > 0 {
		out.Breaker.SuccessThreshold = cfg.Redis.Breaker.SuccessThreshold
	}
	if cfg.Redis.Breaker.OpenTimeout > 0 {
		out.Breaker.Timeout = cfg.Redis.Breaker.OpenTimeout
	}
	return out
}

// ObserveBreakers reports breaker transitions of stores created afterwards.
func (f *RepositoryFactory) ObserveBreakers(o reliability.BreakerObserver) {
	f.observer = o
}

func (f *RepositoryFactory) redisReady() bool {
	return f.useRedis && f.redisClient != nil
}

func (f *RepositoryFactory) CreateQueueRepository() ports.QueueRepository {
	if f.redisReady() {
		return reliability.NewGuardedQueue(redisrepo.NewRedisQueueRepository(f.redisClient), f.guard, f.observer, f.logger)
	}
	return memory.NewMemoryQueueRepository()
}

// CreateBanRepository keeps bans in Redis when available so they survive
// restarts, with a short-lived local cache in front.
func (f *RepositoryFactory) CreateBanRepository() ports.BanRepository {
	if f.redisReady() {
		guarded := reliability.NewGuardedBans(redisrepo.NewRedisBanRepository(f.redisClient), f.guard, f.observer, f.logger)
		if f.cfg.Redis.BanCacheTTL <= 0 {
			return guarded
		}
		cached := NewCachedBanRepository(guarded, f.cfg.Redis.BanCacheTTL)
		f.closers = append(f.closers, cached.Close)
		return cached
	}
	return memory.NewMemoryBanRepository()
}

func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	if f.redisReady() {
		return reliability.NewGuardedRooms(redisrepo.NewRedisRoomRepository(f.redisClient), f.guard, f.observer, f.logger)
	}
	return memory.NewMemoryRoomRepository()
}

func (f *RepositoryFactory) CreateReportRepository() ports.ReportRepository {
	if f.redisReady() {
		return reliability.NewGuardedReports(redisrepo.NewRedisReportRepository(f.redisClient, maxStoredReports), f.guard, f.observer, f.logger)
	}
	return memory.NewMemoryReportRepository(maxStoredReports)
}

// CreatePairingLock returns a lock shared by every instance on the same
// Redis, or nil when the matchmaker's in-process lock is enough.
func (f *RepositoryFactory) CreatePairingLock() ports.Locker {
	if f.redisReady() {
		return distributed.NewMutex(f.redisClient, pairingLockKey, f.cfg.Redis.PairLockTTL)
	}
	return nil
}

// RedisClient is nil when memory repositories are in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	for _, c := range f.closers {
		c()
	}
	f.closers = nil
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisReady() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
