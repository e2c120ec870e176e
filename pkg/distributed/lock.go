package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock stays taken past the wait limit.
var ErrLockTimeout = errors.New("lock acquisition timeout")

const (
	defaultRetryInterval = 20 * time.Millisecond
	defaultMaxWait       = 5 * time.Second
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Mutex is a lock shared by every process using the same Redis key. Each
// acquisition writes a fresh token, so a holder whose key expired can never
// release someone else's lock. A local mutex in front keeps goroutines of
// one process from polling Redis against each other.
type Mutex struct {
	client        *redis.Client
	key           string
	ttl           time.Duration
	retryInterval time.Duration
	maxWait       time.Duration

	local sync.Mutex
}

func NewMutex(client *redis.Client, key string, ttl time.Duration) *Mutex {
	return &Mutex{
		client:        client,
		key:           key,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
		maxWait:       defaultMaxWait,
	}
}

// Lock blocks until the lock is held, ctx is done or the wait limit passes.
// The returned func releases it and must be called exactly once.
func (m *Mutex) Lock(ctx context.Context) (func(), error) {
	if !m.lockLocal(ctx) {
		return nil, ctx.Err()
	}

	token := newToken()
	deadline := time.Now().Add(m.maxWait)
	for {
		ok, err := m.client.SetNX(ctx, m.key, token, m.ttl).Result()
		if err != nil {
			m.local.Unlock()
			return nil, fmt.Errorf("failed to acquire lock %s: %w", m.key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			m.local.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, m.key)
		}
		select {
		case <-ctx.Done():
			m.local.Unlock()
			return nil, ctx.Err()
		case <-time.After(m.retryInterval):
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		m.renew(token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			// Release with a fresh context so a cancelled caller still frees the key.
			rctx, cancel := context.WithTimeout(context.Background(), m.ttl)
			defer cancel()
			_ = releaseScript.Run(rctx, m.client, []string{m.key}, token).Err()
			m.local.Unlock()
		})
	}, nil
}

func (m *Mutex) lockLocal(ctx context.Context) bool {
	acquired := make(chan struct{})
	go func() {
		m.local.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return true
	case <-ctx.Done():
		// Hand the local lock straight back once the goroutine gets it.
		go func() {
			<-acquired
			m.local.Unlock()
		}()
		return false
	}
}

// renew extends the key at half its ttl for as long as the token matches.
func (m *Mutex) renew(token string, stop <-chan struct{}) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.ttl/2)
			n, err := renewScript.Run(ctx, m.client, []string{m.key}, token, m.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil || n == 0 {
				return
			}
		}
	}
}

// Held reports whether anyone currently holds the key.
func (m *Mutex) Held(ctx context.Context) (bool, error) {
	n, err := m.client.Exists(ctx, m.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
