package distributed

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient connects to FLUXX_TEST_REDIS (default localhost:6379) and
// skips the test when nothing answers.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("FLUXX_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testKey() string {
	return "fluxx:test:lock:" + uuid.New().String()
}

func TestMutex_LockUnlock(t *testing.T) {
	client := testClient(t)
	m := NewMutex(client, testKey(), time.Second)
	ctx := context.Background()

	unlock, err := m.Lock(ctx)
	require.NoError(t, err)

	held, err := m.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	unlock()
	unlock()

	held, err = m.Held(ctx)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestMutex_ExcludesAcrossInstances(t *testing.T) {
	client := testClient(t)
	key := testKey()
	a := NewMutex(client, key, time.Second)
	b := NewMutex(client, key, time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		m := a
		if i%2 == 1 {
			m = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestMutex_TimesOut(t *testing.T) {
	client := testClient(t)
	key := testKey()
	holder := NewMutex(client, key, 2*time.Second)
	unlock, err := holder.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	waiter := NewMutex(client, key, 2*time.Second)
	waiter.maxWait = 50 * time.Millisecond
	_, err = waiter.Lock(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestMutex_RenewsWhileHeld(t *testing.T) {
	client := testClient(t)
	m := NewMutex(client, testKey(), 200*time.Millisecond)
	ctx := context.Background()

	unlock, err := m.Lock(ctx)
	require.NoError(t, err)
	defer unlock()

	time.Sleep(500 * time.Millisecond)
	held, err := m.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestMutex_CancelledWhileWaitingLocally(t *testing.T) {
	client := testClient(t)
	m := NewMutex(client, testKey(), time.Second)

	unlock, err := m.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := m.Lock(context.Background())
	require.NoError(t, err)
	unlock2()
}
