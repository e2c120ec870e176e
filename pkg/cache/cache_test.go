package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache[string, int], *clock) {
	t.Helper()
	clk := &clock{now: time.Unix(1700000000, 0)}
	c := newWithClock[string, int](ttl, clk.Now)
	t.Cleanup(c.Stop)
	return c, clk
}

func TestCache_SetGetExpire(t *testing.T) {
	c, clk := newTestCache(t, time.Second)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.purgeExpired()
	assert.Zero(t, c.Len())
}

func TestCache_SetWithTTLAndDelete(t *testing.T) {
	c, clk := newTestCache(t, time.Second)

	c.SetWithTTL("long", 2, time.Hour)
	clk.Advance(time.Minute)
	v, ok := c.Get("long")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	c.Delete("long")
	_, ok = c.Get("long")
	assert.False(t, ok)
}

func TestCache_GetOrLoad(t *testing.T) {
	c, clk := newTestCache(t, time.Second)
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return calls * 10, nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, calls)

	clk.Advance(2 * time.Second)
	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}

func TestCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(t, time.Second)
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := New[int, string](time.Millisecond)
	c.Stop()
	c.Stop()
}
