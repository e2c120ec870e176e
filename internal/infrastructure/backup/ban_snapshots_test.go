package backup

import (
	"context"
	"testing"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/infrastructure/repositories/memory"
	"fluxx/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) BanStore {
	t.Helper()
	store, ok := memory.NewMemoryBanRepository().(BanStore)
	require.True(t, ok, "memory ban repository must list its records")
	return store
}

func TestBanSnapshots_RoundTrip(t *testing.T) {
	ctx := context.Background()
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	now := time.Now()

	src := newStore(t)
	require.NoError(t, src.Ban(ctx, domain.BanRecord{UserID: "alice", Reason: "spam"}))
	require.NoError(t, src.Ban(ctx, domain.BanRecord{UserID: "bob", Reason: "abuse", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, src.Ban(ctx, domain.BanRecord{UserID: "carol", Reason: "old", ExpiresAt: now.Add(-time.Hour)}))

	snaps := NewBanSnapshots(storage, src, Config{Keep: 2}, zap.NewNop().Sugar())
	name, err := snaps.Snapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, name, "bans-")

	dst := newStore(t)
	restored, err := NewBanSnapshots(storage, dst, Config{}, zap.NewNop().Sugar()).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	rec, err := dst.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "spam", rec.Reason)

	rec, err = dst.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestBanSnapshots_RestoreSkipsBansExpiredSinceSnapshot(t *testing.T) {
	ctx := context.Background()
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	src := newStore(t)
	require.NoError(t, src.Ban(ctx, domain.BanRecord{UserID: "dave", ExpiresAt: time.Now().Add(time.Minute)}))
	_, err = NewBanSnapshots(storage, src, Config{}, zap.NewNop().Sugar()).Snapshot(ctx)
	require.NoError(t, err)

	dst := newStore(t)
	later := NewBanSnapshots(storage, dst, Config{}, zap.NewNop().Sugar())
	later.now = func() time.Time { return time.Now().Add(time.Hour) }
	restored, err := later.Restore(ctx)
	require.NoError(t, err)
	assert.Zero(t, restored)
}

func TestBanSnapshots_RestoreEmpty(t *testing.T) {
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	restored, err := NewBanSnapshots(storage, newStore(t), Config{}, zap.NewNop().Sugar()).Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, restored)
}

func TestBanSnapshots_RunWritesFinalSnapshot(t *testing.T) {
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	store := newStore(t)
	require.NoError(t, store.Ban(context.Background(), domain.BanRecord{UserID: "erin", Reason: "spam"}))

	snaps := NewBanSnapshots(storage, store, Config{Interval: time.Hour}, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		snaps.Run(ctx)
	}()
	cancel()
	<-done

	names, err := snaps.service.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 1)
}
