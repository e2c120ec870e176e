package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/backup"

	"go.uber.org/zap"
)

const (
	snapshotPrefix  = "bans"
	snapshotVersion = "1"
)

// BanStore is a ban repository that can enumerate its records. The memory
// repository is one; Redis keeps bans itself and needs no snapshots.
type BanStore interface {
	ports.BanRepository
	List(ctx context.Context) ([]domain.BanRecord, error)
}

type Config struct {
	Interval time.Duration
	Keep     int
}

// BanSnapshots persists an in-memory ban list across restarts.
type BanSnapshots struct {
	service *backup.Service[[]domain.BanRecord]
	bans    BanStore
	cfg     Config
	now     func() time.Time
	logger  *zap.SugaredLogger
}

func NewBanSnapshots(storage backup.Storage, bans BanStore, cfg Config, logger *zap.SugaredLogger) *BanSnapshots {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Keep < 1 {
		cfg.Keep = 5
	}
	return &BanSnapshots{
		service: backup.NewService[[]domain.BanRecord](storage, snapshotPrefix, snapshotVersion),
		bans:    bans,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// Restore loads the newest snapshot and re-applies the bans still in force.
// It returns how many were restored; an empty store is not an error.
func (b *BanSnapshots) Restore(ctx context.Context) (int, error) {
	snap, name, err := b.service.Latest(ctx)
	if errors.Is(err, backup.ErrNoSnapshot) {
		b.logger.Info("no ban snapshot to restore")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load ban snapshot: %w", err)
	}

	now := b.now()
	restored := 0
	for _, rec := range snap.Data {
		if !rec.Active(now) {
			continue
		}
		if err := b.bans.Ban(ctx, rec); err != nil {
			return restored, fmt.Errorf("failed to restore ban for %s: %w", rec.UserID, err)
		}
		restored++
	}
	b.logger.Infow("restored bans from snapshot",
		"snapshot", name,
		"taken_at", snap.Timestamp,
		"restored", restored,
		"skipped_expired", len(snap.Data)-restored,
	)
	return restored, nil
}

// Snapshot writes the active bans and prunes old snapshots.
func (b *BanSnapshots) Snapshot(ctx context.Context) (string, error) {
	all, err := b.bans.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list bans: %w", err)
	}

	now := b.now()
	active := make([]domain.BanRecord, 0, len(all))
	for _, rec := range all {
		if rec.Active(now) {
			active = append(active, rec)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].UserID < active[j].UserID })

	name, err := b.service.Create(ctx, active)
	if err != nil {
		return "", err
	}
	if removed, err := b.service.Prune(ctx, b.cfg.Keep); err != nil {
		b.logger.Warnw("failed to prune ban snapshots", "error", err)
	} else if removed > 0 {
		b.logger.Debugw("pruned ban snapshots", "removed", removed)
	}
	return name, nil
}

// Run snapshots every interval until ctx is done, then takes a final
// snapshot so a clean shutdown loses nothing.
func (b *BanSnapshots) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.snapshot(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			b.snapshot(final)
			cancel()
			return
		}
	}
}

func (b *BanSnapshots) snapshot(ctx context.Context) {
	name, err := b.Snapshot(ctx)
	if err != nil {
		b.logger.Errorw("ban snapshot failed", "error", err)
		return
	}
	b.logger.Debugw("ban snapshot written", "snapshot", name)
}
