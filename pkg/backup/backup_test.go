package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type record struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func newTestService(t *testing.T) (*Service[[]record], string, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	svc := NewService[[]record](storage, "bans", "1")
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	return svc, dir, &clock
}

func TestService_CreateAndLoad(t *testing.T) {
	svc, dir, _ := newTestService(t)
	ctx := context.Background()

	name, err := svc.Create(ctx, []record{{ID: "alice", Reason: "spam"}})
	if err != nil {
		t.Fatalf("failed to create snapshot: %v", err)
	}
	if name != "bans-20260102-030405.000.json" {
		t.Errorf("unexpected name %s", name)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}

	snap, err := svc.Load(ctx, name)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if snap.Version != "1" {
		t.Errorf("expected version 1, got %s", snap.Version)
	}
	if len(snap.Data) != 1 || snap.Data[0].Reason != "spam" {
		t.Errorf("unexpected data %+v", snap.Data)
	}
}

func TestService_LatestAndPrune(t *testing.T) {
	svc, dir, clock := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.Create(ctx, []record{{ID: "u", Reason: string(rune('a' + i))}}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		*clock = clock.Add(time.Second)
	}
	// Unrelated and temp files are ignored.
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	snap, name, err := svc.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap.Data[0].Reason != "d" {
		t.Errorf("expected newest snapshot, got %s from %s", snap.Data[0].Reason, name)
	}

	removed, err := svc.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	names, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 snapshots left, got %v", names)
	}
}

func TestService_LatestSkipsCorrupt(t *testing.T) {
	svc, dir, _ := newTestService(t)
	ctx := context.Background()

	good, err := svc.Create(ctx, []record{{ID: "alice"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = os.WriteFile(filepath.Join(dir, "bans-99991231-235959.000.json"), []byte("{not json"), 0o644)

	_, name, err := svc.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if name != good {
		t.Errorf("expected %s, got %s", good, name)
	}
}

func TestService_LatestEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.Latest(context.Background())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}
