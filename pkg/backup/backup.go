package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ErrNoSnapshot is returned by Latest when storage holds no snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

const timestampLayout = "20060102-150405.000"

// Storage is where snapshots are kept.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Snapshot wraps one saved value of T.
type Snapshot[T any] struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Data      T         `json:"data"`
}

// Service writes and reads timestamped JSON snapshots of T under a name
// prefix. Names sort in creation order.
type Service[T any] struct {
	storage Storage
	prefix  string
	version string
	now     func() time.Time
}

func NewService[T any](storage Storage, prefix, version string) *Service[T] {
	return &Service[T]{storage: storage, prefix: prefix + "-", version: version, now: time.Now}
}

func (s *Service[T]) Create(ctx context.Context, data T) (string, error) {
	snap := Snapshot[T]{Version: s.version, Timestamp: s.now().UTC(), Data: data}

	raw, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := s.prefix + snap.Timestamp.Format(timestampLayout) + ".json"
	if err := s.storage.Save(ctx, name, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}
	return name, nil
}

func (s *Service[T]) Load(ctx context.Context, name string) (*Snapshot[T], error) {
	r, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer r.Close()

	var snap Snapshot[T]
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	if snap.Version == "" {
		return nil, fmt.Errorf("invalid snapshot %s: missing version", name)
	}
	return &snap, nil
}

// List returns snapshot names, oldest first.
func (s *Service[T]) List(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, ".json") {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Latest loads the newest snapshot that decodes.
func (s *Service[T]) Latest(ctx context.Context) (*Snapshot[T], string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, "", err
	}
	var lastErr error = ErrNoSnapshot
	for i := len(names) - 1; i >= 0; i-- {
		snap, err := s.Load(ctx, names[i])
		if err != nil {
			lastErr = err
			continue
		}
		return snap, names[i], nil
	}
	return nil, "", lastErr
}

// Prune deletes all but the newest keep snapshots and returns how many it
// removed.
func (s *Service[T]) Prune(ctx context.Context, keep int) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 1 {
		keep = 1
	}
	removed := 0
	for len(names)-removed > keep {
		if err := s.storage.Delete(ctx, names[removed]); err != nil {
			return removed, fmt.Errorf("failed to delete snapshot %s: %w", names[removed], err)
		}
		removed++
	}
	return removed, nil
}
