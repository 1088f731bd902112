package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/depot/internal/cache"
)

const snapshotDrainTime = 10 * time.Second

// SnapshotStore persists cache entries.
type SnapshotStore interface {
	SaveEntries(ctx context.Context, entries []*cache.Entry) error
}

// EntrySource yields the entries to persist. *datacache.Cache implements it.
type EntrySource interface {
	Entries() []*cache.Entry
}

// Snapshotter writes the live cache to a SnapshotStore every interval and
// once more on shutdown, so a restart can warm the cache.
type Snapshotter struct {
	src      EntrySource
	store    SnapshotStore
	interval time.Duration
	now      func() time.Time
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(src EntrySource, store SnapshotStore, interval time.Duration) *Snapshotter {
	return &Snapshotter{src: src, store: store, interval: interval, now: time.Now}
}

// Name returns the worker identifier.
func (s *Snapshotter) Name() string { return "snapshotter" }

// Run saves periodically until ctx is cancelled, then saves a final time
// with a fresh timeout.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Save(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), snapshotDrainTime)
			s.Save(drainCtx)
			cancel()
			return nil
		}
	}
}

// Save writes every fresh entry and returns how many were written.
// Failures are logged; the next tick retries.
func (s *Snapshotter) Save(ctx context.Context) int {
	now := s.now()
	all := s.src.Entries()
	live := make([]*cache.Entry, 0, len(all))
	for _, e := range all {
		if !e.Expired(now) {
			live = append(live, e)
		}
	}
	if err := s.store.SaveEntries(ctx, live); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "snapshot save failed",
			slog.Int("count", len(live)),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return len(live)
}
