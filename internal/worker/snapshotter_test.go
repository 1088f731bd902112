package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eugener/depot/internal/cache"
)

type fakeSnapshotStore struct {
	mu    sync.Mutex
	saves [][]*cache.Entry
	err   error
}

func (f *fakeSnapshotStore) SaveEntries(_ context.Context, entries []*cache.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves = append(f.saves, entries)
	return nil
}

func (f *fakeSnapshotStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func TestSnapshotter_SaveSkipsExpired(t *testing.T) {
	t.Parallel()

	store := cache.NewMemory(10)
	now := time.Now()
	store.Restore(&cache.Entry{Key: "live", Value: []byte(`1`), CreatedAt: now, TTL: time.Hour})
	store.Restore(&cache.Entry{Key: "dead", Value: []byte(`2`), CreatedAt: now.Add(-2 * time.Hour), TTL: time.Hour})

	db := &fakeSnapshotStore{}
	s := NewSnapshotter(store, db, time.Minute)
	if n := s.Save(t.Context()); n != 1 {
		t.Fatalf("saved = %d, want 1", n)
	}
	if got := db.saves[0]; len(got) != 1 || got[0].Key != "live" {
		t.Errorf("saved entries = %+v", got)
	}
}

func TestSnapshotter_SaveError(t *testing.T) {
	t.Parallel()

	db := &fakeSnapshotStore{err: errors.New("disk full")}
	s := NewSnapshotter(cache.NewMemory(1), db, time.Minute)
	if n := s.Save(t.Context()); n != 0 {
		t.Errorf("saved = %d, want 0 on error", n)
	}
}

func TestSnapshotter_FinalSaveOnShutdown(t *testing.T) {
	t.Parallel()

	db := &fakeSnapshotStore{}
	s := NewSnapshotter(cache.NewMemory(1), db, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshotter did not stop")
	}
	if db.count() != 1 {
		t.Errorf("saves = %d, want 1 final save", db.count())
	}
}
