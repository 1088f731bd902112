package worker

import (
	"context"
	"testing"
	"time"

	"github.com/eugener/depot/internal/cache"
	"github.com/eugener/depot/internal/circuitbreaker"
)

func TestSweeper_Sweep(t *testing.T) {
	t.Parallel()

	store := cache.NewMemory(10)
	now := time.Now()
	store.Restore(&cache.Entry{Key: "old", Value: []byte(`1`), CreatedAt: now.Add(-2 * time.Hour), TTL: time.Minute})
	store.Restore(&cache.Entry{Key: "new", Value: []byte(`2`), CreatedAt: now, TTL: time.Minute})

	reg := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	reg.GetOrCreate("idle.example")

	s := NewSweeper(store, time.Hour, time.Minute, reg)
	s.now = func() time.Time { return now.Add(time.Hour) }

	if n := s.Sweep(t.Context()); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if _, ok := store.Get("old"); ok {
		t.Error("old entry survived sweep")
	}
	if _, ok := store.Get("new"); !ok {
		t.Error("new entry swept")
	}
	if reg.Len() != 0 {
		t.Errorf("breakers = %d, want 0", reg.Len())
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := NewSweeper(cache.NewMemory(1), time.Hour, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
