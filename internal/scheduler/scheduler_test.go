package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	depot "github.com/eugener/depot/internal"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEvery_Runs(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	defer s.Stop()

	var n atomic.Int32
	if err := s.Every("stats", 10*time.Millisecond, func(context.Context) { n.Add(1) }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	waitFor(t, func() bool { return n.Load() >= 3 })
}

func TestEvery_ReplacesExisting(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	defer s.Stop()

	var first, second atomic.Int32
	s.Every("stats", 10*time.Millisecond, func(context.Context) { first.Add(1) })
	waitFor(t, func() bool { return first.Load() >= 1 })

	s.Every("stats", 10*time.Millisecond, func(context.Context) { second.Add(1) })
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	waitFor(t, func() bool { return second.Load() >= 2 })

	// The replaced job must no longer tick.
	before := first.Load()
	time.Sleep(50 * time.Millisecond)
	if after := first.Load(); after > before+1 {
		t.Errorf("replaced job still running: %d -> %d", before, after)
	}
}

func TestEvery_InvalidInterval(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	defer s.Stop()

	if err := s.Every("x", 0, func(context.Context) {}); err == nil {
		t.Error("expected error for zero interval")
	}
	if s.Has("x") {
		t.Error("job registered despite error")
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	defer s.Stop()

	s.Every("a", time.Hour, func(context.Context) {})
	if !s.Cancel("a") {
		t.Error("Cancel(a) = false, want true")
	}
	if s.Cancel("a") {
		t.Error("second Cancel(a) = true, want false")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestStop_WaitsAndRejects(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var stopped atomic.Bool
	started := make(chan struct{}, 1)
	s.Every("slow", 5*time.Millisecond, func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		stopped.Store(true)
	})
	<-started

	s.Stop()
	if !stopped.Load() {
		t.Error("Stop returned before running job finished")
	}
	if err := s.Every("late", time.Second, func(context.Context) {}); !errors.Is(err, depot.ErrClosed) {
		t.Errorf("Every after Stop = %v, want ErrClosed", err)
	}
	s.Stop() // idempotent
}

func TestRun_RecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	defer s.Stop()

	var n atomic.Int32
	s.Every("panicky", 5*time.Millisecond, func(context.Context) {
		n.Add(1)
		panic("boom")
	})
	waitFor(t, func() bool { return n.Load() >= 2 })
}
