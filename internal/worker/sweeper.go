package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/depot/internal/cache"
)

const idleTTL = 10 * time.Minute

// IdleEvicter forgets per-key state not used since cutoff. Circuit breaker
// and rate limiter registries implement it.
type IdleEvicter interface {
	EvictStale(cutoff time.Time) int
}

// Sweeper periodically drops entries older than a stale threshold and
// forgets per-host and per-client state that has gone quiet. Lookups never
// depend on it; it only bounds memory.
type Sweeper struct {
	store      cache.Store
	evicters   []IdleEvicter
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(store cache.Store, staleAfter, interval time.Duration, evicters ...IdleEvicter) *Sweeper {
	return &Sweeper{
		store:      store,
		evicters:   evicters,
		staleAfter: staleAfter,
		interval:   interval,
		now:        time.Now,
	}
}

// Name returns the worker identifier.
func (s *Sweeper) Name() string { return "sweeper" }

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass and returns the number of entries removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n := s.store.Sweep(s.staleAfter)
	cutoff := s.now().Add(-idleTTL)
	var idle int
	for _, e := range s.evicters {
		idle += e.EvictStale(cutoff)
	}
	if n > 0 || idle > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "sweep",
			slog.Int("entries", n),
			slog.Int("idle", idle),
		)
	}
	return n
}
