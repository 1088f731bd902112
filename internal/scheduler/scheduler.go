// Package scheduler runs named periodic jobs. Registering a job under a name
// that is already scheduled replaces the previous job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	depot "github.com/eugener/depot/internal"
)

type job struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler owns a set of named tickers.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates a Scheduler. Jobs receive a context derived from parent that
// is cancelled when the job is replaced, cancelled or the scheduler stops.
func New(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every runs fn every interval under name until cancelled. The first run
// happens one interval from now. An existing job with the same name is
// stopped before the new one starts; a run already in progress finishes
// on its own.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %q: interval must be positive, got %v", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return depot.ErrClosed
	}
	if old, ok := s.jobs[name]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{interval: interval, cancel: cancel, done: make(chan struct{})}
	s.jobs[name] = j
	go s.loop(ctx, name, j, fn)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, name string, j *job, fn func(context.Context)) {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx, name, fn)
		}
	}
}

func run(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.LogAttrs(ctx, slog.LevelError, "scheduled job panic",
				slog.String("job", name),
				slog.Any("panic", r),
			)
		}
	}()
	fn(ctx)
}

// Cancel stops the job registered under name. It reports whether a job
// was found.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	j.cancel()
	delete(s.jobs, name)
	return true
}

// Has reports whether a job is registered under name.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Stop cancels every job and waits for running ones to return.
// Further calls to Every fail with depot.ErrClosed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	jobs := s.jobs
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		<-j.done
	}
}
