package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	depot "github.com/eugener/depot/internal"
)

// Registry manages one Breaker per upstream host.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates an empty registry whose breakers use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for host, or nil if none exists.
func (r *Registry) Get(host string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[host]
}

// GetOrCreate returns the breaker for host, creating one if needed.
func (r *Registry) GetOrCreate(host string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[host]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[host]; ok {
		return b
	}
	b = NewBreaker(r.config)
	r.breakers[host] = b
	return b
}

// Allow returns depot.ErrCircuitOpen if the breaker for host rejects the attempt.
func (r *Registry) Allow(host string) error {
	if !r.GetOrCreate(host).Allow() {
		return fmt.Errorf("%w: %s", depot.ErrCircuitOpen, host)
	}
	return nil
}

// Record classifies err and feeds it to the breaker for host.
func (r *Registry) Record(host string, err error) {
	r.GetOrCreate(host).Record(ClassifyError(err))
}

// Len returns the number of tracked hosts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}

// EvictStale removes breakers not used since cutoff and returns how many
// were removed. Stale keys are collected under the read lock first so the
// write lock is only taken when there is something to delete.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var stale []string
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			stale = append(stale, k)
		}
	}
	r.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, k := range stale {
		if b, ok := r.breakers[k]; ok && b.LastUsed().Before(cutoff) {
			delete(r.breakers, k)
			evicted++
		}
	}
	return evicted
}
