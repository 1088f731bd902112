// Package inflight tracks pending retrievals so that at most one fetch per
// key is outstanding at any time. Callers that arrive while a fetch is
// pending wait on the same Call and observe the same result.
package inflight

import (
	"context"
	"fmt"
	"sync"
)

// Call is a pending retrieval for one key.
type Call[V any] struct {
	done    chan struct{}
	val     V
	err     error
	waiters int // joined callers, guarded by the tracker lock
}

// Done is closed once the call has settled.
func (c *Call[V]) Done() <-chan struct{} { return c.done }

// Wait blocks until the call settles or ctx is done. A cancelled ctx only
// stops this caller from waiting; the retrieval itself keeps running.
func (c *Call[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Tracker maps keys to pending calls. It is safe for concurrent use.
type Tracker[V any] struct {
	mu    sync.Mutex
	calls map[string]*Call[V]
}

// New returns an empty Tracker.
func New[V any]() *Tracker[V] {
	return &Tracker[V]{calls: make(map[string]*Call[V])}
}

// Has reports whether a call is pending for key.
func (t *Tracker[V]) Has(key string) bool {
	t.mu.Lock()
	_, ok := t.calls[key]
	t.mu.Unlock()
	return ok
}

// Join returns the pending call for key, if any.
func (t *Tracker[V]) Join(key string) (*Call[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[key]
	if ok {
		c.waiters++
	}
	return c, ok
}

// Register stores a new pending call for key. The caller must have checked
// that none exists; registering a duplicate is a programming error.
func (t *Tracker[V]) Register(key string) *Call[V] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[key]; ok {
		panic(fmt.Sprintf("inflight: duplicate registration for %q", key))
	}
	c := &Call[V]{done: make(chan struct{})}
	t.calls[key] = c
	return c
}

// Acquire joins the pending call for key or registers a new one, as a single
// atomic step. leader is true when the caller registered the call and is
// therefore responsible for releasing it.
func (t *Tracker[V]) Acquire(key string) (c *Call[V], leader bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.calls[key]; ok {
		c.waiters++
		return c, false
	}
	c = &Call[V]{done: make(chan struct{})}
	t.calls[key] = c
	return c, true
}

// Release settles c with the given result and removes it from the tracker.
// It must be called exactly once per registered call, success or failure.
func (t *Tracker[V]) Release(key string, c *Call[V], val V, err error) {
	t.mu.Lock()
	if cur, ok := t.calls[key]; ok && cur == c {
		delete(t.calls, key)
	}
	t.mu.Unlock()

	c.val, c.err = val, err
	close(c.done)
}

// Waiters returns how many callers joined c after it was registered.
func (t *Tracker[V]) Waiters(c *Call[V]) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return c.waiters
}

// Waiting returns how many joined callers are blocked on pending calls.
func (t *Tracker[V]) Waiting() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		n += c.waiters
	}
	return n
}

// Len returns the number of pending calls.
func (t *Tracker[V]) Len() int {
	t.mu.Lock()
	n := len(t.calls)
	t.mu.Unlock()
	return n
}
