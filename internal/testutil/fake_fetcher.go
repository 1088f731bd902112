// Package testutil provides configurable test fakes for depot interfaces.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eugener/depot/internal/fetch"
)

// FakeFetcher is a configurable datacache.Fetcher for testing.
type FakeFetcher struct {
	FetchFn func(ctx context.Context, req fetch.Request) ([]byte, error)
	// Delay is applied before FetchFn runs, honoring ctx.
	Delay time.Duration

	calls atomic.Int32
	mu    sync.Mutex
	reqs  []fetch.Request
}

// Fetch records req, waits Delay and delegates to FetchFn, returning an
// empty JSON object by default.
func (f *FakeFetcher) Fetch(ctx context.Context, req fetch.Request) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.Delay > 0 {
		t := time.NewTimer(f.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	if f.FetchFn != nil {
		return f.FetchFn(ctx, req)
	}
	return []byte(`{}`), nil
}

// Calls returns how many times Fetch was invoked.
func (f *FakeFetcher) Calls() int { return int(f.calls.Load()) }

// Requests returns a copy of every request seen so far.
func (f *FakeFetcher) Requests() []fetch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetch.Request(nil), f.reqs...)
}

// Static returns a FetchFn that always answers body.
func Static(body string) func(context.Context, fetch.Request) ([]byte, error) {
	return func(context.Context, fetch.Request) ([]byte, error) {
		return []byte(body), nil
	}
}

// Failing returns a FetchFn that always fails with err.
func Failing(err error) func(context.Context, fetch.Request) ([]byte, error) {
	return func(context.Context, fetch.Request) ([]byte, error) {
		return nil, err
	}
}
