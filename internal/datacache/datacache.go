// Package datacache is the read-through cache in front of upstream data
// sources. Fresh entries are served from the store; concurrent misses for
// the same key share one upstream fetch; failures are never cached.
//
// The options of the caller that starts a fetch (TTL, method, headers) apply
// to that fetch. Callers that join it while it is pending get its result
// regardless of the options they passed.
package datacache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/cache"
	"github.com/eugener/depot/internal/cachekey"
	"github.com/eugener/depot/internal/fetch"
	"github.com/eugener/depot/internal/inflight"
	"github.com/eugener/depot/internal/notify"
	"github.com/eugener/depot/internal/scheduler"
	"github.com/eugener/depot/internal/telemetry"
)

const (
	DefaultTTL          = 5 * time.Minute
	DefaultFetchTimeout = 30 * time.Second
)

// Fetcher retrieves one upstream document. *fetch.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) ([]byte, error)
}

// Options are per-call settings. The zero value fetches with GET, no extra
// params and the cache's default TTL.
type Options struct {
	TTL     time.Duration     // 0 = Config.DefaultTTL
	Params  map[string]string // part of the cache key, sent as query params
	Method  string
	Headers map[string]string
}

// Config holds facade-wide settings.
type Config struct {
	DefaultTTL   time.Duration
	FetchTimeout time.Duration // upper bound for one fetch, retries included
}

// Result is the outcome of Get.
type Result struct {
	Data json.RawMessage
	// Hit is true when the value came from a fresh entry.
	Hit bool
	// Shared is true when the caller joined a fetch started by another caller.
	Shared bool
}

// Cache is the data cache facade. Create with New, release with Close.
type Cache struct {
	store   cache.Store
	fetcher Fetcher
	bus     *notify.Bus
	calls   *inflight.Tracker[json.RawMessage]
	sched   *scheduler.Scheduler
	cfg     Config
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64

	// base is cancelled by Close to abort detached fetches.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// mu orders wg.Add in start against setting closed in Close, so Close
	// never waits on a counter a new fetch is about to raise.
	mu     sync.Mutex
	closed atomic.Bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records hits and misses on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithTracer records a span per upstream load on t instead of the global
// provider's "depot/datacache" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Cache) { c.tracer = t }
}

// New creates a Cache. A nil store uses an in-memory store with the default
// capacity; a nil bus drops events.
func New(store cache.Store, fetcher Fetcher, bus *notify.Bus, cfg Config, opts ...Option) *Cache {
	if store == nil {
		store = cache.NewMemory(0)
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	c := &Cache{
		store:   store,
		fetcher: fetcher,
		bus:     bus,
		calls:   inflight.New[json.RawMessage](),
		sched:   scheduler.New(base),
		cfg:     cfg,
		tracer:  telemetry.Tracer("depot/datacache"),
		now:     time.Now,
		base:    base,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetData returns the value for name, fetching source on a miss.
func (c *Cache) GetData(ctx context.Context, name, source string, opts Options) (json.RawMessage, error) {
	res, err := c.Get(ctx, name, source, opts)
	return res.Data, err
}

// Get is GetData that also reports how the value was obtained.
//
// A cancelled ctx makes Get return ctx.Err() immediately, but a fetch it
// started keeps running (bounded by Config.FetchTimeout) and still
// populates the cache.
func (c *Cache) Get(ctx context.Context, name, source string, opts Options) (Result, error) {
	if c.closed.Load() {
		return Result{}, depot.ErrClosed
	}
	key := cachekey.Build(name, opts.Params)

	if e, ok := c.store.Get(key); ok && !e.Expired(c.now()) {
		c.recordHit()
		return Result{Data: e.Value, Hit: true}, nil
	}
	c.recordMiss()

	call, leader := c.calls.Acquire(key)
	if leader {
		c.start(ctx, key, name, source, opts, call)
	}
	data, err := call.Wait(ctx)
	if err != nil {
		return Result{Shared: !leader}, err
	}
	return Result{Data: data, Shared: !leader}, nil
}

// start runs the fetch for key on its own goroutine, detached from the
// caller's cancellation. The call is always released, with ErrClosed when
// Close won the race after Acquire.
func (c *Cache) start(ctx context.Context, key, name, source string, opts Options, call *inflight.Call[json.RawMessage]) {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		c.calls.Release(key, call, nil, depot.ErrClosed)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	// Only the leader touches the entry while the call is pending.
	if e, ok := c.store.Get(key); ok && e.Expired(c.now()) {
		c.store.Delete(key)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
	stop := context.AfterFunc(c.base, cancel)

	go func() {
		defer c.wg.Done()
		defer cancel()
		defer stop()

		var (
			data json.RawMessage
			err  error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("datacache: fetch %s panicked: %v", key, r)
				data = nil
			}
			c.calls.Release(key, call, data, err)
		}()

		data, err = c.load(fctx, key, name, source, opts, call)
	}()
}

// load fetches, stores and publishes the outcome.
func (c *Cache) load(ctx context.Context, key, name, source string, opts Options, call *inflight.Call[json.RawMessage]) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "datacache.load", trace.WithAttributes(
		attribute.String("depot.source", name),
		attribute.String("depot.cache.key", key),
	))
	defer span.End()

	start := c.now()
	body, err := c.fetcher.Fetch(ctx, fetch.Request{
		URL:     source,
		Method:  opts.Method,
		Params:  opts.Params,
		Headers: opts.Headers,
	})
	dur := c.now().Sub(start)

	if err != nil {
		if c.base.Err() != nil {
			err = fmt.Errorf("%w: %w", depot.ErrClosed, err)
		}
		waiters := c.calls.Waiters(call)
		span.SetAttributes(attribute.Int("depot.waiters", waiters))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.bus.Publish(ctx, depot.Event{
			Kind:     depot.DataError,
			Name:     name,
			Key:      key,
			Err:      err,
			Waiters:  waiters,
			Duration: dur,
			At:       c.now(),
		})
		return nil, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	data := json.RawMessage(body)
	c.store.Set(key, data, ttl)

	waiters := c.calls.Waiters(call)
	span.SetAttributes(
		attribute.Int("depot.waiters", waiters),
		attribute.Int("depot.bytes", len(data)),
	)

	c.bus.Publish(ctx, depot.Event{
		Kind:     depot.DataLoaded,
		Name:     name,
		Key:      key,
		Data:     data,
		Waiters:  waiters,
		Duration: dur,
		At:       c.now(),
	})
	return data, nil
}

// RefreshData drops the entry for name and opts.Params and fetches it again,
// regardless of freshness. If a fetch for the key is already pending the
// caller joins it.
func (c *Cache) RefreshData(ctx context.Context, name, source string, opts Options) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, depot.ErrClosed
	}
	c.store.Delete(cachekey.Build(name, opts.Params))
	return c.GetData(ctx, name, source, opts)
}

// SetAutoRefresh refreshes name every interval until cancelled. Calling it
// again for the same name replaces the previous schedule.
func (c *Cache) SetAutoRefresh(name, source string, interval time.Duration, opts Options) error {
	if c.closed.Load() {
		return depot.ErrClosed
	}
	return c.sched.Every(name, interval, func(ctx context.Context) {
		if _, err := c.RefreshData(ctx, name, source, opts); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "auto refresh failed",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
		}
	})
}

// CancelAutoRefresh stops the auto refresh for name and reports whether one
// was scheduled.
func (c *Cache) CancelAutoRefresh(name string) bool {
	return c.sched.Cancel(name)
}

// Invalidate drops the entry for name and params. A pending fetch for the
// key is not affected.
func (c *Cache) Invalidate(name string, params map[string]string) {
	c.store.Delete(cachekey.Build(name, params))
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.store.Purge()
}

// Stats returns current counters.
func (c *Cache) Stats() depot.Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return depot.Stats{
		CacheSize:        c.store.Len(),
		ActiveRefreshers: c.sched.Len(),
		LoadingRequests:  c.calls.Len(),
		SharedWaiters:    c.calls.Waiting(),
		Hits:             hits,
		Misses:           misses,
		HitRate:          rate,
	}
}

// Entries returns a snapshot of every stored entry, fresh or not.
func (c *Cache) Entries() []*cache.Entry {
	return c.store.Entries()
}

// Restore loads previously saved entries, skipping the ones that are no
// longer fresh. It returns how many were restored.
func (c *Cache) Restore(entries []*cache.Entry) int {
	now := c.now()
	n := 0
	for _, e := range entries {
		if e == nil || e.Expired(now) {
			continue
		}
		c.store.Restore(e)
		n++
	}
	return n
}

// Close stops auto refreshes, aborts pending fetches and waits for them.
// Callers of an aborted fetch and all subsequent calls fail with
// depot.ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}
	c.closed.Store(true)
	c.mu.Unlock()

	c.sched.Stop()
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}
