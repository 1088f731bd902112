// Package notify dispatches data cache events to registered listeners.
package notify

import (
	"context"
	"log/slog"
	"sync"

	depot "github.com/eugener/depot/internal"
)

// Listener receives cache events. OnEvent runs on the publisher's goroutine
// and must not block.
type Listener interface {
	OnEvent(ctx context.Context, ev depot.Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev depot.Event)

// OnEvent calls f(ctx, ev).
func (f ListenerFunc) OnEvent(ctx context.Context, ev depot.Event) { f(ctx, ev) }

type subscription struct {
	id int
	l  Listener
}

// Bus fans events out to listeners in subscription order. A nil *Bus is
// valid and drops every event.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
}

// NewBus returns an empty Bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers l and returns a function that removes it.
// The returned function is idempotent.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, l: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribed listeners.
func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every listener synchronously. A listener that
// panics is logged and skipped; the remaining listeners still run.
func (b *Bus) Publish(ctx context.Context, ev depot.Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(ctx, s.l, ev)
	}
}

func deliver(ctx context.Context, l Listener, ev depot.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.LogAttrs(ctx, slog.LevelError, "listener panic",
				slog.String("event", ev.Kind.String()),
				slog.String("key", ev.Key),
				slog.Any("panic", r),
			)
		}
	}()
	l.OnEvent(ctx, ev)
}

// LogListener logs every event with slog. Loads go out at debug level,
// errors at warn.
type LogListener struct {
	Logger *slog.Logger // nil = slog.Default()
}

// OnEvent implements Listener.
func (l LogListener) OnEvent(ctx context.Context, ev depot.Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("event", ev.Kind.String()),
		slog.String("name", ev.Name),
		slog.String("key", ev.Key),
		slog.Duration("duration", ev.Duration),
		slog.Int("waiters", ev.Waiters),
	}
	switch ev.Kind {
	case depot.DataLoaded:
		attrs = append(attrs, slog.Int("bytes", len(ev.Data)))
		logger.LogAttrs(ctx, slog.LevelDebug, "data loaded", attrs...)
	case depot.DataError:
		if ev.Err != nil {
			attrs = append(attrs, slog.String("error", ev.Err.Error()))
		}
		logger.LogAttrs(ctx, slog.LevelWarn, "data load failed", attrs...)
	}
}
