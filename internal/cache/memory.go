package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a Memory store when no capacity is given.
const DefaultMaxEntries = 50

// Memory is a bounded map store that evicts the entry with the oldest
// CreatedAt when an insert would exceed capacity.
type Memory struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // *Entry, ascending CreatedAt
	max     int
	onEvict func(key string, reason EvictReason)
	now     func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithEvictHook registers fn to be called, outside the store lock, for every
// entry the store drops by itself (capacity or sweep).
func WithEvictHook(fn func(key string, reason EvictReason)) MemoryOption {
	return func(m *Memory) { m.onEvict = fn }
}

// NewMemory creates a store holding at most maxEntries entries.
func NewMemory(maxEntries int, opts ...MemoryOption) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	m := &Memory{
		items: make(map[string]*list.Element, maxEntries),
		order: list.New(),
		max:   maxEntries,
		now:   time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get returns the entry stored under key.
func (m *Memory) Get(key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*Entry), true
}

// Set stores val under key. Replacing an existing key never evicts.
func (m *Memory) Set(key string, val json.RawMessage, ttl time.Duration) {
	m.insert(&Entry{Key: key, Value: val, CreatedAt: m.now(), TTL: ttl})
}

// Restore inserts e keeping its original CreatedAt.
func (m *Memory) Restore(e *Entry) {
	cp := *e
	m.insert(&cp)
}

func (m *Memory) insert(e *Entry) {
	var evicted string

	m.mu.Lock()
	if el, ok := m.items[e.Key]; ok {
		m.order.Remove(el)
		delete(m.items, e.Key)
	} else if len(m.items) >= m.max {
		oldest := m.order.Front()
		evicted = oldest.Value.(*Entry).Key
		m.order.Remove(oldest)
		delete(m.items, evicted)
	}
	m.items[e.Key] = m.insertOrdered(e)
	m.mu.Unlock()

	if evicted != "" && m.onEvict != nil {
		m.onEvict(evicted, EvictCapacity)
	}
}

// insertOrdered places e by CreatedAt. Fresh entries always land at the back,
// so the backwards scan only walks for restored ones.
func (m *Memory) insertOrdered(e *Entry) *list.Element {
	for el := m.order.Back(); el != nil; el = el.Prev() {
		if !el.Value.(*Entry).CreatedAt.After(e.CreatedAt) {
			return m.order.InsertAfter(e, el)
		}
	}
	return m.order.PushFront(e)
}

// Delete removes key from the store.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	if el, ok := m.items[key]; ok {
		m.order.Remove(el)
		delete(m.items, key)
	}
	m.mu.Unlock()
}

// Purge removes all entries.
func (m *Memory) Purge() {
	m.mu.Lock()
	m.items = make(map[string]*list.Element, m.max)
	m.order.Init()
	m.mu.Unlock()
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	n := len(m.items)
	m.mu.Unlock()
	return n
}

// Entries returns copies of all entries, oldest first.
func (m *Memory) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.items))
	for el := m.order.Front(); el != nil; el = el.Next() {
		cp := *el.Value.(*Entry)
		out = append(out, &cp)
	}
	return out
}

// Sweep drops entries older than olderThan. The order list is sorted by
// CreatedAt, so it stops at the first entry young enough to keep.
func (m *Memory) Sweep(olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)
	var removed []string

	m.mu.Lock()
	for el := m.order.Front(); el != nil; {
		e := el.Value.(*Entry)
		if !e.CreatedAt.Before(cutoff) {
			break
		}
		next := el.Next()
		m.order.Remove(el)
		delete(m.items, e.Key)
		removed = append(removed, e.Key)
		el = next
	}
	m.mu.Unlock()

	if m.onEvict != nil {
		for _, k := range removed {
			m.onEvict(k, EvictStale)
		}
	}
	return len(removed)
}
