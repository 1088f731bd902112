package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// TinyLFU is an in-memory W-TinyLFU store backed by otter. It trades the
// strict oldest-first eviction of Memory for better hit rates on skewed
// dashboard traffic. Entries older than maxAge are dropped by otter itself.
type TinyLFU struct {
	cache *otter.Cache[string, *Entry]
}

// NewTinyLFU creates a TinyLFU store with the given max entry count.
// maxAge bounds how long any entry may live regardless of its TTL.
func NewTinyLFU(maxSize int, maxAge time.Duration) (*TinyLFU, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	c, err := otter.New[string, *Entry](&otter.Options[string, *Entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, *Entry](maxAge),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &TinyLFU{cache: c}, nil
}

// Get returns the entry stored under key.
func (t *TinyLFU) Get(key string) (*Entry, bool) {
	return t.cache.GetIfPresent(key)
}

// Set stores val under key with per-entry TTL.
func (t *TinyLFU) Set(key string, val json.RawMessage, ttl time.Duration) {
	t.cache.Set(key, &Entry{
		Key:       key,
		Value:     val,
		CreatedAt: time.Now(),
		TTL:       ttl,
	})
}

// Restore inserts e keeping its original CreatedAt.
func (t *TinyLFU) Restore(e *Entry) {
	cp := *e
	t.cache.Set(cp.Key, &cp)
}

// Delete removes key from the store.
func (t *TinyLFU) Delete(key string) {
	t.cache.Invalidate(key)
}

// Purge removes all entries.
func (t *TinyLFU) Purge() {
	t.cache.InvalidateAll()
}

// Len returns otter's estimate of the entry count.
func (t *TinyLFU) Len() int {
	return t.cache.EstimatedSize()
}

// Entries returns copies of all entries.
func (t *TinyLFU) Entries() []*Entry {
	var out []*Entry
	for _, e := range t.cache.All() {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// Sweep drops entries older than olderThan.
func (t *TinyLFU) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	var stale []string
	for k, e := range t.cache.All() {
		if e.CreatedAt.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		t.cache.Invalidate(k)
	}
	return len(stale)
}
