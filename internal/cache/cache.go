// Package cache provides the entry stores backing the data cache.
package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached upstream payload.
type Entry struct {
	Key       string
	Value     json.RawMessage
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is no longer servable at now.
// An entry is fresh while now - CreatedAt < TTL.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// EvictReason says why a store dropped an entry on its own.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictStale    EvictReason = "stale"
)

// Store is the interface for entry storage. Implementations are safe for
// concurrent use and never perform I/O.
type Store interface {
	// Get returns the entry for key, fresh or not.
	Get(key string) (*Entry, bool)
	// Set stores val under key with the given TTL, stamped with the current time.
	Set(key string, val json.RawMessage, ttl time.Duration)
	// Restore inserts e as-is, keeping its CreatedAt.
	Restore(e *Entry)
	// Delete removes key. Deleting a missing key is a no-op.
	Delete(key string)
	// Purge removes all entries.
	Purge()
	// Len returns the number of stored entries, including stale ones.
	Len() int
	// Entries returns a snapshot of all stored entries.
	Entries() []*Entry
	// Sweep removes entries created more than olderThan ago and returns
	// how many were removed.
	Sweep(olderThan time.Duration) int
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*TinyLFU)(nil)
)
