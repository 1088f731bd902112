// Package storage defines persistence interfaces for depot.
package storage

import (
	"context"

	"github.com/eugener/depot/internal/cache"
)

// SnapshotStore persists cache entries so a restarted process can warm its
// cache. It is not a cache tier: nothing is read from it after startup.
type SnapshotStore interface {
	// SaveEntries replaces the stored snapshot with entries.
	SaveEntries(ctx context.Context, entries []*cache.Entry) error
	// LoadEntries returns the stored snapshot, oldest first.
	LoadEntries(ctx context.Context) ([]*cache.Entry, error)
}

// Store combines all storage interfaces.
type Store interface {
	SnapshotStore
	Ping(ctx context.Context) error
	Close() error
}
