package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eugener/depot/internal/cache"
	"github.com/eugener/depot/internal/storage"
)

// AdminTokenPrefix marks generated admin tokens.
const AdminTokenPrefix = "dpt_"

// Restorer accepts entries loaded from a snapshot. *datacache.Cache
// implements it.
type Restorer interface {
	Restore(entries []*cache.Entry) int
}

// Bootstrap warms dst from the snapshot in store. Entries that belong to a
// source no longer present in cfg are dropped; dst discards expired ones.
// It returns how many entries were restored.
func Bootstrap(ctx context.Context, cfg *Config, store storage.SnapshotStore, dst Restorer) (int, error) {
	entries, err := store.LoadEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}

	known := make(map[string]bool, len(cfg.Sources))
	for _, s := range cfg.Sources {
		known[s.Name] = true
	}
	kept := entries[:0]
	for _, e := range entries {
		if known[SourceOfKey(e.Key)] {
			kept = append(kept, e)
		}
	}

	n := dst.Restore(kept)
	slog.Info("cache restored from snapshot",
		"restored", n,
		"dropped", len(entries)-n,
	)
	return n, nil
}

// SourceOfKey returns the source name a cache key was built from.
func SourceOfKey(key string) string {
	name, _, _ := strings.Cut(key, ":")
	return name
}

// GenerateAdminToken creates a random admin token and returns the plaintext.
func GenerateAdminToken() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return AdminTokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
