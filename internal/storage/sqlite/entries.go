package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/eugener/depot/internal/cache"
)

// SaveEntries replaces the snapshot with entries in a single transaction.
func (s *Store) SaveEntries(ctx context.Context, entries []*cache.Entry) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_entries (key, value, created_at, ttl_ms) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Key, []byte(e.Value), e.CreatedAt.UnixNano(), e.TTL.Milliseconds()); err != nil {
			return fmt.Errorf("insert %q: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// LoadEntries returns the stored snapshot ordered by creation time.
func (s *Store) LoadEntries(ctx context.Context) ([]*cache.Entry, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT key, value, created_at, ttl_ms FROM cache_entries ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cache.Entry
	for rows.Next() {
		var (
			e       cache.Entry
			value   []byte
			created int64
			ttlMs   int64
		)
		if err := rows.Scan(&e.Key, &value, &created, &ttlMs); err != nil {
			return nil, err
		}
		e.Value = value
		e.CreatedAt = time.Unix(0, created)
		e.TTL = time.Duration(ttlMs) * time.Millisecond
		out = append(out, &e)
	}
	return out, rows.Err()
}
