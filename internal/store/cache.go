package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheEntry is a namespaced expiring key/value row.
type CacheEntry struct {
	Namespace string
	Key       string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PutCacheEntry inserts or replaces an entry.
func (s *Store) PutCacheEntry(ctx context.Context, e CacheEntry) error {
	if len(e.Value) > MaxRecordSize {
		return fmt.Errorf("put cache entry %s/%s: %w", e.Namespace, e.Key, ErrRecordTooLarge)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ttl_cache (namespace, key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, e.Namespace, e.Key, e.Value, toMillis(e.CreatedAt), toMillis(e.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put cache entry %s/%s: %w", e.Namespace, e.Key, err)
	}
	return nil
}

// GetCacheEntry retrieves an entry regardless of expiry.
// Returns ErrNotFound if no row exists.
func (s *Store) GetCacheEntry(ctx context.Context, namespace, key string) (CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, key, value, created_at, expires_at
		FROM ttl_cache
		WHERE namespace = ? AND key = ?
	`, namespace, key)

	e, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, fmt.Errorf("get cache entry: %w", ErrNotFound)
	}
	if err != nil {
		return CacheEntry{}, fmt.Errorf("get cache entry: %w", err)
	}
	return e, nil
}

// ListCacheEntries returns every entry of a namespace ordered by key.
func (s *Store) ListCacheEntries(ctx context.Context, namespace string) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, key, value, created_at, expires_at
		FROM ttl_cache
		WHERE namespace = ?
		ORDER BY key COLLATE BINARY ASC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	entries := []CacheEntry{}
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return entries, nil
}

// DeleteCacheEntry removes an entry. Deleting a missing key is not an error.
func (s *Store) DeleteCacheEntry(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM ttl_cache WHERE namespace = ? AND key = ?
	`, namespace, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteExpiredCacheEntries removes entries of a namespace with
// expires_at <= now. An empty namespace sweeps every namespace.
func (s *Store) DeleteExpiredCacheEntries(ctx context.Context, namespace string, now time.Time) (int64, error) {
	query := `DELETE FROM ttl_cache WHERE expires_at <= ?`
	args := []any{toMillis(now)}
	if namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, namespace)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: rows affected: %w", err)
	}
	return n, nil
}

func scanCacheEntry(row rowScanner) (CacheEntry, error) {
	var e CacheEntry
	var createdAt, expiresAt int64
	if err := row.Scan(&e.Namespace, &e.Key, &e.Value, &createdAt, &expiresAt); err != nil {
		return CacheEntry{}, err
	}
	e.CreatedAt = fromMillis(createdAt)
	e.ExpiresAt = fromMillis(expiresAt)
	return e, nil
}
