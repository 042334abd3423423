package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FingerprintRow is a persisted fingerprint cache entry.
type FingerprintRow struct {
	Fingerprint string
	Operation   string
	Status      string
	Result      []byte
	Compression string
	Metadata    string // JSON object
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Version     int64 // set by the store; ignored by PutFingerprint
}

// PutFingerprint inserts or fully replaces a fingerprint entry.
func (s *Store) PutFingerprint(ctx context.Context, row FingerprintRow) error {
	if len(row.Result) > MaxRecordSize {
		return fmt.Errorf("put fingerprint %s: %w", row.Fingerprint, ErrRecordTooLarge)
	}
	metadata := row.Metadata
	if metadata == "" {
		metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fingerprints
		(fingerprint, operation, status, result, compression, metadata, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			operation = excluded.operation,
			status = excluded.status,
			result = excluded.result,
			compression = excluded.compression,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			version = fingerprints.version + 1
	`,
		row.Fingerprint,
		row.Operation,
		row.Status,
		row.Result,
		row.Compression,
		metadata,
		toMillis(row.CreatedAt),
		nullMillis(row.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put fingerprint %s: %w", row.Fingerprint, err)
	}
	return nil
}

// GetFingerprint retrieves a fingerprint entry regardless of expiry.
// Returns ErrNotFound if no row exists.
func (s *Store) GetFingerprint(ctx context.Context, fingerprint string) (FingerprintRow, error) {
	var row FingerprintRow
	var createdAt int64
	var expiresAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, operation, status, result, compression, metadata, created_at, expires_at, version
		FROM fingerprints
		WHERE fingerprint = ?
	`, fingerprint).Scan(
		&row.Fingerprint, &row.Operation, &row.Status, &row.Result,
		&row.Compression, &row.Metadata, &createdAt, &expiresAt, &row.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return FingerprintRow{}, fmt.Errorf("get fingerprint: %w", ErrNotFound)
	}
	if err != nil {
		return FingerprintRow{}, fmt.Errorf("get fingerprint: %w", err)
	}

	row.CreatedAt = fromMillis(createdAt)
	row.ExpiresAt = fromNullMillis(expiresAt)
	return row, nil
}

// DeleteFingerprintIfUnchanged evicts an entry only if it is still at
// the given version. A concurrent Put that replaced the entry wins, even
// within the same millisecond.
func (s *Store) DeleteFingerprintIfUnchanged(ctx context.Context, fingerprint string, version int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM fingerprints WHERE fingerprint = ? AND version = ?
	`, fingerprint, version)
	if err != nil {
		return false, fmt.Errorf("delete fingerprint: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete fingerprint: rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteExpiredFingerprints removes entries whose explicit expiry has
// passed, and entries without expiry older than the default retention.
func (s *Store) DeleteExpiredFingerprints(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM fingerprints
		WHERE (expires_at IS NOT NULL AND expires_at <= ?)
		   OR (expires_at IS NULL AND created_at <= ?)
	`, toMillis(now), toMillis(now.Add(-retention)))
	if err != nil {
		return 0, fmt.Errorf("delete expired fingerprints: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired fingerprints: rows affected: %w", err)
	}
	return n, nil
}
