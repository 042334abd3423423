package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PhysicalRecord is the unit persisted in the records table.
//
// A row with an empty ChunkGroupID is a standalone record. A row with a
// ChunkGroupID is either a header (ChunkIndex = -1) or a chunk
// (ChunkIndex >= 0).
type PhysicalRecord struct {
	ID           string
	DatasetID    string
	RecordType   string
	Platform     string
	Data         []byte
	Compression  string // "" for legacy untagged rows
	ChunkGroupID string
	ChunkIndex   int
	ChunkTotal   int
	CreatedAt    time.Time // write time on chunk rows
}

// IsChunked reports whether the record belongs to a chunk group.
func (r PhysicalRecord) IsChunked() bool {
	return r.ChunkGroupID != ""
}

// RecordQuery filters ListRecords.
type RecordQuery struct {
	DatasetID  string
	RecordType string // optional
	Platform   string // optional
	Limit      int    // 0 = no limit
}

// PutRecord inserts or fully replaces a physical record.
// A single PutRecord is atomic; groups of PutRecord calls are not.
func (s *Store) PutRecord(ctx context.Context, rec PhysicalRecord) error {
	if len(rec.Data) > MaxRecordSize {
		return fmt.Errorf("put record %s: %w (%d bytes)", rec.ID, ErrRecordTooLarge, len(rec.Data))
	}

	var groupID, compression sql.NullString
	var index, total sql.NullInt64
	if rec.Compression != "" {
		compression = sql.NullString{String: rec.Compression, Valid: true}
	}
	if rec.IsChunked() {
		groupID = sql.NullString{String: rec.ChunkGroupID, Valid: true}
		index = sql.NullInt64{Int64: int64(rec.ChunkIndex), Valid: true}
		total = sql.NullInt64{Int64: int64(rec.ChunkTotal), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records
		(id, dataset_id, record_type, platform, data, compression, chunk_group_id, chunk_index, chunk_total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dataset_id = excluded.dataset_id,
			record_type = excluded.record_type,
			platform = excluded.platform,
			data = excluded.data,
			compression = excluded.compression,
			chunk_group_id = excluded.chunk_group_id,
			chunk_index = excluded.chunk_index,
			chunk_total = excluded.chunk_total,
			created_at = excluded.created_at
	`,
		rec.ID,
		rec.DatasetID,
		rec.RecordType,
		rec.Platform,
		rec.Data,
		compression,
		groupID,
		index,
		total,
		toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

const recordColumns = `id, dataset_id, record_type, platform, data, compression, chunk_group_id, chunk_index, chunk_total, created_at`

// GetRecord retrieves a physical record by id.
// Returns ErrNotFound if no row exists.
func (s *Store) GetRecord(ctx context.Context, id string) (PhysicalRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PhysicalRecord{}, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return PhysicalRecord{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// ListChunks returns the chunk rows of a group ordered by chunk_index.
// The header row is excluded. Returns an empty slice if none exist.
func (s *Store) ListChunks(ctx context.Context, groupID string) ([]PhysicalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE chunk_group_id = ? AND chunk_index >= 0
		ORDER BY chunk_index ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return collectRecords(rows)
}

// ListRecords returns standalone and header rows of a dataset with
// deterministic ordering. Chunk rows are never listed.
func (s *Store) ListRecords(ctx context.Context, q RecordQuery) ([]PhysicalRecord, error) {
	var where []string
	var args []any

	where = append(where, "dataset_id = ?", "(chunk_index IS NULL OR chunk_index < 0)")
	args = append(args, q.DatasetID)
	if q.RecordType != "" {
		where = append(where, "record_type = ?")
		args = append(args, q.RecordType)
	}
	if q.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, q.Platform)
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at ASC, id COLLATE BINARY ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return collectRecords(rows)
}

// DeleteRecord removes a record and, when it is a chunk group header,
// every chunk of its group. Returns false if the record did not exist.
func (s *Store) DeleteRecord(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete record: begin tx: %w", err)
	}
	defer tx.Rollback()

	var groupID sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT chunk_group_id FROM records WHERE id = ?`, id).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete record: lookup: %w", err)
	}

	if groupID.Valid {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM records WHERE chunk_group_id = ? AND chunk_index >= 0
		`, groupID.String); err != nil {
			return false, fmt.Errorf("delete record: chunks: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete record: commit: %w", err)
	}
	return true, nil
}

// DeleteChunkGroup removes every chunk row of a group, leaving any
// header in place. Returns the number of rows removed.
func (s *Store) DeleteChunkGroup(ctx context.Context, groupID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE chunk_group_id = ? AND chunk_index >= 0
	`, groupID)
	if err != nil {
		return 0, fmt.Errorf("delete chunk group %s: %w", groupID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete chunk group %s: rows affected: %w", groupID, err)
	}
	return n, nil
}

// DeleteOrphanChunks removes chunk rows created before cutoff whose
// group has no header. Chunk rows are stamped with their write time, so
// the cutoff keeps in-flight writes (chunks persisted, header not yet)
// out of reach.
func (s *Store) DeleteOrphanChunks(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM records
		WHERE chunk_index >= 0
		  AND created_at < ?
		  AND chunk_group_id NOT IN (
			SELECT chunk_group_id FROM records
			WHERE chunk_index = -1 AND chunk_group_id IS NOT NULL
		  )
	`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete orphan chunks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete orphan chunks: rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (PhysicalRecord, error) {
	var rec PhysicalRecord
	var compression, groupID sql.NullString
	var index, total sql.NullInt64
	var createdAt int64

	if err := row.Scan(
		&rec.ID, &rec.DatasetID, &rec.RecordType, &rec.Platform, &rec.Data,
		&compression, &groupID, &index, &total, &createdAt,
	); err != nil {
		return PhysicalRecord{}, err
	}

	rec.Compression = compression.String
	rec.ChunkGroupID = groupID.String
	rec.ChunkIndex = int(index.Int64)
	rec.ChunkTotal = int(total.Int64)
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]PhysicalRecord, error) {
	defer rows.Close()

	records := []PhysicalRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
