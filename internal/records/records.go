// Package records persists logical records over the document store.
//
// A logical record whose encoded payload fits under the chunk limit is
// one physical row. Larger payloads become a chunk group: N chunk rows
// written first, then a header row (chunk_index -1, empty data) carrying
// the logical id. A reader therefore never sees a header whose chunks
// have not been written yet.
//
// Decode and reassembly problems never surface as errors. They degrade
// the read to codec.OutcomeRawFallback or codec.OutcomeUnavailable, and
// bulk listings skip unavailable records. Store errors are returned.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/fandomvelocity/internal/chunk"
	"github.com/roach88/fandomvelocity/internal/clock"
	"github.com/roach88/fandomvelocity/internal/codec"
	"github.com/roach88/fandomvelocity/internal/metrics"
	"github.com/roach88/fandomvelocity/internal/store"
)

// ErrInvalidRecord is returned by Write for records missing identity
// fields or carrying a payload that is not valid JSON.
var ErrInvalidRecord = errors.New("invalid record")

// LogicalRecord is a record as callers see it.
type LogicalRecord struct {
	ID         string          `json:"id"`
	DatasetID  string          `json:"datasetId"`
	RecordType string          `json:"recordType"`
	Platform   string          `json:"platform,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Materialized is the result of reading a logical record.
//
// On OutcomeRawFallback, Payload holds the stored bytes when they are
// valid JSON and Raw always holds them. On OutcomeUnavailable both are nil.
type Materialized struct {
	LogicalRecord
	Outcome codec.Outcome `json:"-"`
	Raw     []byte        `json:"-"`
}

// Available reports whether a payload could be produced at all.
func (m Materialized) Available() bool {
	return m.Outcome != codec.OutcomeUnavailable
}

// Filter narrows ReadMany. Zero values match everything.
type Filter struct {
	RecordType string
	Platform   string
	Limit      int // applied before unavailable records are dropped
}

// WriteResult describes how a record was laid out.
type WriteResult struct {
	ID           string            `json:"id"`
	Compression  codec.Compression `json:"compression"`
	Size         int               `json:"size"` // encoded bytes
	ChunkGroupID string            `json:"chunkGroupId,omitempty"`
	Chunks       int               `json:"chunks"` // 0 when stored as a single row
}

// RecordStore writes and materializes logical records.
type RecordStore struct {
	store        *store.Store
	codec        *codec.Codec
	maxChunkSize int
	ids          chunk.IDGenerator
	clock        clock.Clock
	logger       *slog.Logger
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithCodec sets the payload codec. Default: codec.New().
func WithCodec(c *codec.Codec) Option {
	return func(r *RecordStore) {
		r.codec = c
	}
}

// WithMaxChunkSize sets the largest encoded payload stored in one row.
//
// Default: chunk.DefaultMaxSize (14 MiB). Tests use small values to
// exercise chunking without megabyte payloads.
func WithMaxChunkSize(n int) Option {
	return func(r *RecordStore) {
		r.maxChunkSize = n
	}
}

// WithIDGenerator sets the chunk group id source.
func WithIDGenerator(g chunk.IDGenerator) Option {
	return func(r *RecordStore) {
		r.ids = g
	}
}

// WithClock sets the clock used for CreatedAt defaults and pruning.
func WithClock(c clock.Clock) Option {
	return func(r *RecordStore) {
		r.clock = c
	}
}

// WithLogger sets the logger for degraded-read warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *RecordStore) {
		r.logger = l
	}
}

// New creates a RecordStore over s.
func New(s *store.Store, opts ...Option) *RecordStore {
	r := &RecordStore{
		store:        s,
		codec:        codec.New(),
		maxChunkSize: chunk.DefaultMaxSize,
		ids:          chunk.UUIDv7Generator{},
		clock:        clock.Real(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write persists rec, replacing any previous record with the same id.
// The layout decision is made fresh on every write.
func (r *RecordStore) Write(ctx context.Context, rec LogicalRecord) (WriteResult, error) {
	if err := validate(rec); err != nil {
		return WriteResult{}, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.clock.Now()
	}

	enc, err := r.codec.Encode(rec.Payload)
	if err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", rec.ID, err)
	}

	prevGroup, err := r.existingGroup(ctx, rec.ID)
	if err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", rec.ID, err)
	}

	result := WriteResult{ID: rec.ID, Compression: enc.Compression, Size: len(enc.Data)}

	if !chunk.NeedsSplit(len(enc.Data), r.maxChunkSize) {
		if err := r.store.PutRecord(ctx, physical(rec, enc.Data, enc.Compression)); err != nil {
			return WriteResult{}, fmt.Errorf("write %s: %w", rec.ID, err)
		}
	} else {
		group, err := chunk.Split(r.ids.Generate(), enc.Data, r.maxChunkSize)
		if err != nil {
			return WriteResult{}, fmt.Errorf("write %s: %w", rec.ID, err)
		}

		// Chunks first, header last. Chunk rows carry the write time, not
		// the logical createdAt, so orphan pruning never sees a backdated
		// in-flight chunk as stale.
		writtenAt := r.clock.Now()
		for _, c := range group.Chunks {
			row := physical(rec, c.Data, enc.Compression)
			row.ID = chunkRowID(group.ID, c.Index)
			row.CreatedAt = writtenAt
			row.ChunkGroupID = group.ID
			row.ChunkIndex = c.Index
			row.ChunkTotal = c.Total
			if err := r.store.PutRecord(ctx, row); err != nil {
				return WriteResult{}, fmt.Errorf("write %s: chunk %d/%d: %w", rec.ID, c.Index, c.Total, err)
			}
		}

		header := physical(rec, []byte{}, enc.Compression)
		header.ChunkGroupID = group.ID
		header.ChunkIndex = chunk.HeaderIndex
		header.ChunkTotal = group.Total
		if err := r.store.PutRecord(ctx, header); err != nil {
			return WriteResult{}, fmt.Errorf("write %s: header: %w", rec.ID, err)
		}

		result.ChunkGroupID = group.ID
		result.Chunks = group.Total
		metrics.ChunkGroupWritten()
		r.logger.Debug("wrote chunk group",
			"record_id", rec.ID,
			"chunk_group", group.ID,
			"chunks", group.Total,
			"bytes", len(enc.Data))
	}

	// The old group is unreachable once the new row is in place.
	if prevGroup != "" && prevGroup != result.ChunkGroupID {
		if _, err := r.store.DeleteChunkGroup(ctx, prevGroup); err != nil {
			r.logger.Warn("failed to remove replaced chunk group",
				"record_id", rec.ID,
				"chunk_group", prevGroup,
				"error", err)
		}
	}

	return result, nil
}

// Read materializes one logical record. Returns store.ErrNotFound if no
// record with that id exists; chunk rows are not addressable.
func (r *RecordStore) Read(ctx context.Context, id string) (Materialized, error) {
	row, err := r.store.GetRecord(ctx, id)
	if err != nil {
		return Materialized{}, fmt.Errorf("read %s: %w", id, err)
	}
	if row.IsChunked() && row.ChunkIndex != chunk.HeaderIndex {
		return Materialized{}, fmt.Errorf("read %s: %w", id, store.ErrNotFound)
	}
	return r.materialize(ctx, row)
}

// ReadMany materializes a dataset's records in (createdAt, id) order.
// Unavailable records are logged and left out.
func (r *RecordStore) ReadMany(ctx context.Context, datasetID string, f Filter) ([]Materialized, error) {
	rows, err := r.store.ListRecords(ctx, store.RecordQuery{
		DatasetID:  datasetID,
		RecordType: f.RecordType,
		Platform:   f.Platform,
		Limit:      f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", datasetID, err)
	}

	out := make([]Materialized, 0, len(rows))
	for _, row := range rows {
		m, err := r.materialize(ctx, row)
		if err != nil {
			return nil, fmt.Errorf("read dataset %s: %w", datasetID, err)
		}
		if !m.Available() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Delete removes a logical record and its chunks.
// Returns false if it did not exist.
func (r *RecordStore) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := r.store.DeleteRecord(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return deleted, nil
}

// PruneOrphanChunks removes chunk rows with no header that are older
// than olderThan. Younger orphans may belong to a write in progress.
func (r *RecordStore) PruneOrphanChunks(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := r.store.DeleteOrphanChunks(ctx, r.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune orphan chunks: %w", err)
	}
	if n > 0 {
		r.logger.Info("pruned orphan chunks", "rows", n)
	}
	return n, nil
}

func (r *RecordStore) materialize(ctx context.Context, row store.PhysicalRecord) (Materialized, error) {
	m := Materialized{LogicalRecord: LogicalRecord{
		ID:         row.ID,
		DatasetID:  row.DatasetID,
		RecordType: row.RecordType,
		Platform:   row.Platform,
		CreatedAt:  row.CreatedAt,
	}}

	data := row.Data
	if row.IsChunked() {
		rows, err := r.store.ListChunks(ctx, row.ChunkGroupID)
		if err != nil {
			return Materialized{}, err
		}
		chunks := make([]chunk.Chunk, len(rows))
		for i, c := range rows {
			chunks[i] = chunk.Chunk{GroupID: c.ChunkGroupID, Index: c.ChunkIndex, Total: c.ChunkTotal, Data: c.Data}
		}

		data, err = chunk.Reassemble(row.ChunkGroupID, row.ChunkTotal, chunks)
		if err != nil {
			r.logger.Warn("record unavailable",
				"record_id", row.ID,
				"chunk_group", row.ChunkGroupID,
				"error", err)
			metrics.DegradedRead(codec.OutcomeUnavailable.String())
			m.Outcome = codec.OutcomeUnavailable
			return m, nil
		}
	}

	res := r.codec.Decode(data, codec.Compression(row.Compression))
	m.Outcome = res.Outcome
	switch res.Outcome {
	case codec.OutcomeDecoded:
		m.Payload = json.RawMessage(res.Payload)
	case codec.OutcomeRawFallback:
		r.logger.Warn("degraded read",
			"record_id", row.ID,
			"compression", row.Compression,
			"error", res.Err)
		metrics.DegradedRead(res.Outcome.String())
		m.Raw = res.Payload
		if json.Valid(res.Payload) {
			m.Payload = json.RawMessage(res.Payload)
		}
	}
	return m, nil
}

func (r *RecordStore) existingGroup(ctx context.Context, id string) (string, error) {
	prev, err := r.store.GetRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return prev.ChunkGroupID, nil
}

func validate(rec LogicalRecord) error {
	switch {
	case rec.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	case rec.DatasetID == "":
		return fmt.Errorf("%w: dataset id is required", ErrInvalidRecord)
	case rec.RecordType == "":
		return fmt.Errorf("%w: record type is required", ErrInvalidRecord)
	case !json.Valid(rec.Payload):
		return fmt.Errorf("%w: payload of %s is not valid JSON", ErrInvalidRecord, rec.ID)
	}
	return nil
}

func physical(rec LogicalRecord, data []byte, c codec.Compression) store.PhysicalRecord {
	return store.PhysicalRecord{
		ID:          rec.ID,
		DatasetID:   rec.DatasetID,
		RecordType:  rec.RecordType,
		Platform:    rec.Platform,
		Data:        data,
		Compression: string(c),
		CreatedAt:   rec.CreatedAt,
	}
}

func chunkRowID(groupID string, index int) string {
	return groupID + ":" + strconv.Itoa(index)
}
