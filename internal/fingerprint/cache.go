package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fandomvelocity/internal/clock"
	"github.com/roach88/fandomvelocity/internal/codec"
	"github.com/roach88/fandomvelocity/internal/metrics"
	"github.com/roach88/fandomvelocity/internal/store"
)

// DefaultRetention applies to entries stored without a TTL.
const DefaultRetention = 30 * 24 * time.Hour

// StatusCompleted is the status recorded when Put is given none.
const StatusCompleted = "completed"

// Entry is a live cache entry.
type Entry struct {
	Fingerprint string
	Operation   string
	Status      string
	Result      json.RawMessage
	Metadata    map[string]string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// Record is what Put stores.
type Record struct {
	Operation string
	Status    string // default StatusCompleted
	Result    json.RawMessage
	Metadata  map[string]string
	TTL       time.Duration // 0 = default retention
}

// Cache is a content-addressed result cache.
type Cache struct {
	store     *store.Store
	codec     *codec.Codec
	clock     clock.Clock
	retention time.Duration
	logger    *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for expiry.
func WithClock(c clock.Clock) Option {
	return func(fc *Cache) {
		fc.clock = c
	}
}

// WithRetention sets the lifetime of entries stored without a TTL.
func WithRetention(d time.Duration) Option {
	return func(fc *Cache) {
		fc.retention = d
	}
}

// WithCodec sets the codec used for stored results.
func WithCodec(c *codec.Codec) Option {
	return func(fc *Cache) {
		fc.codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(fc *Cache) {
		fc.logger = l
	}
}

// NewCache creates a Cache over s.
func NewCache(s *store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:     s,
		codec:     codec.New(),
		clock:     clock.Real(),
		retention: DefaultRetention,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live entry for fp. ok is false on a miss, including
// when the stored entry has expired or its result cannot be decoded.
func (c *Cache) Get(ctx context.Context, fp string) (Entry, bool, error) {
	row, err := c.store.GetFingerprint(ctx, fp)
	if errors.Is(err, store.ErrNotFound) {
		metrics.CacheMiss(metrics.CacheFingerprint)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("fingerprint get: %w", err)
	}

	now := c.clock.Now()
	if c.expired(row, now) {
		if _, err := c.store.DeleteFingerprintIfUnchanged(ctx, fp, row.Version); err != nil {
			return Entry{}, false, fmt.Errorf("fingerprint evict: %w", err)
		}
		metrics.CacheMiss(metrics.CacheFingerprint)
		return Entry{}, false, nil
	}

	res := c.codec.Decode(row.Result, codec.Compression(row.Compression))
	if res.Outcome != codec.OutcomeDecoded && !json.Valid(res.Payload) {
		c.logger.Warn("unreadable fingerprint result",
			"fingerprint", fp,
			"outcome", res.Outcome.String(),
			"error", res.Err)
		metrics.CacheMiss(metrics.CacheFingerprint)
		return Entry{}, false, nil
	}

	entry := Entry{
		Fingerprint: row.Fingerprint,
		Operation:   row.Operation,
		Status:      row.Status,
		Result:      json.RawMessage(res.Payload),
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}
	if row.Metadata != "" && row.Metadata != "{}" {
		if err := json.Unmarshal([]byte(row.Metadata), &entry.Metadata); err != nil {
			c.logger.Warn("ignoring malformed fingerprint metadata", "fingerprint", fp, "error", err)
			entry.Metadata = nil
		}
	}

	metrics.CacheHit(metrics.CacheFingerprint)
	return entry, true, nil
}

// Put stores rec under fp, replacing any existing entry.
func (c *Cache) Put(ctx context.Context, fp string, rec Record) error {
	if fp == "" {
		return fmt.Errorf("fingerprint put: fingerprint is required")
	}
	if rec.TTL < 0 {
		return fmt.Errorf("fingerprint put: negative ttl %s", rec.TTL)
	}
	if rec.Result != nil && !json.Valid(rec.Result) {
		return fmt.Errorf("fingerprint put: result is not valid JSON")
	}

	enc, err := c.codec.Encode(rec.Result)
	if err != nil {
		return fmt.Errorf("fingerprint put: %w", err)
	}

	metadata := "{}"
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("fingerprint put: metadata: %w", err)
		}
		metadata = string(b)
	}

	status := rec.Status
	if status == "" {
		status = StatusCompleted
	}

	now := c.clock.Now()
	row := store.FingerprintRow{
		Fingerprint: fp,
		Operation:   rec.Operation,
		Status:      status,
		Result:      enc.Data,
		Compression: string(enc.Compression),
		Metadata:    metadata,
		CreatedAt:   now,
	}
	if rec.TTL > 0 {
		expires := now.Add(rec.TTL)
		row.ExpiresAt = &expires
	}

	if err := c.store.PutFingerprint(ctx, row); err != nil {
		return fmt.Errorf("fingerprint put: %w", err)
	}
	return nil
}

// GetOrCompute returns the cached result for fp, or runs compute and
// stores its result with ttl. hit reports whether compute was skipped.
// A compute error is returned as is and nothing is stored.
//
// Concurrent callers that miss at the same time each run compute; the
// last Put wins.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	fp, operation string,
	ttl time.Duration,
	compute func(context.Context) (json.RawMessage, error),
) (result json.RawMessage, hit bool, err error) {
	entry, ok, err := c.Get(ctx, fp)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return entry.Result, true, nil
	}

	result, err = compute(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(ctx, fp, Record{Operation: operation, Result: result, TTL: ttl}); err != nil {
		return nil, false, err
	}
	return result, false, nil
}

// Sweep deletes every expired entry and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteExpiredFingerprints(ctx, c.clock.Now(), c.retention)
	if err != nil {
		return 0, fmt.Errorf("fingerprint sweep: %w", err)
	}
	c.logger.Info("fingerprint sweep", "removed", n)
	return n, nil
}

func (c *Cache) expired(row store.FingerprintRow, now time.Time) bool {
	if row.ExpiresAt != nil {
		return !now.Before(*row.ExpiresAt)
	}
	return !now.Before(row.CreatedAt.Add(c.retention))
}
