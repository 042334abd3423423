// Package ttlcache is a durable expiring key/value cache.
//
// Entries live in the document store partitioned by namespace, so several
// caches share one table without seeing each other's keys. Values are
// JSON encoded. An entry is either live or absent: Get on an expired key
// is a miss, and nothing stale is ever returned.
package ttlcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fandomvelocity/internal/clock"
	"github.com/roach88/fandomvelocity/internal/metrics"
	"github.com/roach88/fandomvelocity/internal/store"
)

const (
	// ProfileTTL is the fixed retention of the profile cache.
	ProfileTTL = 7 * 24 * time.Hour

	// DefaultResponseTTL is the response cache retention unless overridden.
	DefaultResponseTTL = 24 * time.Hour
)

// Namespaces used by the preset caches.
const (
	NamespaceProfile  = "profile"
	NamespaceResponse = "response"
)

// Cache is an expiring cache of V values in one namespace.
type Cache[V any] struct {
	store      *store.Store
	namespace  string
	defaultTTL time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock sets the clock used for expiry.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a cache over s for namespace. defaultTTL applies to
// Set calls with a zero TTL and must be positive.
func New[V any](s *store.Store, namespace string, defaultTTL time.Duration, opts ...Option) (*Cache[V], error) {
	if namespace == "" {
		return nil, fmt.Errorf("ttlcache: namespace is required")
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("ttlcache %s: default ttl must be positive, got %s", namespace, defaultTTL)
	}

	o := options{clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[V]{
		store:      s,
		namespace:  namespace,
		defaultTTL: defaultTTL,
		clock:      o.clock,
		logger:     o.logger,
	}, nil
}

// NewProfileCache returns the 7-day profile cache.
func NewProfileCache[V any](s *store.Store, opts ...Option) *Cache[V] {
	c, err := New[V](s, NamespaceProfile, ProfileTTL, opts...)
	if err != nil {
		panic(err) // constant arguments
	}
	return c
}

// NewResponseCache returns the response memoization cache. A zero ttl
// selects DefaultResponseTTL.
func NewResponseCache[V any](s *store.Store, ttl time.Duration, opts ...Option) (*Cache[V], error) {
	if ttl == 0 {
		ttl = DefaultResponseTTL
	}
	return New[V](s, NamespaceResponse, ttl, opts...)
}

// Namespace returns the cache's namespace.
func (c *Cache[V]) Namespace() string {
	return c.namespace
}

// Get returns the live value for key.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	entry, err := c.store.GetCacheEntry(ctx, c.namespace, key)
	if errors.Is(err, store.ErrNotFound) {
		metrics.CacheMiss(c.namespace)
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("ttlcache %s get: %w", c.namespace, err)
	}

	if !c.clock.Now().Before(entry.ExpiresAt) {
		metrics.CacheMiss(c.namespace)
		return zero, false, nil
	}

	var v V
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		c.logger.Warn("dropping undecodable cache entry",
			"namespace", c.namespace,
			"key", key,
			"error", err)
		if err := c.store.DeleteCacheEntry(ctx, c.namespace, key); err != nil {
			return zero, false, fmt.Errorf("ttlcache %s get: %w", c.namespace, err)
		}
		metrics.CacheMiss(c.namespace)
		return zero, false, nil
	}

	metrics.CacheHit(c.namespace)
	return v, true, nil
}

// Set stores value under key for ttl. A zero ttl uses the cache default.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("ttlcache %s set: negative ttl %s", c.namespace, ttl)
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ttlcache %s set: %w", c.namespace, err)
	}

	now := c.clock.Now()
	if err := c.store.PutCacheEntry(ctx, store.CacheEntry{
		Namespace: c.namespace,
		Key:       key,
		Value:     b,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}); err != nil {
		return fmt.Errorf("ttlcache %s set: %w", c.namespace, err)
	}
	return nil
}

// SetHours is Set with a TTL in whole hours.
func (c *Cache[V]) SetHours(ctx context.Context, key string, value V, ttlHours int) error {
	return c.Set(ctx, key, value, time.Duration(ttlHours)*time.Hour)
}

// Invalidate deletes the entries for which match returns true, or every
// entry when match is nil. Entries that cannot be decoded are deleted
// too. Returns the number of entries removed.
func (c *Cache[V]) Invalidate(ctx context.Context, match func(key string, value V) bool) (int, error) {
	entries, err := c.store.ListCacheEntries(ctx, c.namespace)
	if err != nil {
		return 0, fmt.Errorf("ttlcache %s invalidate: %w", c.namespace, err)
	}

	removed := 0
	for _, e := range entries {
		if match != nil {
			var v V
			if err := json.Unmarshal(e.Value, &v); err == nil && !match(e.Key, v) {
				continue
			}
		}
		if err := c.store.DeleteCacheEntry(ctx, c.namespace, e.Key); err != nil {
			return removed, fmt.Errorf("ttlcache %s invalidate: %w", c.namespace, err)
		}
		removed++
	}
	return removed, nil
}

// Sweep deletes expired entries and returns how many were removed.
func (c *Cache[V]) Sweep(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteExpiredCacheEntries(ctx, c.namespace, c.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("ttlcache %s sweep: %w", c.namespace, err)
	}
	c.logger.Info("cache sweep", "namespace", c.namespace, "removed", n)
	return n, nil
}
