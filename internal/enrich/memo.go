package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fandomvelocity/internal/fingerprint"
	"github.com/roach88/fandomvelocity/internal/ttlcache"
)

// Analyzer is an external model that turns an input document into a
// response document.
type Analyzer interface {
	Analyze(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return f(ctx, input)
}

// ResponseMemo memoizes an Analyzer by the fingerprint of its input.
// Inputs that differ only in key order or number spelling share a
// cache entry. ResponseMemo is itself an Analyzer.
type ResponseMemo struct {
	analyzer  Analyzer
	cache     *ttlcache.Cache[json.RawMessage]
	operation string
	ttl       time.Duration
	logger    *slog.Logger
}

// MemoOption configures a ResponseMemo.
type MemoOption func(*ResponseMemo)

// WithMemoTTL overrides the cache's default TTL for stored responses.
func WithMemoTTL(d time.Duration) MemoOption {
	return func(m *ResponseMemo) {
		m.ttl = d
	}
}

// WithMemoLogger sets the logger.
func WithMemoLogger(l *slog.Logger) MemoOption {
	return func(m *ResponseMemo) {
		m.logger = l
	}
}

// NewResponseMemo wraps analyzer. operation scopes fingerprints so two
// analyzers sharing a cache never see each other's responses.
func NewResponseMemo(analyzer Analyzer, cache *ttlcache.Cache[json.RawMessage], operation string, opts ...MemoOption) *ResponseMemo {
	m := &ResponseMemo{
		analyzer:  analyzer,
		cache:     cache,
		operation: operation,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Analyze returns the cached response for input, or calls the wrapped
// analyzer and caches its response. Analyzer errors are not cached.
func (m *ResponseMemo) Analyze(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	fp, err := fingerprint.Compute(m.operation, input)
	if err != nil {
		return nil, fmt.Errorf("memo %s: %w", m.operation, err)
	}

	if cached, ok, err := m.cache.Get(ctx, fp); err != nil {
		return nil, fmt.Errorf("memo %s: %w", m.operation, err)
	} else if ok {
		return cached, nil
	}

	out, err := m.analyzer.Analyze(ctx, input)
	if err != nil {
		return nil, err
	}
	if !json.Valid(out) {
		return nil, fmt.Errorf("memo %s: analyzer returned invalid JSON", m.operation)
	}

	if err := m.cache.Set(ctx, fp, out, m.ttl); err != nil {
		// The response is still good; only memoization failed.
		m.logger.Warn("failed to cache analyzer response", "operation", m.operation, "error", err)
	}
	return out, nil
}
