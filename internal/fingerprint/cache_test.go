package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fandomvelocity/internal/store"
	"github.com/roach88/fandomvelocity/internal/testutil"
)

func newTestCache(t *testing.T, opts ...Option) (*Cache, *store.Store, *testutil.FakeClock) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := testutil.NewDefaultFakeClock()
	base := []Option{WithClock(clk), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	return NewCache(s, append(base, opts...)...), s, clk
}

func TestCache_PutThenGet(t *testing.T) {
	c, _, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "fp", Record{
		Operation: "enrich",
		Result:    json.RawMessage(`{"followers":42}`),
		Metadata:  map[string]string{"source": "test"},
		TTL:       time.Hour,
	}))

	entry, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"followers":42}`, string(entry.Result))
	assert.Equal(t, StatusCompleted, entry.Status)
	assert.Equal(t, "enrich", entry.Operation)
	assert.Equal(t, map[string]string{"source": "test"}, entry.Metadata)
	require.NotNil(t, entry.ExpiresAt)
	assert.Equal(t, clk.Now().Add(time.Hour), *entry.ExpiresAt)
}

func TestCache_Miss(t *testing.T) {
	c, _, _ := newTestCache(t)

	_, ok, err := c.Get(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_ExplicitTTLExpiryEvicts(t *testing.T) {
	c, s, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "fp", Record{Result: json.RawMessage(`1`), TTL: time.Hour}))

	clk.Advance(59 * time.Minute)
	_, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(time.Minute)
	_, ok, err = c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok, "expiry is exclusive")

	_, err = s.GetFingerprint(ctx, "fp")
	assert.ErrorIs(t, err, store.ErrNotFound, "expired read evicts")

	// A later put overwrites cleanly.
	require.NoError(t, c.Put(ctx, "fp", Record{Result: json.RawMessage(`2`)}))
	entry, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(entry.Result))
	assert.Nil(t, entry.ExpiresAt)
}

func TestCache_DefaultRetention(t *testing.T) {
	c, _, clk := newTestCache(t, WithRetention(24*time.Hour))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "fp", Record{Result: json.RawMessage(`1`)}))

	clk.Advance(23 * time.Hour)
	_, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(time.Hour)
	_, ok, err = c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_PutReplaces(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "fp", Record{Result: json.RawMessage(`{"v":1}`), Status: "partial"}))
	require.NoError(t, c.Put(ctx, "fp", Record{Result: json.RawMessage(`{"v":2}`)}))

	entry, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(entry.Result))
	assert.Equal(t, StatusCompleted, entry.Status)
}

func TestCache_LargeResultIsCompressed(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()

	big := json.RawMessage(`"` + strings.Repeat("x", 5000) + `"`)
	require.NoError(t, c.Put(ctx, "fp", Record{Result: big}))

	row, err := s.GetFingerprint(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, "gzip", row.Compression)

	entry, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(big), string(entry.Result))
}

func TestCache_PutValidation(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	assert.Error(t, c.Put(ctx, "", Record{Result: json.RawMessage(`1`)}))
	assert.Error(t, c.Put(ctx, "fp", Record{Result: json.RawMessage(`{`)}))
	assert.Error(t, c.Put(ctx, "fp", Record{Result: json.RawMessage(`1`), TTL: -time.Second}))
}

func TestCache_GetOrCompute(t *testing.T) {
	c, _, clk := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"n":1}`), nil
	}

	res, hit, err := c.GetOrCompute(ctx, "fp", "analyze", time.Hour, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.JSONEq(t, `{"n":1}`, string(res))

	res, hit, err = c.GetOrCompute(ctx, "fp", "analyze", time.Hour, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"n":1}`, string(res))
	assert.Equal(t, 1, calls)

	clk.Advance(2 * time.Hour)
	_, hit, err = c.GetOrCompute(ctx, "fp", "analyze", time.Hour, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestCache_GetOrComputeErrorStoresNothing(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("provider down")

	_, _, err := c.GetOrCompute(ctx, "fp", "analyze", 0, func(context.Context) (json.RawMessage, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Sweep(t *testing.T) {
	c, _, clk := newTestCache(t, WithRetention(48*time.Hour))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "short", Record{Result: json.RawMessage(`1`), TTL: time.Hour}))
	require.NoError(t, c.Put(ctx, "default", Record{Result: json.RawMessage(`1`)}))
	require.NoError(t, c.Put(ctx, "long", Record{Result: json.RawMessage(`1`), TTL: 72 * time.Hour}))

	clk.Advance(49 * time.Hour)
	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, ok, err := c.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_FingerprintIntegration(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	fp := MustCompute("enrich", map[string]any{"usernames": []string{"alice"}})
	require.NoError(t, c.Put(ctx, fp, Record{Operation: "enrich", Result: json.RawMessage(`[]`)}))

	same := MustCompute("enrich", json.RawMessage(`{ "usernames" : ["alice"] }`))
	_, ok, err := c.Get(ctx, same)
	require.NoError(t, err)
	assert.True(t, ok)
}
