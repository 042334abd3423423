package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_PutGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	expires := testNow.Add(time.Hour)
	row := FingerprintRow{
		Fingerprint: "fp1",
		Operation:   "enrich",
		Status:      "completed",
		Result:      []byte(`{"ok":true}`),
		Compression: "none",
		CreatedAt:   testNow,
		ExpiresAt:   &expires,
	}
	require.NoError(t, s.PutFingerprint(ctx, row))

	got, err := s.GetFingerprint(ctx, "fp1")
	require.NoError(t, err)
	row.Metadata = "{}"
	row.Version = 1
	assert.Equal(t, row, got)
}

func TestFingerprint_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetFingerprint(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFingerprint_DeleteIfUnchanged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFingerprint(ctx, FingerprintRow{Fingerprint: "fp", Status: "completed", Compression: "none", CreatedAt: testNow}))
	stale, err := s.GetFingerprint(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stale.Version)

	// Replaced within the same millisecond: the stale eviction still loses.
	require.NoError(t, s.PutFingerprint(ctx, FingerprintRow{Fingerprint: "fp", Status: "completed", Result: []byte(`{"v":2}`), Compression: "none", CreatedAt: testNow}))
	deleted, err := s.DeleteFingerprintIfUnchanged(ctx, "fp", stale.Version)
	require.NoError(t, err)
	assert.False(t, deleted)

	fresh, err := s.GetFingerprint(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, `{"v":2}`, string(fresh.Result))

	deleted, err = s.DeleteFingerprintIfUnchanged(ctx, "fp", fresh.Version)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestFingerprint_DeleteExpired(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	retention := 30 * 24 * time.Hour

	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Minute)
	rows := []FingerprintRow{
		{Fingerprint: "expired", CreatedAt: testNow.Add(-time.Hour), ExpiresAt: &past},
		{Fingerprint: "live", CreatedAt: testNow.Add(-time.Hour), ExpiresAt: &future},
		{Fingerprint: "old", CreatedAt: testNow.Add(-retention - time.Hour)},
		{Fingerprint: "recent", CreatedAt: testNow.Add(-time.Hour)},
	}
	for _, r := range rows {
		r.Status = "completed"
		r.Compression = "none"
		require.NoError(t, s.PutFingerprint(ctx, r))
	}

	n, err := s.DeleteExpiredFingerprints(ctx, testNow, retention)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, fp := range []string{"live", "recent"} {
		_, err := s.GetFingerprint(ctx, fp)
		assert.NoError(t, err, fp)
	}
}
