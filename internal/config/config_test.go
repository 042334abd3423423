package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "velocity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "velocity.db", cfg.Database.Path)
	assert.Equal(t, 1024, cfg.Records.CompressionThreshold)
	assert.Equal(t, 14*1024*1024, cfg.Records.MaxChunkSize)
	assert.Equal(t, 30*24*time.Hour, cfg.FingerprintRetention())
	assert.Equal(t, 7*24*time.Hour, cfg.ProfileTTL())
	assert.Equal(t, 24*time.Hour, cfg.ResponseTTL())
}

func TestLoad(t *testing.T) {
	t.Setenv("VELOCITY_TEST_DB", "/tmp/velocity-test.db")

	cfg, err := Load("testdata/velocity.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/velocity-test.db", cfg.Database.Path)
	assert.Equal(t, 2048, cfg.Records.CompressionThreshold)
	assert.Equal(t, 1048576, cfg.Records.MaxChunkSize)
	assert.Equal(t, 48, cfg.Cache.ProfileTTLHours)
	assert.Equal(t, 720, cfg.Cache.FingerprintRetentionHours, "unset fields keep defaults")
	assert.Equal(t, 24, cfg.Cache.ResponseTTLHours)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "promos.cue", cfg.PromoCatalog)
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadCRLF(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\r\n  path: crlf.db\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "crlf.db", cfg.Database.Path)
}

func TestLoadMetricsFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "metrics_file: /var/lib/node_exporter/velocity.prom\n"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/node_exporter/velocity.prom", cfg.MetricsFile)
	assert.Empty(t, Default().MetricsFile)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  paht: x.db\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paht")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty db path", func(c *Config) { c.Database.Path = " " }, "database.path"},
		{"zero threshold", func(c *Config) { c.Records.CompressionThreshold = 0 }, "compression_threshold"},
		{"zero chunk", func(c *Config) { c.Records.MaxChunkSize = 0 }, "max_chunk_size"},
		{"chunk at cap", func(c *Config) { c.Records.MaxChunkSize = 16 * 1024 * 1024 }, "max_chunk_size"},
		{"negative retention", func(c *Config) { c.Cache.FingerprintRetentionHours = -1 }, "fingerprint_retention_hours"},
		{"zero profile ttl", func(c *Config) { c.Cache.ProfileTTLHours = 0 }, "profile_ttl_hours"},
		{"zero response ttl", func(c *Config) { c.Cache.ResponseTTLHours = 0 }, "response_ttl_hours"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateAcceptsMaxChunkWithHeadroom(t *testing.T) {
	cfg := Default()
	cfg.Records.MaxChunkSize = 15 * 1024 * 1024
	assert.NoError(t, cfg.Validate())
}

func TestLoadPromoCatalog(t *testing.T) {
	promos, err := LoadPromoCatalog("testdata/promos.cue")
	require.NoError(t, err)
	require.Len(t, promos, 3)

	welcome := promos[0]
	assert.Equal(t, "WELCOME10", welcome.Code)
	assert.True(t, welcome.Value.Equal(decimal.NewFromInt(10)), "value = %s", welcome.Value)
	assert.Equal(t, int64(100), welcome.MaxUses)
	assert.True(t, welcome.IsActive)
	assert.Nil(t, welcome.ExpiresAt)

	launch := promos[1]
	assert.Equal(t, "LAUNCH", launch.Code)
	assert.Equal(t, int64(0), launch.MaxUses, "maxUses defaults to unlimited")
	require.NotNil(t, launch.ExpiresAt)
	assert.Equal(t, time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC), *launch.ExpiresAt)

	retired := promos[2]
	assert.Equal(t, "RETIRED", retired.Code)
	assert.False(t, retired.IsActive)
	assert.True(t, retired.Value.Equal(decimal.RequireFromString("2.5")))
}

func TestLoadPromoCatalogRejectsNonPositiveValue(t *testing.T) {
	_, err := LoadPromoCatalog("testdata/bad_value.cue")
	require.Error(t, err)

	var ce *CatalogError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CATALOG_INVALID", ce.Code)
}

func TestLoadPromoCatalogRejectsUnknownField(t *testing.T) {
	_, err := LoadPromoCatalog("testdata/unknown_field.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxUsez")
}

func TestParsePromoCatalog(t *testing.T) {
	t.Run("syntax error", func(t *testing.T) {
		_, err := ParsePromoCatalog([]byte("promos: {"), "broken.cue")
		var ce *CatalogError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "CATALOG_SYNTAX", ce.Code)
	})

	t.Run("sub-cent value", func(t *testing.T) {
		_, err := ParsePromoCatalog([]byte("promos: X: value: 0.001\n"), "subcent.cue")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decimal places")
	})

	t.Run("bad expiry", func(t *testing.T) {
		_, err := ParsePromoCatalog([]byte(`promos: X: {value: 1, expiresAt: "tomorrow"}`), "expiry.cue")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RFC3339")
	})

	t.Run("negative maxUses", func(t *testing.T) {
		_, err := ParsePromoCatalog([]byte("promos: X: {value: 1, maxUses: -1}\n"), "uses.cue")
		require.Error(t, err)
	})

	t.Run("codes colliding after normalization", func(t *testing.T) {
		_, err := ParsePromoCatalog([]byte("promos: {abc: value: 1, ABC: value: 2}\n"), "dup.cue")
		var ce *CatalogError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "CATALOG_DUPLICATE", ce.Code)
	})

	t.Run("no promos", func(t *testing.T) {
		promos, err := ParsePromoCatalog([]byte("// empty\n"), "empty.cue")
		require.NoError(t, err)
		assert.Empty(t, promos)
	})
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "INFO", "warn", "warning", "error", ""} {
		_, err := ParseLevel(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}
