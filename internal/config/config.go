// Package config loads the velocity YAML configuration file and the
// optional CUE promo catalog it points at.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fandomvelocity/internal/chunk"
	"github.com/roach88/fandomvelocity/internal/codec"
	"github.com/roach88/fandomvelocity/internal/store"
)

// chunkHeadroom is reserved under the store cap for per-record metadata.
const chunkHeadroom = 1024 * 1024

// Config is the top-level configuration.
type Config struct {
	Database     DatabaseConfig `yaml:"database"`
	Records      RecordsConfig  `yaml:"records"`
	Cache        CacheConfig    `yaml:"cache"`
	Log          LogConfig      `yaml:"log"`
	PromoCatalog string         `yaml:"promo_catalog"`
	MetricsFile  string         `yaml:"metrics_file"` // Prometheus text export after each command
}

// DatabaseConfig locates the SQLite document store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RecordsConfig controls payload encoding and chunking.
type RecordsConfig struct {
	// CompressionThreshold is the serialized size in bytes above which
	// payloads are gzip-compressed.
	CompressionThreshold int `yaml:"compression_threshold"`
	// MaxChunkSize bounds each physical chunk. Must leave headroom under
	// the 16 MiB per-record cap.
	MaxChunkSize int `yaml:"max_chunk_size"`
}

// CacheConfig holds retention windows, in hours.
type CacheConfig struct {
	FingerprintRetentionHours int `yaml:"fingerprint_retention_hours"`
	ProfileTTLHours           int `yaml:"profile_ttl_hours"`
	ResponseTTLHours          int `yaml:"response_ttl_hours"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "velocity.db"},
		Records: RecordsConfig{
			CompressionThreshold: codec.DefaultThreshold,
			MaxChunkSize:         chunk.DefaultMaxSize,
		},
		Cache: CacheConfig{
			FingerprintRetentionHours: 720,
			ProfileTTLHours:           168,
			ResponseTTLHours:          24,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path. Environment references such as
// ${VELOCITY_DB} are expanded before parsing. Unset fields keep their
// defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if c.Records.CompressionThreshold <= 0 {
		return fmt.Errorf("records.compression_threshold must be positive, got %d", c.Records.CompressionThreshold)
	}
	if c.Records.MaxChunkSize <= 0 || c.Records.MaxChunkSize > store.MaxRecordSize-chunkHeadroom {
		return fmt.Errorf("records.max_chunk_size must be in (0, %d], got %d",
			store.MaxRecordSize-chunkHeadroom, c.Records.MaxChunkSize)
	}
	if c.Cache.FingerprintRetentionHours <= 0 {
		return errors.New("cache.fingerprint_retention_hours must be positive")
	}
	if c.Cache.ProfileTTLHours <= 0 {
		return errors.New("cache.profile_ttl_hours must be positive")
	}
	if c.Cache.ResponseTTLHours <= 0 {
		return errors.New("cache.response_ttl_hours must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// FingerprintRetention returns the fingerprint cache retention window.
func (c *Config) FingerprintRetention() time.Duration {
	return time.Duration(c.Cache.FingerprintRetentionHours) * time.Hour
}

// ProfileTTL returns the profile cache TTL.
func (c *Config) ProfileTTL() time.Duration {
	return time.Duration(c.Cache.ProfileTTLHours) * time.Hour
}

// ResponseTTL returns the analyzer response cache TTL.
func (c *Config) ResponseTTL() time.Duration {
	return time.Duration(c.Cache.ResponseTTLHours) * time.Hour
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", name)
	}
}
