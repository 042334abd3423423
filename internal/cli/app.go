package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/fandomvelocity/internal/codec"
	"github.com/roach88/fandomvelocity/internal/config"
	"github.com/roach88/fandomvelocity/internal/enrich"
	"github.com/roach88/fandomvelocity/internal/fingerprint"
	"github.com/roach88/fandomvelocity/internal/ledger"
	"github.com/roach88/fandomvelocity/internal/metrics"
	"github.com/roach88/fandomvelocity/internal/records"
	"github.com/roach88/fandomvelocity/internal/store"
	"github.com/roach88/fandomvelocity/internal/ttlcache"
)

// app is the set of components a command works with, all sharing one
// store handle.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	out       *OutputFormatter
	store     *store.Store
	records   *records.RecordStore
	ledger    *ledger.Ledger
	runs      *fingerprint.Cache
	profiles  *ttlcache.Cache[enrich.Profile]
	responses *ttlcache.Cache[json.RawMessage]
}

// loadConfig reads the config file named by --config, or the defaults,
// and applies the --db override.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.Database != "" {
		cfg.Database.Path = o.Database
	}
	if o.MetricsFile != "" {
		cfg.MetricsFile = o.MetricsFile
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to w (stderr) so
// they never mix with command output.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openApp loads configuration, opens the database and wires the
// components. Callers must Close the result.
func openApp(o *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := newLogger(cfg.Log, o.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	logger.Debug("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	c := codec.New(codec.WithThreshold(cfg.Records.CompressionThreshold))
	profiles, err := ttlcache.New[enrich.Profile](st, ttlcache.NamespaceProfile, cfg.ProfileTTL(),
		ttlcache.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create profile cache", err)
	}
	responses, err := ttlcache.NewResponseCache[json.RawMessage](st, cfg.ResponseTTL(),
		ttlcache.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create response cache", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		out:    o.formatter(cmd),
		store:  st,
		records: records.New(st,
			records.WithCodec(c),
			records.WithMaxChunkSize(cfg.Records.MaxChunkSize),
			records.WithLogger(logger)),
		ledger: ledger.New(st, ledger.WithLogger(logger)),
		runs: fingerprint.NewCache(st,
			fingerprint.WithRetention(cfg.FingerprintRetention()),
			fingerprint.WithCodec(c),
			fingerprint.WithLogger(logger)),
		profiles:  profiles,
		responses: responses,
	}, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// withApp runs fn against a freshly opened app, then exports metrics
// when a metrics file is configured. Failed commands are exported too.
func withApp(o *RootOptions, cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(o, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	err = fn(a)
	if path := a.cfg.MetricsFile; path != "" {
		if werr := metrics.WriteTextfile(path); werr != nil {
			a.logger.Warn("failed to write metrics file", "path", path, "error", werr)
		}
	}
	return err
}

// parseAmount parses a money argument.
func parseAmount(out *OutputFormatter, s string) (decimal.Decimal, error) {
	amount, err := ledger.ParseAmount(s)
	if err != nil {
		return decimal.Decimal{}, out.Fail(fmt.Errorf("amount: %w", err))
	}
	return amount, nil
}
