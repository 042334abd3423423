package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fandomvelocity/internal/enrich"
)

// errProfileMissing is returned for usernames absent from the export.
var errProfileMissing = errors.New("profile not in export")

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Dataset string
	Mode    string
	Limit   int
	Users   []string
	Delay   time.Duration
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <profiles.json>",
		Short: "Store scraped profiles as dataset records",
		Long: `Store profiles from a scraper export as records of a dataset.

The export is a JSON array of profile objects keyed by "username". Entries
carrying an "error" field are reported as failures. Profiles are cached,
and repeating an identical ingest replays the earlier report without
touching the store.

Exit codes:
  0 - All profiles stored
  1 - One or more profiles failed
  2 - Command error (unreadable export, bad flags, etc.)

Examples:
  velocity ingest --dataset ds-1 profiles.json
  velocity ingest --dataset ds-1 --users ana,zoe profiles.json
  velocity ingest --dataset ds-1 --mode followers --limit 50 profiles.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "dataset id to store records under (required)")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(enrich.ModeEnrich), "enrich or followers")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "follower list limit in followers mode")
	cmd.Flags().StringSliceVar(&opts.Users, "users", nil, "only these usernames (default: every profile in the export)")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "pause between uncached profiles")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	raw, err := readInput(cmd, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read export", err)
	}
	fetcher, order, err := parseExport(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to parse export", err)
	}

	usernames := opts.Users
	if len(usernames) == 0 {
		usernames = order
	}

	return withApp(opts.RootOptions, cmd, func(a *app) error {
		e := enrich.New(a.records, fetcher, a.profiles, a.runs,
			enrich.WithDelay(opts.Delay),
			enrich.WithLogger(a.logger))

		report, err := e.Run(cmd.Context(), enrich.Request{
			DatasetID: opts.Dataset,
			Usernames: usernames,
			Mode:      enrich.Mode(opts.Mode),
			Limit:     opts.Limit,
		})
		if err != nil {
			return a.out.Fail(err)
		}
		return outputIngest(a.out, report)
	})
}

func outputIngest(out *OutputFormatter, report enrich.Report) error {
	var failure error
	if report.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d of %d profiles failed", report.Failed, len(report.Results)))
	}

	if out.Format == "json" {
		response := CLIResponse{Status: "ok", Data: report}
		if failure != nil {
			response.Status = "error"
			response.Error = &CLIError{Code: "E_INGEST_FAILED", Message: failure.Error()}
		}
		if err := json.NewEncoder(out.Writer).Encode(response); err != nil {
			return err
		}
		return failure
	}

	w := out.Writer
	if report.Replayed {
		fmt.Fprintf(w, "Replayed earlier run %s\n", shortFingerprint(report.Fingerprint))
	}
	for _, r := range report.Results {
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "✗ %s: %s\n", r.Username, r.Error)
		case r.Cached:
			fmt.Fprintf(w, "✓ %s -> %s (cached)\n", r.Username, r.RecordID)
		default:
			fmt.Fprintf(w, "✓ %s -> %s\n", r.Username, r.RecordID)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Ingest Summary: %d stored, %d failed\n", report.Succeeded, report.Failed)
	return failure
}

// exportFetcher serves profiles from a scraper export instead of the
// network.
type exportFetcher struct {
	profiles map[string]enrich.Profile
}

// parseExport decodes an export and returns its usernames in file order.
// Numbers are kept as json.Number so large counts survive unchanged.
func parseExport(raw []byte) (*exportFetcher, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var list []enrich.Profile
	if err := dec.Decode(&list); err != nil {
		return nil, nil, err
	}

	f := &exportFetcher{profiles: make(map[string]enrich.Profile, len(list))}
	var order []string
	for i, p := range list {
		username, _ := p["username"].(string)
		username = strings.TrimPrefix(strings.TrimSpace(username), "@")
		if username == "" {
			return nil, nil, fmt.Errorf("profile %d has no username", i)
		}
		key := strings.ToLower(username)
		if _, dup := f.profiles[key]; !dup {
			order = append(order, username)
		}
		f.profiles[key] = p
	}
	return f, order, nil
}

func (f *exportFetcher) Fetch(_ context.Context, username string) (enrich.Profile, error) {
	p, ok := f.profiles[strings.ToLower(username)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", username, errProfileMissing)
	}
	if msg, _ := p["error"].(string); msg != "" {
		return nil, errors.New(msg)
	}
	return p, nil
}

// Followers returns the export's followersList for username.
func (f *exportFetcher) Followers(ctx context.Context, username string, limit int) ([]enrich.Profile, error) {
	p, err := f.Fetch(ctx, username)
	if err != nil {
		return nil, err
	}
	list, _ := p["followersList"].([]any)
	out := make([]enrich.Profile, 0, min(len(list), limit))
	for _, item := range list {
		if len(out) == limit {
			break
		}
		if m, ok := item.(map[string]any); ok {
			out = append(out, enrich.Profile(m))
		}
	}
	return out, nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
