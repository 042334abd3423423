package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fandomvelocity/internal/enrich"
)

// SweepResult counts expired entries removed per cache.
type SweepResult struct {
	Fingerprints int64 `json:"fingerprints"`
	Profiles     int64 `json:"profiles"`
	Responses    int64 `json:"responses"`
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the fingerprint and TTL caches",
	}
	cmd.AddCommand(newCacheSweepCommand(rootOpts))
	cmd.AddCommand(newCacheForgetCommand(rootOpts))
	return cmd
}

func newCacheSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired cache entries",
		Long: `Delete expired entries from the fingerprint cache, the profile cache
and the response cache. Expired entries are never served, so sweeping
only reclaims space.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				var (
					res SweepResult
					err error
				)
				if res.Fingerprints, err = a.runs.Sweep(cmd.Context()); err != nil {
					return a.out.Fail(err)
				}
				if res.Profiles, err = a.profiles.Sweep(cmd.Context()); err != nil {
					return a.out.Fail(err)
				}
				if res.Responses, err = a.responses.Sweep(cmd.Context()); err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "Removed %d fingerprints, %d profiles, %d responses\n",
						res.Fingerprints, res.Profiles, res.Responses)
				})
			})
		},
	}
}

func newCacheForgetCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "forget [username...]",
		Short: "Drop cached profiles so the next ingest refetches them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return NewExitError(ExitCommandError, "give at least one username or --all")
			}
			wanted := make(map[string]bool, len(args))
			for _, u := range args {
				wanted[strings.ToLower(strings.TrimPrefix(u, "@"))] = true
			}

			return withApp(rootOpts, cmd, func(a *app) error {
				var match func(string, enrich.Profile) bool
				if !all {
					match = func(key string, _ enrich.Profile) bool { return wanted[key] }
				}
				n, err := a.profiles.Invalidate(cmd.Context(), match)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(map[string]int{"removed": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Removed %d cached profiles\n", n)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "drop every cached profile")
	return cmd
}
