package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fandomvelocity/internal/records"
	"github.com/roach88/fandomvelocity/internal/store"
)

// ErrRecordUnavailable is reported when a record exists but none of its
// payload could be recovered.
var ErrRecordUnavailable = errors.New("record unavailable")

// NewRecordCommand creates the record command group.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Write, read and maintain logical records",
	}
	cmd.AddCommand(newRecordPutCommand(rootOpts))
	cmd.AddCommand(newRecordGetCommand(rootOpts))
	cmd.AddCommand(newRecordListCommand(rootOpts))
	cmd.AddCommand(newRecordDeleteCommand(rootOpts))
	cmd.AddCommand(newRecordPruneCommand(rootOpts))
	return cmd
}

func newRecordPutCommand(rootOpts *RootOptions) *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "put <dataset> <type> <id> [payload.json]",
		Short: "Store a JSON payload as a logical record",
		Long: `Store a JSON payload as a logical record, replacing any record with
the same id. The payload is read from the file argument, or from stdin
when it is omitted or "-".

Large payloads are compressed and split into chunks automatically.

Example:
  velocity record put ds-1 profile ds-1/profile/ana ana.json
  cat ana.json | velocity record put ds-1 profile ds-1/profile/ana --platform tiktok`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 4 {
				path = args[3]
			}
			payload, err := readInput(cmd, path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read payload", err)
			}

			return withApp(rootOpts, cmd, func(a *app) error {
				res, err := a.records.Write(cmd.Context(), records.LogicalRecord{
					ID:         args[2],
					DatasetID:  args[0],
					RecordType: args[1],
					Platform:   platform,
					Payload:    json.RawMessage(payload),
				})
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "Stored %s (%s, %d bytes", res.ID, res.Compression, res.Size)
					if res.Chunks > 0 {
						fmt.Fprintf(w, ", %d chunks", res.Chunks)
					}
					fmt.Fprintln(w, ")")
				})
			})
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "source platform of the record")
	return cmd
}

func newRecordGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a record's payload",
		Long: `Print a record's payload. Records whose stored bytes could not be
decoded are printed as stored, with a warning on stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				m, err := a.records.Read(cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				if !m.Available() {
					return a.out.Fail(fmt.Errorf("%s: %w", m.ID, ErrRecordUnavailable))
				}
				return a.out.Render(recordView(m), func(w io.Writer) {
					if m.Payload != nil {
						fmt.Fprintln(w, string(m.Payload))
						return
					}
					fmt.Fprintln(w, string(m.Raw))
				})
			})
		},
	}
}

func newRecordListCommand(rootOpts *RootOptions) *cobra.Command {
	var filter records.Filter

	cmd := &cobra.Command{
		Use:   "list <dataset>",
		Short: "List a dataset's records in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				list, err := a.records.ReadMany(cmd.Context(), args[0], filter)
				if err != nil {
					return a.out.Fail(err)
				}
				views := make([]recordSummary, len(list))
				for i, m := range list {
					views[i] = recordView(m)
				}
				return a.out.Render(views, func(w io.Writer) {
					if len(views) == 0 {
						fmt.Fprintln(w, "No records found.")
						return
					}
					for _, v := range views {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.RecordType, v.Platform, v.CreatedAt.Format(time.RFC3339))
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&filter.RecordType, "type", "", "only records of this type")
	cmd.Flags().StringVar(&filter.Platform, "platform", "", "only records from this platform")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of records (0 = all)")
	return cmd
}

func newRecordDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				deleted, err := a.records.Delete(cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				if !deleted {
					return a.out.Fail(fmt.Errorf("record %s: %w", args[0], store.ErrNotFound))
				}
				return a.out.Render(map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted %s\n", args[0])
				})
			})
		},
	}
}

func newRecordPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove chunk rows no record refers to",
		Long: `Remove chunk rows left behind by interrupted writes. Only orphans older
than --older-than are removed, so writes in progress are not disturbed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				n, err := a.records.PruneOrphanChunks(cmd.Context(), olderThan)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(map[string]int64{"pruned": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Pruned %d orphan chunk rows\n", n)
				})
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum age of orphan chunks to remove")
	return cmd
}

// recordSummary is the JSON shape of a materialized record.
type recordSummary struct {
	records.LogicalRecord
	Outcome string `json:"outcome"`
}

func recordView(m records.Materialized) recordSummary {
	return recordSummary{LogicalRecord: m.LogicalRecord, Outcome: m.Outcome.String()}
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
