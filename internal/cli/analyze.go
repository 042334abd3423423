package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fandomvelocity/internal/enrich"
)

// ErrProviderFailed is reported when the analysis provider exits
// non-zero or prints something other than JSON.
var ErrProviderFailed = errors.New("analysis provider failed")

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*RootOptions
	Operation string
	TTL       time.Duration
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze <input.json> -- <provider> [args...]",
		Short: "Run an analysis provider with memoized responses",
		Long: `Send a JSON document to an external analysis provider and print its
JSON response.

The provider is any program that reads the input on stdin and writes a
JSON response on stdout. Responses are memoized in the response cache by
the fingerprint of --operation and the canonical input, so inputs that
differ only in key order or number spelling reuse one response until it
expires (cache.response_ttl_hours, or --ttl).

Examples:
  velocity analyze profile.json -- ./score-profile
  velocity analyze - --operation summary --ttl 2h -- llm-cli --model small < doc.json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if cmd.ArgsLenAtDash() != 1 || len(args) < 2 {
				return fmt.Errorf("expected <input.json> -- <provider> [args...]")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Operation, "operation", "analyze", "fingerprint scope; providers with different semantics need different operations")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "cache TTL for a fresh response (default: cache.response_ttl_hours)")

	return cmd
}

func runAnalyze(opts *AnalyzeOptions, path string, provider []string, cmd *cobra.Command) error {
	if opts.TTL < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --ttl %s: must not be negative", opts.TTL))
	}
	input, err := readInput(cmd, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}
	if !json.Valid(input) {
		return NewExitError(ExitCommandError, "input is not valid JSON")
	}

	return withApp(opts.RootOptions, cmd, func(a *app) error {
		memo := enrich.NewResponseMemo(commandAnalyzer(provider), a.responses, opts.Operation,
			enrich.WithMemoTTL(opts.TTL),
			enrich.WithMemoLogger(a.logger))

		out, err := memo.Analyze(cmd.Context(), input)
		if err != nil {
			return a.out.Fail(err)
		}
		return a.out.Render(out, func(w io.Writer) {
			fmt.Fprintln(w, string(out))
		})
	})
}

// commandAnalyzer runs argv with the input on stdin and returns its
// stdout.
type commandAnalyzer []string

func (c commandAnalyzer) Analyze(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var stdout, stderr bytes.Buffer
	proc := exec.CommandContext(ctx, c[0], c[1:]...)
	proc.Stdin = bytes.NewReader(input)
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	if err := proc.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s: %w: %s", c[0], ErrProviderFailed, msg)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(out) {
		return nil, fmt.Errorf("%s: %w: response is not JSON", c[0], ErrProviderFailed)
	}
	return out, nil
}
