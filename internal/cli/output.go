package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/fandomvelocity/internal/config"
	"github.com/roach88/fandomvelocity/internal/enrich"
	"github.com/roach88/fandomvelocity/internal/ledger"
	"github.com/roach88/fandomvelocity/internal/records"
	"github.com/roach88/fandomvelocity/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected operation or failed scenarios
	ExitCommandError = 2 // Command error (bad arguments, unreadable files, database errors)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Error codes reported in JSON error responses.
const (
	CodeNotFound            = "E_NOT_FOUND"
	CodeInvalidArgument     = "E_INVALID_ARGUMENT"
	CodeInsufficientBalance = "E_INSUFFICIENT_BALANCE"
	CodePaymentNotFound     = "E_PAYMENT_NOT_FOUND"
	CodePaymentMismatch     = "E_PAYMENT_MISMATCH"
	CodeInvalidTransition   = "E_INVALID_TRANSITION"
	CodeRecordTooLarge      = "E_RECORD_TOO_LARGE"
	CodeUnavailable         = "E_UNAVAILABLE"
	CodeProviderFailed      = "E_PROVIDER_FAILED"
	CodeTestFailed          = "E_TEST_FAILED"
	CodeInternal            = "E_INTERNAL"
)

// classifyError maps a domain error to its response code and exit code.
// Promo rejections and catalog errors keep their own codes, e.g.
// PROMO_EXPIRED.
func classifyError(err error) (string, int) {
	if code := ledger.PromoErrorCodeOf(err); code != "" {
		return string(code), ExitFailure
	}
	var catErr *config.CatalogError
	if errors.As(err, &catErr) {
		return catErr.Code, ExitCommandError
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return CodeInsufficientBalance, ExitFailure
	case errors.Is(err, ledger.ErrPaymentNotFound):
		return CodePaymentNotFound, ExitFailure
	case errors.Is(err, ledger.ErrPaymentMismatch):
		return CodePaymentMismatch, ExitFailure
	case errors.Is(err, ledger.ErrInvalidTransition):
		return CodeInvalidTransition, ExitFailure
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound, ExitFailure
	case errors.Is(err, ErrRecordUnavailable):
		return CodeUnavailable, ExitFailure
	case errors.Is(err, ErrProviderFailed):
		return CodeProviderFailed, ExitFailure
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingID),
		errors.Is(err, records.ErrInvalidRecord),
		errors.Is(err, enrich.ErrInvalidRequest):
		return CodeInvalidArgument, ExitCommandError
	case errors.Is(err, store.ErrRecordTooLarge):
		return CodeRecordTooLarge, ExitCommandError
	}
	return CodeInternal, ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E_NOT_FOUND", "PROMO_EXPIRED", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Render outputs data as a JSON response, or calls text for
// human-readable output.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it as an ExitError carrying the matching
// exit code. In text mode the error is left to the caller of Execute so
// it is printed once.
func (f *OutputFormatter) Fail(err error) error {
	code, exit := classifyError(err)
	if f.Format == "json" {
		_ = f.Error(code, err.Error(), nil)
	}
	return WrapExitError(exit, code, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
