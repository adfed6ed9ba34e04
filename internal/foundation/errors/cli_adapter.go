package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		out:     os.Stderr,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	switch CategoryOf(err) {
	case CategoryValidation:
		return 2
	case CategoryNotFound:
		return 3
	case CategoryConflict:
		return 4
	case CategoryGraph:
		return 5
	case CategoryExecution:
		return 6
	case CategoryConfig:
		return 7
	case CategoryTransport:
		return 8
	case CategoryPersistence:
		return 9
	case CategoryInternal:
		return 10
	default:
		return 1
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	if classified, ok := AsClassified(err); ok && !a.verbose {
		return "Error: " + classified.Message()
	}
	return fmt.Sprintf("Error: %v", err)
}

// HandleError prints the error, logs it, and exits with the mapped code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	a.logError(err)
	_, _ = fmt.Fprintln(a.out, a.FormatError(err))
	os.Exit(a.ExitCodeFor(err))
}

func (a *CLIErrorAdapter) logError(err error) {
	attrs := []slog.Attr{slog.String("category", string(CategoryOf(err)))}
	level := slog.LevelError
	if classified, ok := AsClassified(err); ok {
		if classified.CanRetry() {
			attrs = append(attrs, slog.Bool("retryable", true))
		}
		if classified.Severity() == SeverityWarning {
			level = slog.LevelWarn
		}
	}
	attrs = append(attrs, slog.String("error", err.Error()))
	a.logger.LogAttrs(context.Background(), level, "Command failed", attrs...)
}
