// Package logging sets up the proxy's structured logger: a file-or-stderr
// destination, every line stamped with a per-run id so concurrent proxy
// invocations in the same log file stay attributable. Grounded on the
// slog handler construction in oriys-nova/internal/logging/slog.go, with
// the file-vs-stderr destination choice and Close-on-shutdown lifecycle
// taken from oriys-nova/internal/logging/logger.go's SetOutput/Close.
package logging

import (
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

// New builds a text-handler slog.Logger writing to logFilePath if
// non-empty, otherwise to stderr. Every record carries run_id so that
// multiple proxy invocations sharing one log file remain attributable.
// The returned closer must be called on shutdown; it is a no-op when
// logging to stderr.
func New(logFilePath, runID string) (*slog.Logger, func() error, error) {
	var (
		dest  *os.File
		close = func() error { return nil }
	)

	if logFilePath == "" {
		dest = os.Stderr
	} else {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening log file %s", logFilePath)
		}
		dest = f
		close = f.Close
	}

	handler := slog.NewTextHandler(dest, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With("run_id", runID)
	return logger, close, nil
}
