// Package logger provides structured logging setup for fleetd.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
)

// asyncBuffer and asyncWorkers size the async handler. Event bursts during a
// reconnect storm log one line per queued event, so the buffer is generous.
const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// The returned Closer must be closed on shutdown to flush async output.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit output writer.
func NewWithWriter(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		handler, closer = ah, ah
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// Component returns a child logger tagged with the component name.
// A nil parent yields a discard logger so components can be built in tests
// without wiring a logger.
func Component(parent *slog.Logger, name string) *slog.Logger {
	if parent == nil {
		return slog.New(slog.DiscardHandler)
	}
	return parent.With("component", name)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
