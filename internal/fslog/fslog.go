// Package fslog builds the structured logger pfsd uses:
// log/slog with a text handler, writing to stderr or, when a log path
// is configured, a lumberjack-rotated file.
//
// Grounded on gcsfuse's internal/logger package, which pairs slog with
// gopkg.in/natefinch/lumberjack.v2 for rotation.
package fslog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Path  string // empty means stderr only
	Level string // debug|info|warn|error
}

func levelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the process-wide logger. When opts.Path is set, output is
// rotated at 100MB with 5 backups kept, matching the defaults a small
// long-running daemon like pfsd needs without its own flag surface.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if opts.Path != "" {
		w = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelFromString(opts.Level)})
	return slog.New(h)
}
