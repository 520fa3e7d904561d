package logger

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	log   atomic.Pointer[slog.Logger]
	level = new(slog.LevelVar)
)

func init() {
	level.Set(slog.LevelInfo)
	if os.Getenv("DEBUG") != "" {
		level.Set(slog.LevelDebug)
	}
	SetOutput(os.Stdout)
}

// SetOutput redirects log output, e.g. to stderr while a progress bar owns stdout.
func SetOutput(w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	log.Store(slog.New(slog.NewTextHandler(w, opts)))
}

// SetDebug toggles debug level logging.
func SetDebug(enabled bool) {
	if enabled {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(slog.LevelInfo)
}

// With returns a logger carrying the given attributes on every record.
func With(args ...any) *slog.Logger {
	return log.Load().With(args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	log.Load().Info(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	log.Load().Error(msg, args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	log.Load().Debug(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	log.Load().Warn(msg, args...)
}
