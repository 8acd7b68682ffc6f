// Package xlog provides the structured logger used throughout the facade,
// grounded on gcsfuse's internal/logger package: a slog.Logger whose handler
// writes through a rotating gopkg.in/natefinch/lumberjack.v2 file when one
// is configured, and to stderr otherwise (internal/logger's tests exercise
// exactly this "AsyncLogger wrapping a lumberjack.Logger" pairing).
package xlog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the handle passed around the facade. It embeds *slog.Logger so
// callers can use the usual Debug/Info/Warn/Error methods, plus With(...)
// for per-operation fields (path, syscall, fd).
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// Config controls where log output goes. A zero Config logs to stderr.
type Config struct {
	// FilePath, if set, routes output through a rotating lumberjack writer.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Level is the minimum slog.Level to emit.
	Level slog.Level
}

// New builds a Logger from cfg. Callers should Close it on shutdown so the
// rotating writer flushes.
func New(cfg Config) *Logger {
	var w io.Writer = os.Stderr
	var closer io.Closer

	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    nonZero(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w = lj
		closer = lj
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.Level})
	return &Logger{Logger: slog.New(handler), closer: closer}
}

// Default returns a stderr-backed Logger at Info level, used when Options
// omits a Logger.
func Default() *Logger {
	return New(Config{Level: slog.LevelInfo})
}

// Close flushes and closes the underlying rotating writer, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
