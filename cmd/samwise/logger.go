package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/chandeldivyam/samwise/internal/config"
)

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. Its level lives in level so that
// config reloads can change it. When lc.File is set, logs are also written
// to a size-rotated file; the returned closer flushes it.
func newLogger(lc config.LogConfig, level *slog.LevelVar) (*slog.Logger, io.Closer) {
	level.Set(slogLevel(lc.Level))

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if lc.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   lc.Compress,
		}
		w = io.MultiWriter(os.Stderr, rotating)
		closer = rotating
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if lc.Format == config.LogJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
