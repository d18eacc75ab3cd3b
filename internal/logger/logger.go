package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"invoicematch/internal/config"
)

// New creates a new slog.Logger instance that writes to os.Stdout.
// If debug is true, the log level is set to Debug. Otherwise, it's set to Info.
func New(debug bool) *slog.Logger {
	return NewWithWriter(os.Stdout, debug)
}

// NewFromConfig creates a logger that writes to os.Stdout and, when cfg.File
// is set, also to a size-rotated file.
func NewFromConfig(cfg config.LogConfig, debug bool) *slog.Logger {
	if cfg.File == "" {
		return New(debug)
	}
	return NewWithWriter(io.MultiWriter(os.Stdout, rotatingFile(cfg, cfg.File)), debug)
}

// NewFallback creates the secondary sink for records whose durable store is
// unavailable. It writes to os.Stderr and, when cfg.FallbackFile is set, to
// its own rotated file, so it does not share a writer with NewFromConfig.
func NewFallback(cfg config.LogConfig, debug bool) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.FallbackFile != "" {
		w = io.MultiWriter(os.Stderr, rotatingFile(cfg, cfg.FallbackFile))
	}
	return Fallback(NewWithWriter(w, debug))
}

func rotatingFile(cfg config.LogConfig, filename string) *lumberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// NewWithWriter creates a new slog.Logger instance with a specific writer.
func NewWithWriter(w io.Writer, debug bool) *slog.Logger {
	var level slog.Level
	if debug {
		level = slog.LevelDebug
	} else {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Fallback tags l as the fallback sink. Records written through it stand in
// for rows that could not be stored, such as retry attempts.
func Fallback(l *slog.Logger) *slog.Logger {
	return l.With("sink", "fallback")
}
