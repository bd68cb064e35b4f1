// Package log configures structured logging for the daemon: slog handlers
// writing to stdout and to a rotated daemon.log.
package log

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures logger construction.
type Options struct {
	// Debug lowers the level to slog.LevelDebug.
	Debug bool
	// LogFile, when non-empty, duplicates output to a rotated file.
	LogFile string
	// JSON selects the JSON handler; default is text.
	JSON bool
	// FileOnly suppresses stdout output. Used by the MCP stdio transport,
	// which owns stdout for the protocol stream.
	FileOnly bool
}

// Configure builds a logger, sets it as the process default, and returns it.
func Configure(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	if opts.FileOnly {
		w = io.Discard
	}
	if opts.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
			Compress:   true,
		}
		if opts.FileOnly {
			w = rotated
		} else {
			w = io.MultiWriter(os.Stdout, rotated)
		}
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
