// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package logger builds the process slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger.
type Options struct {
	// Level is one of debug, info, warn or error. Anything else means info.
	Level string

	// Format is json or text. Anything else means text.
	Format string

	// File is an optional log file, rotated by size. Logs always go to
	// Output as well.
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// Logger is a slog.Logger that may own a log file.
type Logger struct {
	*slog.Logger
	file *lumberjack.Logger
}

// New creates a Logger from opts.
func New(opts Options) *Logger {
	var w io.Writer = os.Stdout
	if opts.Output != nil {
		w = opts.Output
	}

	var file *lumberjack.Logger
	if opts.File != "" {
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		w = io.MultiWriter(w, file)
	}

	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, ho)
	} else {
		handler = slog.NewTextHandler(w, ho)
	}

	return &Logger{Logger: slog.New(handler), file: file}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
