// Package logger builds the daemon's slog stack: a text handler on
// stdout, optionally teed into a buffered JSON file sink with size
// based rotation.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Options selects the level and the optional file sink.
type Options struct {
	Level      string // debug | info | warn | error
	File       string // empty disables the file sink
	MaxSize    int64  // rotation threshold in bytes, 0 = no rotation
	MaxBackups int
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Logger owns the file sink so Close can flush what is still buffered.
type Logger struct {
	*slog.Logger
	file *FileWriter
}

// New builds the logger stack from options.
func New(opts Options) (*Logger, error) {
	level := ParseLevel(opts.Level)
	console := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	if opts.File == "" {
		return &Logger{Logger: slog.New(console)}, nil
	}

	fw, err := NewFileWriter(FileWriterConfig{
		Path:       opts.File,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file sink: %w", err)
	}
	fileHandler := slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: level})

	return &Logger{
		Logger: slog.New(NewTeeHandler(console, fileHandler)),
		file:   fw,
	}, nil
}

// Close flushes and closes the file sink, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
