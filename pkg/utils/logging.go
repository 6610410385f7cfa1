package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogOptions configures the process logger
type LogOptions struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string

	// Format is "text" or "json"
	Format string

	// File, when set, receives a copy of every record through a LogRotator
	File string

	// Rotation overrides the defaults used for File
	Rotation *RotationConfig

	// Output defaults to os.Stderr
	Output io.Writer
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process-wide structured logger. The returned closer
// releases the log file, if any, and must be called on shutdown.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer, error) {
	level, err := ParseLogLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = os.Stderr
	if opts.Output != nil {
		output = opts.Output
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotation := opts.Rotation
		if rotation == nil {
			rotation = &RotationConfig{MaxSizeMB: 10, MaxBackups: 5, Compress: true}
		}
		cfg := *rotation
		cfg.Filename = opts.File

		rotator, err := NewLogRotator(&cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = io.MultiWriter(output, rotator)
		closer = rotator
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, handlerOpts)
	case "text", "":
		handler = slog.NewTextHandler(output, handlerOpts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("invalid log format: %s", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
