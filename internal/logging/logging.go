// Package logging builds the structured loggers used across gtdsync.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a logger.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// File, when set, sends output to a rotating log file instead of stderr.
	File string
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int
	// Prefix is shown before every message.
	Prefix string
	// Output overrides stderr when File is empty.
	Output io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger. The returned closer flushes and closes the log file,
// if any; it is always non-nil.
func New(opts Options) (*log.Logger, io.Closer, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		lvl, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = lvl
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if opts.Output != nil {
		w = opts.Output
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.File != "",
		TimeFormat:      time.DateTime,
	})
	if opts.File != "" {
		logger.SetFormatter(log.LogfmtFormatter)
	}
	return logger, closer, nil
}

// OrDefault returns logger, or a stderr logger with prefix when it is nil.
func OrDefault(logger *log.Logger, prefix string) *log.Logger {
	if logger != nil {
		return logger
	}
	return log.NewWithOptions(os.Stderr, log.Options{Prefix: prefix})
}
