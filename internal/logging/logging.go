// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps a config string onto a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New builds a text logger writing to stdout and, when filename is set, to a
// rotating log file as well.
func New(level, filename string) (*slog.Logger, io.Closer, error) {
	return newLogger(os.Stdout, level, filename)
}

func newLogger(stdout io.Writer, level, filename string) (*slog.Logger, io.Closer, error) {
	var (
		w                = stdout
		closer io.Closer = nopCloser{}
	)

	if filename != "" {
		if dir := filepath.Dir(filename); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		logWriter := &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}
		w = io.MultiWriter(stdout, logWriter)
		closer = logWriter
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h), closer, nil
}

// Setup installs the logger as the slog default
func Setup(level, filename string) (io.Closer, error) {
	logger, closer, err := New(level, filename)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

// Component returns a child of base tagged with the component name. A nil
// base falls back to slog.Default().
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
