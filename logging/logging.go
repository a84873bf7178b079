// ABOUTME: Builds the process logger: a slog-multi fanout of a console text handler and a JSON file.
// ABOUTME: A shared LevelVar lets the CLI raise or lower verbosity after construction.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options selects the log sinks. Console nil disables console output,
// which the TUI needs since it owns the terminal. FilePath empty disables
// the JSON file.
type Options struct {
	Level    string
	Verbose  bool
	Console  io.Writer
	FilePath string
}

// Logger is the configured root logger plus its level and file handle.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
	file  *os.File
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds the logger. Verbose forces debug regardless of Level.
func New(opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		lvl = slog.LevelDebug
	}
	level := new(slog.LevelVar)
	level.Set(lvl)

	var handlers []slog.Handler
	if opts.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Console, &slog.HandlerOptions{Level: level}))
	}

	var file *os.File
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err = os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	}

	var root slog.Handler
	switch len(handlers) {
	case 0:
		root = slog.NewTextHandler(io.Discard, nil)
	case 1:
		root = handlers[0]
	default:
		root = slogmulti.Fanout(handlers...)
	}
	return &Logger{Logger: slog.New(root), Level: level, file: file}, nil
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
