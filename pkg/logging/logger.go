// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the slog logger used by every Phylax process.
//
// The CLI default is plain text on stderr so command output on stdout stays
// pipeable; the server flips to JSON. A LogDir adds a JSON file per service
// per day, and a LogExporter ships entries to anything else (test buffers
// here, log aggregators elsewhere). All destinations hang off one
// slog.Logger, so callers that only want stdlib semantics use Slog() and
// never see this package again:
//
//	logger := logging.New(logging.Config{Level: logging.LevelWarn, Service: "cli"})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// Nothing here redacts. Callers keep secrets and prompt text out of the
// attributes they log.
package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Levels
// =============================================================================

// Level is the minimum severity a logger lets through.
// Ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug traces execution flow during development.
	LevelDebug Level = iota

	// LevelInfo records normal operation: trace saved, check finished.
	LevelInfo

	// LevelWarn records recoverable trouble: watcher restart, degraded
	// telemetry, skipped corrupt file.
	LevelWarn

	// LevelError records failed operations. The process continues.
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns "DEBUG", "INFO", "WARN" or "ERROR".
func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func (l Level) slogLevel() slog.Level {
	if l < LevelDebug || l > LevelError {
		return slog.LevelInfo
	}
	// slog spaces its levels four apart, anchored at Debug = -4.
	return slog.LevelDebug + slog.Level(4*l)
}

// =============================================================================
// Configuration
// =============================================================================

// Config selects the logging destinations. The zero value is a text
// logger on stderr at Debug level; the CLI passes LevelWarn, the server
// LevelInfo with JSON set.
type Config struct {
	// Level is the minimum severity written anywhere.
	Level Level

	// LogDir, when set, adds a JSON file "{Service}_{YYYY-MM-DD}.log"
	// under this directory (created 0750). Supports a leading ~.
	// File logs are always JSON whatever the stderr format is.
	LogDir string

	// Service tags every entry with a "service" attribute ("cli",
	// "server") and names the log file.
	Service string

	// JSON switches stderr from text to JSON lines.
	JSON bool

	// Quiet drops the stderr destination entirely. File and exporter
	// destinations still receive entries.
	Quiet bool

	// Exporter, when set, receives every entry at or above Level,
	// asynchronously. Export failures never disturb logging.
	Exporter LogExporter
}

// =============================================================================
// Export hook
// =============================================================================

// LogExporter ships log entries out of process. Implementations buffer
// internally; Export must not block the logging call path for long.
// Flush is called by Logger.Close before Close.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the exporter's view of one log call.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger fans one log call out to stderr, an optional daily file, and an
// optional exporter. Safe for concurrent use. Close releases the file and
// waits for in-flight exports, so processes that log to a file or exporter
// defer it.
type Logger struct {
	slog     *slog.Logger
	cfg      Config
	file     *os.File
	exporter LogExporter

	// exports is shared with children from With so Close waits for
	// every in-flight export, not just the root's.
	exports *sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// New builds a Logger from cfg. Destination setup degrades rather than
// fails: an unwritable LogDir costs the file destination and nothing else.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	l := &Logger{cfg: cfg, exporter: cfg.Exporter, exports: &sync.WaitGroup{}}

	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			l.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		// Zero handlers (Quiet, no file) still works: Enabled is
		// always false and records go nowhere.
		handler = &teeHandler{handlers: handlers}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	l.slog = slog.New(handler)
	return l
}

// Default is the stderr-only Info logger used where nothing configured one.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "phylax"})
}

// openLogFile opens (appending) the dated log file for a service.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "phylax"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// Debug logs at Debug level. args are slog key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.emit(LevelDebug, msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.emit(LevelInfo, msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.emit(LevelWarn, msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.emit(LevelError, msg, args...) }

// With returns a child logger carrying extra attributes; the file handle
// and exporter are shared, so only the root logger should be Closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		cfg:      l.cfg,
		file:     l.file,
		exporter: l.exporter,
		exports:  l.exports,
	}
}

// Slog exposes the underlying slog.Logger, typically for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close waits for in-flight exports, flushes and closes the exporter, then
// syncs and closes the log file. Safe to call once; later calls are no-ops.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	l.exports.Wait()

	var errs []error
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		cancel()
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// emit writes through slog and, when configured, hands the entry to the
// exporter on its own goroutine so a slow sink cannot stall the caller.
func (l *Logger) emit(level Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level.slogLevel(), msg, args...)

	if l.exporter == nil || level < l.cfg.Level {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Service:   l.cfg.Service,
		Attrs:     attrMap(args),
	}
	l.exports.Add(1)
	go func() {
		defer l.exports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.exporter.Export(ctx, entry)
	}()
}

// =============================================================================
// Fan-out handler
// =============================================================================

// teeHandler delivers each record to every enabled handler, so stderr can
// stay text while the file stays JSON.
type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers to every handler even when one fails; errors are joined.
func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

// =============================================================================
// Helpers
// =============================================================================

// expandHome resolves a leading ~ against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// attrMap folds slog-style variadic args into a map for LogEntry.Attrs.
// Dangling keys and non-string keys are dropped, matching slog's leniency.
func attrMap(args []any) map[string]any {
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			m[key] = args[i+1]
		}
	}
	return m
}

// =============================================================================
// Exporters
// =============================================================================

// NopExporter drops every entry. It stands in where a LogExporter is
// required but export is disabled.
type NopExporter struct{}

func (NopExporter) Export(context.Context, LogEntry) error { return nil }
func (NopExporter) Flush(context.Context) error            { return nil }
func (NopExporter) Close() error                           { return nil }

var _ LogExporter = NopExporter{}

// BufferedExporter collects entries in memory so tests can assert on what
// was logged:
//
//	exp := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Exporter: exp})
//	logger.Info("trace saved", "trace_id", id)
//	logger.Close()
//	entries := exp.Entries()
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter returns an empty buffer.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

// Export appends the entry to the buffer.
func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Flush is a no-op; entries are already resident.
func (e *BufferedExporter) Flush(context.Context) error { return nil }

// Close is a no-op.
func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of everything exported so far.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.entries)
}
