// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filestore persists traces as date-partitioned JSON files.
//
// Description:
//
//	The ground truth is one UTF-8 JSON file
//	per trace under <root>/traces/<YYYY-MM-DD>/<trace_id>.json, plus
//	explicitly snapshotted graphs under <root>/graphs/<execution_id>.json.
//	Any index over these files is derived and rebuildable; readers skip
//	unparseable files instead of failing a listing.
//
// Thread Safety: safe for concurrent use. Saves are idempotent by trace id;
// the bless read-modify-write is serialised by a store-level mutex so two
// concurrent blessings for one (model, provider) cannot both win.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

// scanLimit bounds full-store scans used by the derived views
// (blessed listing, execution grouping, lineage).
const scanLimit = 10000

// DefaultListLimit applies when a caller passes no limit.
const DefaultListLimit = 50

// Indexer mirrors store mutations into a derived index. Implementations must
// tolerate being behind; the files stay the ground truth.
type Indexer interface {
	IndexTrace(ctx context.Context, trace *schema.Trace) error
	RemoveTrace(ctx context.Context, traceID string) error
}

// Config configures a Store.
type Config struct {
	// Root is the storage directory. Created if missing.
	Root string
	// Indexer, when set, receives every mutation. Index failures are logged
	// and never fail the store operation.
	Indexer Indexer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the filesystem trace store.
type Store struct {
	root    string
	traces  string
	graphs  string
	indexer Indexer
	log     *slog.Logger

	// blessMu serialises golden-uniqueness read-modify-writes.
	blessMu sync.Mutex
}

// New opens (and if needed creates) a store rooted at cfg.Root.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("filestore: root directory is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		root:    cfg.Root,
		traces:  filepath.Join(cfg.Root, "traces"),
		graphs:  filepath.Join(cfg.Root, "graphs"),
		indexer: cfg.Indexer,
		log:     log,
	}
	if err := os.MkdirAll(s.traces, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create traces dir: %w", err)
	}
	return s, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// TracesDir returns the trace partition root, for watchers and indexers.
func (s *Store) TracesDir() string { return s.traces }

// SaveTrace persists a trace, idempotently by trace id.
//
// Description:
//
//	The file lands in the date directory derived from the trace timestamp
//	and replaces any previous content wholesale. Two-space indentation,
//	raw UTF-8 (no HTML escaping). Returns the file path.
func (s *Store) SaveTrace(ctx context.Context, trace *schema.Trace) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := trace.Validate(); err != nil {
		return "", err
	}
	dateDir := filepath.Join(s.traces, schema.DateOf(trace.Timestamp))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", fmt.Errorf("filestore: create date dir: %w", err)
	}
	path := filepath.Join(dateDir, trace.TraceID+".json")
	if err := writeJSON(path, trace); err != nil {
		return "", err
	}
	s.notifyIndex(ctx, trace)
	return path, nil
}

// GetTrace loads a trace by id, scanning date directories newest first.
func (s *Store) GetTrace(ctx context.Context, traceID string) (*schema.Trace, error) {
	path, err := s.findTraceFile(traceID)
	if err != nil {
		return nil, err
	}
	return readTraceFile(path)
}

// ListOptions filter and page a listing.
type ListOptions struct {
	Limit       int
	Offset      int
	Model       string
	Provider    string
	Date        string
	FailedOnly  bool
	BlessedOnly bool
}

// ListTraces returns traces in reverse chronological order: date directories
// descending, file names descending within a day. Model and provider filters
// apply after load; unparseable files are skipped. Pagination slices the
// filtered result.
func (s *Store) ListTraces(ctx context.Context, opts ListOptions) ([]*schema.Trace, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	dateDirs, err := s.dateDirs(opts.Date)
	if err != nil {
		return nil, err
	}

	var traces []*schema.Trace
	for _, dir := range dateDirs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		files, err := jsonFilesDesc(dir)
		if err != nil {
			continue
		}
		for _, path := range files {
			trace, err := readTraceFile(path)
			if err != nil {
				s.log.Debug("skipping unparseable trace file",
					slog.String("path", path))
				continue
			}
			if opts.Model != "" && trace.Request.Model != opts.Model {
				continue
			}
			if opts.Provider != "" && trace.Request.Provider != opts.Provider {
				continue
			}
			if opts.FailedOnly && !trace.Verdict.Failed() {
				continue
			}
			if opts.BlessedOnly && !trace.Blessed {
				continue
			}
			traces = append(traces, trace)
		}
	}

	if opts.Offset >= len(traces) {
		return []*schema.Trace{}, nil
	}
	end := opts.Offset + limit
	if end > len(traces) {
		end = len(traces)
	}
	return traces[opts.Offset:end], nil
}

// CountTraces counts traces matching the filters.
func (s *Store) CountTraces(ctx context.Context, opts ListOptions) (int, error) {
	opts.Limit = scanLimit
	opts.Offset = 0
	traces, err := s.ListTraces(ctx, opts)
	if err != nil {
		return 0, err
	}
	return len(traces), nil
}

// DeleteTrace removes the trace file. Returns false when no file existed.
func (s *Store) DeleteTrace(ctx context.Context, traceID string) (bool, error) {
	path, err := s.findTraceFile(traceID)
	if errors.Is(err, ErrTraceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("filestore: delete trace: %w", err)
	}
	if s.indexer != nil {
		if err := s.indexer.RemoveTrace(ctx, traceID); err != nil {
			s.log.Warn("index removal failed",
				slog.String("trace_id", traceID),
				slog.String("error", err.Error()))
		}
	}
	return true, nil
}

// updateTrace rewrites a trace file in place, wherever it lives.
func (s *Store) updateTrace(ctx context.Context, trace *schema.Trace) error {
	path, err := s.findTraceFile(trace.TraceID)
	if err != nil {
		return err
	}
	if err := writeJSON(path, trace); err != nil {
		return err
	}
	s.notifyIndex(ctx, trace)
	return nil
}

func (s *Store) notifyIndex(ctx context.Context, trace *schema.Trace) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexTrace(ctx, trace); err != nil {
		s.log.Warn("indexing failed",
			slog.String("trace_id", trace.TraceID),
			slog.String("error", err.Error()))
	}
}

// findTraceFile locates the file for a trace id, newest date dirs first.
func (s *Store) findTraceFile(traceID string) (string, error) {
	dateDirs, err := s.dateDirs("")
	if err != nil {
		return "", err
	}
	for _, dir := range dateDirs {
		path := filepath.Join(dir, traceID+".json")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
}

// dateDirs lists date partition directories, newest first. A non-empty date
// narrows to that single partition.
func (s *Store) dateDirs(date string) ([]string, error) {
	if date != "" {
		return []string{filepath.Join(s.traces, date)}, nil
	}
	entries, err := os.ReadDir(s.traces)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: read traces dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(s.traces, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	return dirs, nil
}

func jsonFilesDesc(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

func readTraceFile(path string) (*schema.Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: read trace: %w", err)
	}
	var trace schema.Trace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("filestore: parse trace: %w", err)
	}
	return &trace, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("filestore: create file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("filestore: encode json: %w", err)
	}
	return f.Close()
}
