// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

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
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/phylax/services/trace/schema"
	badgerstore "github.com/AleutianAI/phylax/services/trace/storage/badger"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
	"github.com/AleutianAI/phylax/services/trace/telemetry"
)

var _ filestore.Indexer = (*Index)(nil)

// Key prefixes. Trace entries carry the payload; exec and replay keys are
// pure membership markers scanned by prefix.
const (
	prefixTrace  = "trace:"
	prefixExec   = "exec:"
	prefixReplay = "replay:"
)

// DefaultQueryLimit applies when a query passes no limit.
const DefaultQueryLimit = 50

// DefaultRebuildWorkers bounds the parallel file loads during Rebuild.
const DefaultRebuildWorkers = 4

// Entry is the indexed projection of one trace. It carries exactly the
// fields the list/count/stats queries filter or aggregate on.
type Entry struct {
	TraceID     string `json:"trace_id"`
	Timestamp   string `json:"timestamp"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	LatencyMs   int    `json:"latency_ms"`
	ExecutionID string `json:"execution_id"`
	ReplayOf    string `json:"replay_of,omitempty"`
	Blessed     bool   `json:"blessed"`
	Failed      bool   `json:"failed"`
	FilePath    string `json:"file_path,omitempty"`
}

// Query filters a Search or Count. Nil boolean filters match both values.
type Query struct {
	Model    string
	Provider string
	Failed   *bool
	Blessed  *bool
	Limit    int
	Offset   int
}

// Stats aggregates the whole index.
type Stats struct {
	Total      int            `json:"total"`
	Blessed    int            `json:"blessed"`
	Failed     int            `json:"failed"`
	Replays    int            `json:"replays"`
	ByProvider map[string]int `json:"by_provider"`
	ByModel    map[string]int `json:"by_model"`
}

// Config configures an Index.
type Config struct {
	// DB is the Badger handle backing the index. Required. The caller owns
	// its lifecycle; closing the DB invalidates the Index.
	DB *badgerstore.DB
	// Root, when set, is the filestore root used to stamp entry file paths
	// for traces indexed through the save hook.
	Root string
	// RebuildWorkers bounds parallel file loads during Rebuild.
	// Default: DefaultRebuildWorkers.
	RebuildWorkers int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Index is the Badger-backed derived view over the trace files.
type Index struct {
	db      *badgerstore.DB
	root    string
	workers int
	log     *slog.Logger

	rebuilding atomic.Bool
}

// New creates an Index over an open Badger handle.
func New(cfg Config) (*Index, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("index: badger db is required")
	}
	workers := cfg.RebuildWorkers
	if workers <= 0 {
		workers = DefaultRebuildWorkers
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Index{db: cfg.DB, root: cfg.Root, workers: workers, log: log}, nil
}

// Put upserts the index entry for a trace and its membership keys.
func (i *Index) Put(ctx context.Context, trace *schema.Trace) error {
	ctx, span := startOperationSpan(ctx, "Put")
	defer span.End()
	start := time.Now()

	err := i.put(ctx, trace, i.pathFor(trace))
	recordOperationMetrics(ctx, "put", time.Since(start), err == nil)
	return err
}

// put writes the entry without span bookkeeping, so Rebuild can drive it
// per file under its own span.
func (i *Index) put(ctx context.Context, trace *schema.Trace, filePath string) error {
	if trace == nil || trace.TraceID == "" {
		return fmt.Errorf("index: trace id is required")
	}
	entry := Entry{
		TraceID:     trace.TraceID,
		Timestamp:   trace.Timestamp,
		Provider:    trace.Request.Provider,
		Model:       trace.Request.Model,
		LatencyMs:   trace.Response.LatencyMs,
		ExecutionID: trace.ExecutionID,
		ReplayOf:    trace.ReplayOf,
		Blessed:     trace.Blessed,
		Failed:      trace.Verdict.Failed(),
		FilePath:    filePath,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("index: encode entry: %w", err)
	}

	return i.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(traceKey(entry.TraceID), data); err != nil {
			return err
		}
		if entry.ExecutionID != "" {
			if err := txn.Set(execKey(entry.ExecutionID, entry.TraceID), nil); err != nil {
				return err
			}
		}
		if entry.ReplayOf != "" {
			if err := txn.Set(replayKey(entry.ReplayOf, entry.TraceID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// pathFor derives the canonical file path for a trace under the configured
// root, or empty when the index is not bound to a root.
func (i *Index) pathFor(trace *schema.Trace) string {
	if i.root == "" || trace == nil {
		return ""
	}
	return filepath.Join(i.root, "traces",
		schema.DateOf(trace.Timestamp), trace.TraceID+".json")
}

// Remove deletes a trace entry and its membership keys. Removing an id
// that was never indexed is a no-op.
func (i *Index) Remove(ctx context.Context, traceID string) error {
	ctx, span := startOperationSpan(ctx, "Remove")
	defer span.End()
	start := time.Now()

	err := i.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(traceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("index: decode entry: %w", err)
		}

		if err := txn.Delete(traceKey(traceID)); err != nil {
			return err
		}
		if entry.ExecutionID != "" {
			if err := txn.Delete(execKey(entry.ExecutionID, traceID)); err != nil {
				return err
			}
		}
		if entry.ReplayOf != "" {
			if err := txn.Delete(replayKey(entry.ReplayOf, traceID)); err != nil {
				return err
			}
		}
		return nil
	})
	recordOperationMetrics(ctx, "remove", time.Since(start), err == nil)
	return err
}

// Get loads one entry by trace id.
func (i *Index) Get(ctx context.Context, traceID string) (*Entry, error) {
	var entry Entry
	err := i.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(traceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, traceID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Search returns entries matching the query, newest first.
//
// Description:
//
//	Scans the trace entries, filters, sorts by timestamp descending (trace
//	id descending breaks ties) and pages the result. The string timestamp
//	layout sorts chronologically, so no parsing is needed.
func (i *Index) Search(ctx context.Context, q Query) ([]Entry, error) {
	ctx, span := startOperationSpan(ctx, "Search")
	defer span.End()
	start := time.Now()

	entries, err := i.scan(ctx, q)
	recordOperationMetrics(ctx, "search", time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("index.result_count", len(entries)))

	sort.Slice(entries, func(a, b int) bool {
		if entries[a].Timestamp != entries[b].Timestamp {
			return entries[a].Timestamp > entries[b].Timestamp
		}
		return entries[a].TraceID > entries[b].TraceID
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if q.Offset >= len(entries) {
		return []Entry{}, nil
	}
	end := q.Offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[q.Offset:end], nil
}

// Count counts entries matching the query, ignoring pagination.
func (i *Index) Count(ctx context.Context, q Query) (int, error) {
	entries, err := i.scan(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// scan collects all entries matching the query filters.
func (i *Index) scan(ctx context.Context, q Query) ([]Entry, error) {
	var entries []Entry
	err := i.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixTrace)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			if !matches(entry, q) {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func matches(e Entry, q Query) bool {
	if q.Model != "" && e.Model != q.Model {
		return false
	}
	if q.Provider != "" && e.Provider != q.Provider {
		return false
	}
	if q.Failed != nil && e.Failed != *q.Failed {
		return false
	}
	if q.Blessed != nil && e.Blessed != *q.Blessed {
		return false
	}
	return true
}

// ExecutionTraceIDs returns the ids of all indexed traces in an execution,
// in id order.
func (i *Index) ExecutionTraceIDs(ctx context.Context, executionID string) ([]string, error) {
	return i.memberIDs(ctx, prefixExec+executionID+":")
}

// ReplayIDs returns the ids of all indexed replays of a trace, in id order.
func (i *Index) ReplayIDs(ctx context.Context, originalTraceID string) ([]string, error) {
	return i.memberIDs(ctx, prefixReplay+originalTraceID+":")
}

// memberIDs runs a key-only prefix scan and returns the id suffixes.
func (i *Index) memberIDs(ctx context.Context, prefix string) ([]string, error) {
	ids := []string{}
	err := i.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Stats aggregates every entry in the index.
func (i *Index) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := startOperationSpan(ctx, "Stats")
	defer span.End()
	start := time.Now()

	stats := &Stats{
		ByProvider: map[string]int{},
		ByModel:    map[string]int{},
	}
	entries, err := i.scan(ctx, Query{})
	recordOperationMetrics(ctx, "stats", time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		stats.Total++
		if e.Blessed {
			stats.Blessed++
		}
		if e.Failed {
			stats.Failed++
		}
		if e.ReplayOf != "" {
			stats.Replays++
		}
		stats.ByProvider[e.Provider]++
		stats.ByModel[e.Model]++
	}
	recordIndexSize(ctx, stats.Total)
	return stats, nil
}

// Rebuild drops the index and re-walks the trace files under root.
//
// Description:
//
//	Reads every <root>/traces/<date>/<id>.json with a bounded worker pool
//	and re-indexes it. Unparseable files are skipped, matching the
//	filestore's listing semantics. Returns the number of traces indexed.
//	Only one rebuild may run at a time.
func (i *Index) Rebuild(ctx context.Context, root string) (int, error) {
	if !i.rebuilding.CompareAndSwap(false, true) {
		return 0, ErrRebuildInProgress
	}
	defer i.rebuilding.Store(false)

	ctx, span := startOperationSpan(ctx, "Rebuild")
	defer span.End()
	start := time.Now()

	count, err := i.rebuild(ctx, root)
	recordOperationMetrics(ctx, "rebuild", time.Since(start), err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return count, err
	}
	span.SetAttributes(attribute.Int("index.result_count", count))
	recordIndexSize(ctx, count)
	i.log.InfoContext(ctx, "index rebuilt",
		slog.String("root", root),
		slog.Int("traces", count),
		slog.Duration("took", time.Since(start)))
	return count, nil
}

func (i *Index) rebuild(ctx context.Context, root string) (int, error) {
	if err := i.db.DropAll(); err != nil {
		return 0, fmt.Errorf("index: drop keys: %w", err)
	}

	tracesDir := filepath.Join(root, "traces")
	dateDirs, err := os.ReadDir(tracesDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("index: read traces dir: %w", err)
	}

	var indexed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)

	for _, dir := range dateDirs {
		if !dir.IsDir() {
			continue
		}
		dirPath := filepath.Join(tracesDir, dir.Name())
		files, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
				continue
			}
			path := filepath.Join(dirPath, file.Name())
			g.Go(func() error {
				trace, err := loadTraceFile(path)
				if err != nil {
					i.log.Debug("skipping unparseable trace file",
						slog.String("path", path))
					return nil
				}
				if err := i.put(gctx, trace, path); err != nil {
					return err
				}
				indexed.Add(1)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return int(indexed.Load()), err
	}
	return int(indexed.Load()), nil
}

func loadTraceFile(path string) (*schema.Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var trace schema.Trace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, err
	}
	if trace.TraceID == "" {
		return nil, fmt.Errorf("index: file has no trace id")
	}
	return &trace, nil
}

// IndexTrace implements the filestore save hook.
func (i *Index) IndexTrace(ctx context.Context, trace *schema.Trace) error {
	return i.Put(ctx, trace)
}

// RemoveTrace implements the filestore delete hook.
func (i *Index) RemoveTrace(ctx context.Context, traceID string) error {
	return i.Remove(ctx, traceID)
}

func traceKey(traceID string) []byte {
	return []byte(prefixTrace + traceID)
}

func execKey(executionID, traceID string) []byte {
	return []byte(prefixExec + executionID + ":" + traceID)
}

func replayKey(originalID, replayID string) []byte {
	return []byte(prefixReplay + originalID + ":" + replayID)
}
