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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileChange is one debounced mutation to apply to the index.
type fileChange struct {
	path   string
	remove bool
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Debounce is how long to wait for further events before applying a
	// batch. Default: 200ms.
	Debounce time.Duration

	// BufferSize is the size of the pending-change channel. Default: 1000.
	BufferSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultWatcherConfig returns the defaults used when Start gets nil options.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Debounce:   200 * time.Millisecond,
		BufferSize: 1000,
	}
}

// Watcher keeps the index current when trace files are written by other
// processes.
//
// Description:
//
//	Watches the traces partition tree with fsnotify. Events are debounced
//	and deduplicated per path, then applied to the index: writes upsert,
//	removals delete. New date directories are attached on the fly, so a
//	day rollover needs no restart. The watcher is an optimisation layer;
//	anything it misses is recovered by Rebuild.
//
// Thread Safety: safe for concurrent use. Changes are applied from a
// single goroutine.
type Watcher struct {
	index     *Index
	tracesDir string
	fsw       *fsnotify.Watcher
	debounce  time.Duration
	log       *slog.Logger

	changes  chan fileChange
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a watcher that mirrors file changes under tracesDir
// into the index. Call Start to begin watching and Stop to halt.
func NewWatcher(idx *Index, tracesDir string, cfg *WatcherConfig) (*Watcher, error) {
	if cfg == nil {
		defaults := DefaultWatcherConfig()
		cfg = &defaults
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		index:     idx,
		tracesDir: tracesDir,
		fsw:       fsw,
		debounce:  cfg.Debounce,
		log:       log,
		changes:   make(chan fileChange, cfg.BufferSize),
		done:      make(chan struct{}),
	}, nil
}

// Start attaches to the traces directory and every existing date partition,
// then begins processing events until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.fsw.Add(w.tracesDir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.tracesDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.fsw.Add(filepath.Join(w.tracesDir, e.Name())); err != nil {
				return err
			}
		}
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop halts the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// processEvents converts fsnotify events into pending index changes.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("trace watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// A created directory is a new date partition: attach it and pick up
	// any files written before the watch landed.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.log.Warn("failed to watch new partition",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
				return
			}
			w.enqueueExisting(event.Name)
			return
		}
	}

	if filepath.Ext(event.Name) != ".json" {
		return
	}

	change := fileChange{path: event.Name}
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		change.remove = true
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
	default:
		return
	}
	w.enqueue(change)
}

// enqueueExisting queues every json file already present in a directory.
func (w *Watcher) enqueueExisting(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		w.enqueue(fileChange{path: filepath.Join(dir, e.Name())})
	}
}

func (w *Watcher) enqueue(change fileChange) {
	select {
	case w.changes <- change:
	default:
		// Buffer full; Rebuild recovers anything dropped here.
	}
}

// debounceLoop batches changes and applies them when the window expires.
func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := map[string]fileChange{}
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) > 0 {
			w.apply(ctx, pending)
			pending = map[string]fileChange{}
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			// Latest event per path wins.
			pending[change.path] = change

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// apply replays a debounced batch against the index.
func (w *Watcher) apply(ctx context.Context, pending map[string]fileChange) {
	start := time.Now()
	applied := 0
	for _, change := range pending {
		traceID := strings.TrimSuffix(filepath.Base(change.path), ".json")
		if change.remove {
			if err := w.index.Remove(ctx, traceID); err != nil {
				w.log.Warn("watcher index removal failed",
					slog.String("trace_id", traceID),
					slog.String("error", err.Error()))
			} else {
				applied++
			}
			continue
		}

		trace, err := loadTraceFile(change.path)
		if err != nil {
			// Partial or foreign write; a follow-up event or rebuild
			// will pick it up once it parses.
			w.log.Debug("skipping unparseable trace file",
				slog.String("path", change.path))
			continue
		}
		if err := w.index.put(ctx, trace, change.path); err != nil {
			w.log.Warn("watcher indexing failed",
				slog.String("trace_id", traceID),
				slog.String("error", err.Error()))
			continue
		}
		applied++
	}
	recordOperationMetrics(ctx, "watch", time.Since(start), true)
	w.log.Debug("applied watched trace changes",
		slog.Int("pending", len(pending)),
		slog.Int("applied", applied))
}
