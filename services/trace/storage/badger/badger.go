// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the BadgerDB instance behind the trace
// index.
//
// Everything stored here is derived: the JSON trace files remain the ground
// truth, and a lost or corrupt database is repaired by rebuilding the index
// from them. That shapes the defaults; crash durability matters less than
// for a primary store, and DropAll during a rebuild is routine rather than
// alarming.
//
// BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config selects where and how the index database runs.
type Config struct {
	// Path is the directory for the database files. Required unless
	// InMemory is set, and ignored when it is.
	Path string

	// InMemory keeps everything in RAM. Tests use this; nothing survives
	// Close.
	InMemory bool

	// SyncWrites fsyncs every write. The index is rebuildable, so turning
	// this off only risks re-walking the trace files after a crash.
	SyncWrites bool

	// Logger receives BadgerDB's own log output. Nil silences it; the
	// default Badger logger prints straight to stderr, which would tear
	// through CLI output.
	Logger *slog.Logger

	// NumVersionsToKeep is Badger's per-key version retention. Index
	// entries are plain upserts, so anything above 1 is waste.
	NumVersionsToKeep int

	// GCInterval is how often value log garbage collection runs.
	// Zero disables it. Ignored for in-memory databases.
	GCInterval time.Duration

	// GCDiscardRatio is the fraction of a value log file that must be
	// stale before GC rewrites it.
	GCDiscardRatio float64
}

// DefaultConfig is the persistent-index configuration: synced writes,
// single version per key, GC every five minutes at a 0.5 discard ratio.
// Set Path before use.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig is the test configuration: RAM only, no syncing, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		NumVersionsToKeep: 1,
	}
}

// DB is a BadgerDB instance plus the value log GC runner tied to its
// lifetime. The embedded *badger.DB exposes the full Badger API.
type DB struct {
	*badger.DB
	gc *gcRunner
}

// OpenDB opens the database described by cfg, creating the directory for a
// persistent one, and starts GC when configured.
//
// Outputs:
//
//	*DB - The open database. Caller must Close it.
//	error - Non-nil if cfg is invalid or Badger cannot open.
//
// Thread Safety: The returned DB is safe for concurrent use.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required unless InMemory is set")
	}
	if cfg.NumVersionsToKeep < 1 {
		cfg.NumVersionsToKeep = 1
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if err := os.MkdirAll(cfg.Path, 0750); err != nil {
		return nil, fmt.Errorf("create badger dir %s: %w", cfg.Path, err)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(cfg.NumVersionsToKeep)

	// Badger's nil check makes an untyped nil logger mean "silent".
	var blog badger.Logger
	if cfg.Logger != nil {
		blog = &slogAdapter{logger: cfg.Logger}
	}
	opts = opts.WithLogger(blog)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}

	wrapped := &DB{DB: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		wrapped.gc = startGC(db, cfg)
	}
	return wrapped, nil
}

// Close stops the GC runner and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.halt()
		d.gc = nil
	}
	return d.DB.Close()
}

// WithTxn runs fn inside a read-write transaction and commits when fn
// returns nil. On error the transaction is discarded. The context is
// checked only on entry; Badger transactions themselves are not
// interruptible.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger txn: %w", err)
	}
	return d.DB.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger txn: %w", err)
	}
	return d.DB.View(fn)
}

// slogAdapter bridges Badger's printf-style Logger interface onto slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}

// gcRunner triggers value log GC on a timer. Index churn (watcher upserts,
// rebuilds) strands dead data in the value log; Badger only reclaims it
// when asked.
type gcRunner struct {
	stop chan struct{}
	done chan struct{}
}

func startGC(db *badger.DB, cfg Config) *gcRunner {
	r := &gcRunner{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				collectValueLog(db, cfg)
			}
		}
	}()
	return r
}

// halt stops the runner and waits for an in-flight collection to finish.
func (r *gcRunner) halt() {
	close(r.stop)
	<-r.done
}

// collectValueLog reclaims stale value log files. Each RunValueLogGC call
// rewrites at most one file, so it loops until Badger reports nothing left
// above the discard ratio.
func collectValueLog(db *badger.DB, cfg Config) {
	for {
		err := db.RunValueLogGC(cfg.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return
		}
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("value log GC failed", slog.String("error", err.Error()))
			}
			return
		}
		if cfg.Logger != nil {
			cfg.Logger.Debug("value log GC reclaimed a file")
		}
	}
}
