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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
)

const (
	watchWait = 5 * time.Second
	watchTick = 20 * time.Millisecond
)

func startWatcher(t *testing.T, idx *Index, tracesDir string) *Watcher {
	t.Helper()
	w, err := NewWatcher(idx, tracesDir, &WatcherConfig{Debounce: 30 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func indexed(idx *Index, traceID string) func() bool {
	return func() bool {
		_, err := idx.Get(context.Background(), traceID)
		return err == nil
	}
}

func notIndexed(idx *Index, traceID string) func() bool {
	return func() bool {
		_, err := idx.Get(context.Background(), traceID)
		return err != nil
	}
}

func TestWatcherIndexesExternalWrites(t *testing.T) {
	root := t.TempDir()
	// No Indexer hook: every write reaches the index through fsnotify only.
	store, err := filestore.New(filestore.Config{Root: root})
	require.NoError(t, err)
	idx := newIndex(t, root)
	startWatcher(t, idx, store.TracesDir())

	ctx := context.Background()

	// First trace of a day lands in a partition created after the watch
	// attached, exercising the new-directory path.
	first := makeTrace(at("2025-03-10T08:00:00.000000"))
	_, err = store.SaveTrace(ctx, first)
	require.NoError(t, err)
	require.Eventually(t, indexed(idx, first.TraceID), watchWait, watchTick,
		"write in a fresh partition should be indexed")

	second := makeTrace(at("2025-03-10T09:00:00.000000"))
	_, err = store.SaveTrace(ctx, second)
	require.NoError(t, err)
	require.Eventually(t, indexed(idx, second.TraceID), watchWait, watchTick,
		"write in a watched partition should be indexed")

	nextDay := makeTrace(at("2025-03-11T08:00:00.000000"))
	_, err = store.SaveTrace(ctx, nextDay)
	require.NoError(t, err)
	require.Eventually(t, indexed(idx, nextDay.TraceID), watchWait, watchTick,
		"day rollover should attach the new partition")

	deleted, err := store.DeleteTrace(ctx, second.TraceID)
	require.NoError(t, err)
	require.True(t, deleted)
	require.Eventually(t, notIndexed(idx, second.TraceID), watchWait, watchTick,
		"deletes should drop the entry")
}

func TestWatcherStop(t *testing.T) {
	root := t.TempDir()
	store, err := filestore.New(filestore.Config{Root: root})
	require.NoError(t, err)
	idx := newIndex(t, root)

	w := startWatcher(t, idx, store.TracesDir())
	assert.True(t, w.IsWatching())

	w.Stop()
	assert.False(t, w.IsWatching())
	w.Stop() // idempotent
}

func TestWatcherStartTwice(t *testing.T) {
	root := t.TempDir()
	store, err := filestore.New(filestore.Config{Root: root})
	require.NoError(t, err)
	idx := newIndex(t, root)

	w := startWatcher(t, idx, store.TracesDir())
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsWatching())
}
