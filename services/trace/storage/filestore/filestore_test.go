// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)
	return s
}

type traceOpt func(*schema.Trace)

func onDate(date string) traceOpt {
	return func(tr *schema.Trace) { tr.Timestamp = date + "T12:00:00.000000" }
}

func at(timestamp string) traceOpt {
	return func(tr *schema.Trace) { tr.Timestamp = timestamp }
}

func forModel(model, provider string) traceOpt {
	return func(tr *schema.Trace) {
		tr.Request.Model = model
		tr.Request.Provider = provider
	}
}

func inExecution(execID string) traceOpt {
	return func(tr *schema.Trace) { tr.ExecutionID = execID }
}

func withParent(nodeID string) traceOpt {
	return func(tr *schema.Trace) { tr.ParentNodeID = nodeID }
}

func replayOf(traceID string) traceOpt {
	return func(tr *schema.Trace) { tr.ReplayOf = traceID }
}

func failing() traceOpt {
	return func(tr *schema.Trace) {
		v := schema.Fail(schema.SeverityHigh, []string{"forbidden substring(s) found: ['oops']"})
		tr.Verdict = &v
	}
}

func responding(text string) traceOpt {
	return func(tr *schema.Trace) { tr.Response.Text = text }
}

func makeTrace(opts ...traceOpt) *schema.Trace {
	tr := &schema.Trace{
		TraceID:     uuid.NewString(),
		Timestamp:   schema.NowTimestamp(),
		ExecutionID: uuid.NewString(),
		NodeID:      uuid.NewString(),
		Request: schema.Request{
			Provider: "openai",
			Model:    "gpt-4",
			Messages: []schema.Message{{Role: "user", Content: "hello"}},
		},
		Response: schema.Response{Text: "world", LatencyMs: 42},
		Runtime:  schema.Runtime{Library: "openai", Version: "1.0.0"},
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

func mustSave(t *testing.T, s *Store, traces ...*schema.Trace) {
	t.Helper()
	for _, tr := range traces {
		_, err := s.SaveTrace(context.Background(), tr)
		require.NoError(t, err)
	}
}

func TestSaveAndGetTrace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tr := makeTrace(onDate("2025-03-10"))

	path, err := s.SaveTrace(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t,
		filepath.Join(s.Root(), "traces", "2025-03-10", tr.TraceID+".json"), path)

	got, err := s.GetTrace(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Equal(t, tr.TraceID, got.TraceID)
	assert.Equal(t, tr.Response.Text, got.Response.Text)
	assert.Equal(t, tr.ExecutionID, got.ExecutionID)
}

func TestSaveTraceIdempotent(t *testing.T) {
	s := newStore(t)
	tr := makeTrace(onDate("2025-03-10"))

	mustSave(t, s, tr)
	mustSave(t, s, tr)

	entries, err := os.ReadDir(filepath.Join(s.TracesDir(), "2025-03-10"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "re-saving must replace, not duplicate")
}

func TestSaveTraceRejectsInvalid(t *testing.T) {
	s := newStore(t)
	tr := makeTrace()
	tr.ExecutionID = ""
	_, err := s.SaveTrace(context.Background(), tr)
	require.ErrorIs(t, err, schema.ErrInvalidTrace)
}

func TestGetTraceNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetTrace(context.Background(), "nope")
	require.ErrorIs(t, err, ErrTraceNotFound)
}

func TestListTracesOrderingAndPaging(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	older := makeTrace(onDate("2025-03-09"))
	newer := makeTrace(onDate("2025-03-10"))
	mustSave(t, s, older, newer)

	traces, err := s.ListTraces(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, newer.TraceID, traces[0].TraceID, "newest date first")
	assert.Equal(t, older.TraceID, traces[1].TraceID)

	page, err := s.ListTraces(ctx, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, older.TraceID, page[0].TraceID)

	empty, err := s.ListTraces(ctx, ListOptions{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListTracesFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	gpt := makeTrace(forModel("gpt-4", "openai"))
	llama := makeTrace(forModel("llama3", "local"))
	failed := makeTrace(forModel("gpt-4", "openai"), failing())
	mustSave(t, s, gpt, llama, failed)

	byModel, err := s.ListTraces(ctx, ListOptions{Model: "llama3"})
	require.NoError(t, err)
	require.Len(t, byModel, 1)
	assert.Equal(t, llama.TraceID, byModel[0].TraceID)

	byProvider, err := s.ListTraces(ctx, ListOptions{Provider: "openai"})
	require.NoError(t, err)
	assert.Len(t, byProvider, 2)

	failedOnly, err := s.ListTraces(ctx, ListOptions{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, failed.TraceID, failedOnly[0].TraceID)

	count, err := s.CountTraces(ctx, ListOptions{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestListTracesSkipsCorruptFiles(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tr := makeTrace(onDate("2025-03-10"))
	mustSave(t, s, tr)

	bad := filepath.Join(s.TracesDir(), "2025-03-10", "zzz-corrupt.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))

	traces, err := s.ListTraces(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, tr.TraceID, traces[0].TraceID)
}

func TestDeleteTrace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tr := makeTrace()
	mustSave(t, s, tr)

	existed, err := s.DeleteTrace(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = s.GetTrace(ctx, tr.TraceID)
	require.ErrorIs(t, err, ErrTraceNotFound)

	existed, err = s.DeleteTrace(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestBless(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tr := makeTrace(responding("The capital of France is Paris."))
	mustSave(t, s, tr)

	blessed, err := s.Bless(ctx, tr.TraceID, BlessOptions{})
	require.NoError(t, err)
	assert.True(t, blessed.Blessed)
	assert.Equal(t, schema.OutputHash("The capital of France is Paris."),
		blessed.Metadata[schema.MetaOutputHash])
	assert.NotEmpty(t, blessed.Metadata[schema.MetaBlessedAt])

	// The mutation is persisted, not just returned.
	stored, err := s.GetTrace(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.True(t, stored.Blessed)

	// Re-blessing the same trace is a no-op success.
	again, err := s.Bless(ctx, tr.TraceID, BlessOptions{})
	require.NoError(t, err)
	assert.True(t, again.Blessed)
}

func TestBlessGoldenUniqueness(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := makeTrace(forModel("gpt-4", "openai"))
	second := makeTrace(forModel("gpt-4", "openai"))
	other := makeTrace(forModel("llama3", "local"))
	mustSave(t, s, first, second, other)

	_, err := s.Bless(ctx, first.TraceID, BlessOptions{})
	require.NoError(t, err)

	_, err = s.Bless(ctx, second.TraceID, BlessOptions{})
	require.ErrorIs(t, err, ErrGoldenExists)

	// A different (model, provider) pair is unaffected.
	_, err = s.Bless(ctx, other.TraceID, BlessOptions{})
	require.NoError(t, err)

	// Force hands the crown over and unblesses the previous golden.
	_, err = s.Bless(ctx, second.TraceID, BlessOptions{Force: true})
	require.NoError(t, err)

	golden, err := s.GetGolden(ctx, "gpt-4", "openai")
	require.NoError(t, err)
	assert.Equal(t, second.TraceID, golden.TraceID)

	old, err := s.GetTrace(ctx, first.TraceID)
	require.NoError(t, err)
	assert.False(t, old.Blessed)
}

func TestUnbless(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tr := makeTrace()
	mustSave(t, s, tr)

	_, err := s.Bless(ctx, tr.TraceID, BlessOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Unbless(ctx, tr.TraceID))

	got, err := s.GetTrace(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.False(t, got.Blessed)
	assert.NotContains(t, got.Metadata, schema.MetaOutputHash)
	assert.NotContains(t, got.Metadata, schema.MetaBlessedAt)

	_, err = s.GetGolden(ctx, "gpt-4", "openai")
	require.ErrorIs(t, err, ErrGoldenNotFound)
}

func TestTracesByExecution(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	execID := uuid.NewString()

	second := makeTrace(inExecution(execID), at("2025-03-10T10:00:01.000000"))
	first := makeTrace(inExecution(execID), at("2025-03-10T10:00:00.000000"))
	outsider := makeTrace()
	mustSave(t, s, second, first, outsider)

	traces, err := s.TracesByExecution(ctx, execID)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, first.TraceID, traces[0].TraceID, "ascending by timestamp")
	assert.Equal(t, second.TraceID, traces[1].TraceID)
}

func TestLineage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	original := makeTrace(at("2025-03-10T10:00:00.000000"))
	child := makeTrace(at("2025-03-10T11:00:00.000000"), replayOf(original.TraceID))
	grandchild := makeTrace(at("2025-03-10T12:00:00.000000"), replayOf(child.TraceID))
	mustSave(t, s, original, child, grandchild)

	// Asking from the middle of the chain still yields the whole family,
	// original first.
	lineage, err := s.Lineage(ctx, child.TraceID)
	require.NoError(t, err)
	require.Len(t, lineage, 3)
	assert.Equal(t, original.TraceID, lineage[0].TraceID)

	ids := []string{lineage[0].TraceID, lineage[1].TraceID, lineage[2].TraceID}
	assert.ElementsMatch(t, ids,
		[]string{original.TraceID, child.TraceID, grandchild.TraceID})
}

func TestLineageUnknownTrace(t *testing.T) {
	s := newStore(t)
	lineage, err := s.Lineage(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, lineage)
}

func TestListExecutions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	execA := uuid.NewString()
	execB := uuid.NewString()

	mustSave(t, s,
		makeTrace(inExecution(execA), onDate("2025-03-09")),
		makeTrace(inExecution(execB), onDate("2025-03-10")),
		makeTrace(inExecution(execB), onDate("2025-03-10")))

	ids, err := s.ListExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, execB, ids[0], "listing order follows reverse chronology")
	assert.Equal(t, execA, ids[1])
}

func TestBuildExecutionGraph(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	execID := uuid.NewString()

	root := makeTrace(inExecution(execID), at("2025-03-10T10:00:00.000000"))
	leaf := makeTrace(inExecution(execID), at("2025-03-10T10:00:01.000000"),
		withParent(root.NodeID))
	mustSave(t, s, root, leaf)

	g, err := s.BuildExecutionGraph(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execID, g.ExecutionID)
	assert.Equal(t, 2, g.NodeCount)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, root.NodeID, g.Edges[0].FromNode)

	_, err = s.BuildExecutionGraph(ctx, "unknown-execution")
	require.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestSaveAndLoadGraph(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	execID := uuid.NewString()
	mustSave(t, s, makeTrace(inExecution(execID)))

	g, err := s.BuildExecutionGraph(ctx, execID)
	require.NoError(t, err)

	path, err := s.SaveGraph(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "graphs", execID+".json"), path)

	loaded, err := s.LoadGraph(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execID, loaded.ExecutionID)
	assert.True(t, loaded.VerifyIntegrity(), "stored snapshots must verify")

	ids, err := s.ListGraphs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{execID}, ids)
}

func TestLoadGraphNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.LoadGraph(context.Background(), "never-saved")
	require.ErrorIs(t, err, ErrGraphNotFound)
}

// fakeIndexer records index notifications and can be told to fail.
type fakeIndexer struct {
	indexed []string
	removed []string
	fail    bool
}

func (f *fakeIndexer) IndexTrace(_ context.Context, trace *schema.Trace) error {
	if f.fail {
		return assert.AnError
	}
	f.indexed = append(f.indexed, trace.TraceID)
	return nil
}

func (f *fakeIndexer) RemoveTrace(_ context.Context, traceID string) error {
	if f.fail {
		return assert.AnError
	}
	f.removed = append(f.removed, traceID)
	return nil
}

func TestIndexerNotifications(t *testing.T) {
	idx := &fakeIndexer{}
	s, err := New(Config{Root: t.TempDir(), Indexer: idx})
	require.NoError(t, err)
	ctx := context.Background()

	tr := makeTrace()
	mustSave(t, s, tr)
	assert.Equal(t, []string{tr.TraceID}, idx.indexed)

	_, err = s.DeleteTrace(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Equal(t, []string{tr.TraceID}, idx.removed)
}

func TestIndexerFailureDoesNotFailStore(t *testing.T) {
	idx := &fakeIndexer{fail: true}
	s, err := New(Config{Root: t.TempDir(), Indexer: idx})
	require.NoError(t, err)

	tr := makeTrace()
	_, err = s.SaveTrace(context.Background(), tr)
	require.NoError(t, err, "index failures are logged, not propagated")
}
