// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/phylax/services/trace/graph"
	"github.com/AleutianAI/phylax/services/trace/regression"
	"github.com/AleutianAI/phylax/services/trace/schema"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
)

type nodeSpec struct {
	node    string
	parent  string
	prompt  string
	latency int
	failed  bool
}

// seedExecution persists one trace per spec with deterministic timestamps,
// so store ordering matches the spec order.
func seedExecution(t *testing.T, ts *testServer, executionID string, specs []nodeSpec) {
	t.Helper()
	for i, ns := range specs {
		tr := schema.NewTrace(schema.Request{
			Provider: "openai",
			Model:    "gpt-4o",
			Messages: []schema.Message{{Role: "user", Content: ns.prompt}},
		}, schema.Response{Text: "out", LatencyMs: ns.latency},
			schema.Runtime{Library: "openai"})
		tr.ExecutionID = executionID
		tr.NodeID = ns.node
		tr.ParentNodeID = ns.parent
		tr.Timestamp = fmt.Sprintf("2026-08-25T10:00:%02d.000000", i)
		if ns.failed {
			tr.Verdict = &schema.Verdict{Status: schema.StatusFail}
		}
		_, err := ts.store.SaveTrace(context.Background(), tr)
		require.NoError(t, err)
	}
}

func linearChain() []nodeSpec {
	return []nodeSpec{
		{node: "n1", prompt: "plan the work", latency: 10},
		{node: "n2", parent: "n1", prompt: "draft the answer", latency: 50},
		{node: "n3", parent: "n2", prompt: "polish the answer", latency: 20},
	}
}

func TestHandleListExecutions(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/executions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExecutionsResponse
	decodeJSON(t, w, &resp)
	assert.Zero(t, resp.Total)
	assert.NotNil(t, resp.Executions)

	seedExecution(t, ts, "exec-a", linearChain()[:1])
	seedExecution(t, ts, "exec-b", linearChain()[:1])

	w = ts.do(t, http.MethodGet, "/v1/executions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	assert.Equal(t, 2, resp.Total)
	assert.ElementsMatch(t, []string{"exec-a", "exec-b"}, resp.Executions)
}

func TestHandleExecutionTraces(t *testing.T) {
	ts := newTestServer(t)
	seedExecution(t, ts, "exec-linear", linearChain())

	w := ts.do(t, http.MethodGet, "/v1/executions/exec-linear/traces", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExecutionTracesResponse
	decodeJSON(t, w, &resp)
	assert.Equal(t, "exec-linear", resp.ExecutionID)
	require.Equal(t, 3, resp.Total)
	assert.Equal(t, "n1", resp.Traces[0].NodeID)
	assert.Equal(t, "n3", resp.Traces[2].NodeID)
}

func TestHandleExecutionTraces_NotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/executions/unknown/traces", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	assert.Equal(t, "EXECUTION_NOT_FOUND", resp.Code)
}

func TestHandleExecutionGraph(t *testing.T) {
	ts := newTestServer(t)
	seedExecution(t, ts, "exec-linear", linearChain())

	w := ts.do(t, http.MethodGet, "/v1/executions/exec-linear/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var g graph.ExecutionGraph
	decodeJSON(t, w, &g)
	assert.Equal(t, "exec-linear", g.ExecutionID)
	assert.Equal(t, 3, g.NodeCount)
	assert.Len(t, g.Edges, 2)
	assert.Equal(t, "n1", g.RootNodeID)
	assert.Equal(t, 80, g.TotalLatencyMs)
	assert.Empty(t, g.IntegrityHash, "plain reads are not snapshots")
}

func TestHandleExecutionGraph_Snapshot(t *testing.T) {
	ts := newTestServer(t)
	seedExecution(t, ts, "exec-linear", linearChain())

	w := ts.do(t, http.MethodGet, "/v1/executions/exec-linear/graph?snapshot=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var g graph.ExecutionGraph
	decodeJSON(t, w, &g)
	assert.NotEmpty(t, g.IntegrityHash)
	assert.NotEmpty(t, g.SnapshotAt)

	// The snapshot is persisted and loads back verifiable.
	stored, err := ts.store.LoadGraph(context.Background(), "exec-linear")
	require.NoError(t, err)
	assert.Equal(t, g.IntegrityHash, stored.IntegrityHash)
	assert.True(t, stored.VerifyIntegrity())
}

func TestHandleExecutionGraph_NotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/executions/unknown/graph", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	assert.Equal(t, "EXECUTION_NOT_FOUND", resp.Code)
}

func TestHandleGraphVerdict(t *testing.T) {
	ts := newTestServer(t)
	seedExecution(t, ts, "exec-pass", linearChain())
	seedExecution(t, ts, "exec-fail", []nodeSpec{
		{node: "f1", prompt: "plan the work", latency: 10},
		{node: "f2", parent: "f1", prompt: "draft the answer", latency: 50, failed: true},
		{node: "f3", parent: "f2", prompt: "polish the answer", latency: 20},
	})

	w := ts.do(t, http.MethodGet, "/v1/executions/exec-pass/graph/verdict", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var verdict graph.GraphVerdict
	decodeJSON(t, w, &verdict)
	assert.Equal(t, schema.VerdictStatus("pass"), verdict.Status)

	w = ts.do(t, http.MethodGet, "/v1/executions/exec-fail/graph/verdict", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &verdict)
	assert.Equal(t, schema.VerdictStatus("fail"), verdict.Status)
	assert.Equal(t, "f2", verdict.RootCauseNode)
	assert.Equal(t, 1, verdict.FailedCount)
	assert.Equal(t, 1, verdict.TaintedCount)
}

func TestHandleGraphCriticalPath(t *testing.T) {
	ts := newTestServer(t)
	seedExecution(t, ts, "exec-linear", linearChain())

	w := ts.do(t, http.MethodGet, "/v1/executions/exec-linear/graph/critical-path", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cp graph.CriticalPath
	decodeJSON(t, w, &cp)
	assert.Equal(t, []string{"n1", "n2", "n3"}, cp.Path)
	assert.Equal(t, 80, cp.TotalLatencyMs)
	assert.Equal(t, "n2", cp.BottleneckNode)
	assert.Equal(t, 50, cp.BottleneckLatencyMs)
}

func TestHandleGraphDiff(t *testing.T) {
	ts := newTestServer(t)
	seedExecution(t, ts, "exec-before", linearChain())
	seedExecution(t, ts, "exec-after", append(linearChain(),
		nodeSpec{node: "n4", parent: "n3", prompt: "cite the sources", latency: 30}))

	w := ts.do(t, http.MethodGet, "/v1/executions/exec-before/graph/diff/exec-after", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var diff graph.GraphDiff
	decodeJSON(t, w, &diff)
	assert.Len(t, diff.AddedNodes, 1)
	assert.Empty(t, diff.RemovedNodes)
	assert.Equal(t, 30, diff.LatencyDeltaMs)
	assert.GreaterOrEqual(t, diff.TotalChanges, 1)
}

func TestHandleGraphDiff_BadThreshold(t *testing.T) {
	ts := newTestServer(t)
	seedExecution(t, ts, "exec-before", linearChain())

	w := ts.do(t, http.MethodGet,
		"/v1/executions/exec-before/graph/diff/exec-before?latency_threshold_ms=soon", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestHandleGraphDiff_NotFound(t *testing.T) {
	ts := newTestServer(t)
	seedExecution(t, ts, "exec-before", linearChain())

	w := ts.do(t, http.MethodGet, "/v1/executions/exec-before/graph/diff/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCheck_NoGoldens(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/check", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report regression.Report
	decodeJSON(t, w, &report)
	assert.Zero(t, report.Total)
	assert.True(t, report.Passed)
}

func TestHandleCheck_Pass(t *testing.T) {
	ts := newTestServer(t)

	// The golden's output matches what the provider returns now.
	golden := seedTrace(t, ts, "gpt-4o", "openai", "replayed output")
	_, err := ts.store.Bless(context.Background(), golden.TraceID, filestore.BlessOptions{})
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/v1/check", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report regression.Report
	decodeJSON(t, w, &report)
	require.Equal(t, 1, report.Total)
	assert.Zero(t, report.Failures)
	assert.True(t, report.Passed)
	assert.True(t, report.Results[0].Match)
}

func TestHandleCheck_Regression(t *testing.T) {
	ts := newTestServer(t)

	golden := seedTrace(t, ts, "gpt-4o", "openai", "the old answer")
	_, err := ts.store.Bless(context.Background(), golden.TraceID, filestore.BlessOptions{})
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/v1/check", nil)
	require.Equal(t, http.StatusOK, w.Code,
		"regressions are reported in the body, not the status")

	var report regression.Report
	decodeJSON(t, w, &report)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Failures)
	assert.False(t, report.Passed)
	assert.False(t, report.Results[0].Match)
	assert.NotEmpty(t, report.Results[0].NewTraceID)
}
