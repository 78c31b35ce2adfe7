// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

// chainGraph builds A -> B -> C with the given verdict statuses.
func chainGraph(t *testing.T, statuses ...schema.VerdictStatus) *ExecutionGraph {
	t.Helper()
	execID := uuid.NewString()
	ids := []string{"A", "B", "C"}
	var traces []*schema.Trace
	for i, status := range statuses {
		opts := []traceOpt{withStatus(status)}
		if i > 0 {
			opts = append(opts, withParent(ids[i-1]))
		}
		traces = append(traces, makeTrace(execID, ids[i], "step "+ids[i], opts...))
	}
	g, err := FromTraces(context.Background(), traces)
	require.NoError(t, err)
	return g
}

// TestTopologicalOrder verifies parents precede children with insertion-order
// tie breaking.
func TestTopologicalOrder(t *testing.T) {
	t.Run("linear chain", func(t *testing.T) {
		g := chainGraph(t, schema.StatusPass, schema.StatusPass, schema.StatusPass)
		assert.Equal(t, []string{"A", "B", "C"}, g.TopologicalOrder())
	})

	t.Run("diamond keeps ingestion order for ties", func(t *testing.T) {
		execID := uuid.NewString()
		traces := []*schema.Trace{
			makeTrace(execID, "root", "root step", withNoVerdict()),
			makeTrace(execID, "left", "left step", withParent("root"), withNoVerdict()),
			makeTrace(execID, "right", "right step", withParent("root"), withNoVerdict()),
			makeTrace(execID, "join", "join step", withParent("left"), withNoVerdict()),
		}
		g, err := FromTraces(context.Background(), traces)
		require.NoError(t, err)
		assert.Equal(t, []string{"root", "left", "right", "join"}, g.TopologicalOrder())
	})

	t.Run("dangling parent drops the orphan child", func(t *testing.T) {
		execID := uuid.NewString()
		traces := []*schema.Trace{
			makeTrace(execID, "a", "fine", withNoVerdict()),
			makeTrace(execID, "b", "orphan", withParent("ghost"), withNoVerdict()),
		}
		g, err := FromTraces(context.Background(), traces)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, g.TopologicalOrder())
	})
}

// TestStructuralQueries verifies children, parent and node lookup.
func TestStructuralQueries(t *testing.T) {
	g := chainGraph(t, schema.StatusPass, schema.StatusPass, schema.StatusPass)

	assert.Equal(t, []string{"B"}, g.Children("A"))
	assert.Nil(t, g.Children("C"))
	assert.Equal(t, "A", g.Parent("B"))
	assert.Empty(t, g.Parent("A"))

	require.NotNil(t, g.Node("B"))
	assert.Equal(t, "B", g.Node("B").NodeID)
	assert.Nil(t, g.Node("missing"))
}

// TestTaintedNodes verifies the inclusive blast radius.
func TestTaintedNodes(t *testing.T) {
	g := chainGraph(t, schema.StatusPass, schema.StatusFail, schema.StatusPass)

	assert.Equal(t, []string{"B", "C"}, g.TaintedNodes("B"))
	assert.Equal(t, []string{"A", "B", "C"}, g.TaintedNodes("A"))
	assert.Equal(t, []string{"C"}, g.TaintedNodes("C"))
}

// TestComputeVerdict verifies the pass case and the mid-chain failure case:
// three nodes A->B->C with B failing must blame B and taint only C.
func TestComputeVerdict(t *testing.T) {
	t.Run("all passing", func(t *testing.T) {
		g := chainGraph(t, schema.StatusPass, schema.StatusPass, schema.StatusPass)
		v := g.ComputeVerdict()
		assert.Equal(t, schema.StatusPass, v.Status)
		assert.Equal(t, "All nodes passed", v.Message)
		assert.Empty(t, v.RootCauseNode)
		assert.Zero(t, v.FailedCount)
		assert.Zero(t, v.TaintedCount)
	})

	t.Run("two passing nodes stay untainted", func(t *testing.T) {
		g := chainGraph(t, schema.StatusPass, schema.StatusPass)
		v := g.ComputeVerdict()
		assert.Equal(t, schema.StatusPass, v.Status)
		assert.Zero(t, v.TaintedCount)
	})

	t.Run("mid-chain failure", func(t *testing.T) {
		g := chainGraph(t, schema.StatusPass, schema.StatusFail, schema.StatusPass)
		v := g.ComputeVerdict()
		require.Equal(t, schema.StatusFail, v.Status)
		assert.Equal(t, "B", v.RootCauseNode)
		assert.Equal(t, 1, v.FailedCount)
		assert.Equal(t, 1, v.TaintedCount)
		assert.Contains(t, v.Message, "Root cause: ")
		assert.Contains(t, v.Message, g.Node("B").Label)
	})

	t.Run("earliest failure in topological order wins", func(t *testing.T) {
		g := chainGraph(t, schema.StatusFail, schema.StatusPass, schema.StatusFail)
		v := g.ComputeVerdict()
		assert.Equal(t, "A", v.RootCauseNode)
		assert.Equal(t, 2, v.FailedCount)
		// B is downstream of A and not itself failed.
		assert.Equal(t, 1, v.TaintedCount)
	})
}

// TestComputeCriticalPath verifies the DP on the branching scenario:
// A(100)->B(500)->C(100) with a side branch D(50) off A.
func TestComputeCriticalPath(t *testing.T) {
	execID := uuid.NewString()
	traces := []*schema.Trace{
		makeTrace(execID, "A", "step a", withLatency(100), withNoVerdict()),
		makeTrace(execID, "B", "step b", withParent("A"), withLatency(500), withNoVerdict()),
		makeTrace(execID, "C", "step c", withParent("B"), withLatency(100), withNoVerdict()),
		makeTrace(execID, "D", "step d", withParent("A"), withLatency(50), withNoVerdict()),
	}
	g, err := FromTraces(context.Background(), traces)
	require.NoError(t, err)

	cp := g.ComputeCriticalPath()
	assert.Equal(t, []string{"A", "B", "C"}, cp.Path)
	assert.Equal(t, 700, cp.TotalLatencyMs)
	assert.Equal(t, "B", cp.BottleneckNode)
	assert.Equal(t, 500, cp.BottleneckLatencyMs)
}

// TestComputeCriticalPathDegenerate verifies empty and single-node graphs.
func TestComputeCriticalPathDegenerate(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		g := &ExecutionGraph{}
		cp := g.ComputeCriticalPath()
		assert.Empty(t, cp.Path)
		assert.Zero(t, cp.TotalLatencyMs)
		assert.Empty(t, cp.BottleneckNode)
	})

	t.Run("single node", func(t *testing.T) {
		execID := uuid.NewString()
		g, err := FromTraces(context.Background(), []*schema.Trace{
			makeTrace(execID, "solo", "only step", withLatency(250), withNoVerdict()),
		})
		require.NoError(t, err)
		cp := g.ComputeCriticalPath()
		assert.Equal(t, []string{"solo"}, cp.Path)
		assert.Equal(t, 250, cp.TotalLatencyMs)
		assert.Equal(t, "solo", cp.BottleneckNode)
	})
}

// TestFindBottlenecks verifies ranking, rounding and the degenerate cases.
func TestFindBottlenecks(t *testing.T) {
	execID := uuid.NewString()
	traces := []*schema.Trace{
		makeTrace(execID, "A", "step a", withLatency(100), withNoVerdict()),
		makeTrace(execID, "B", "step b", withParent("A"), withLatency(500), withNoVerdict()),
		makeTrace(execID, "C", "step c", withParent("B"), withLatency(400), withNoVerdict()),
	}
	g, err := FromTraces(context.Background(), traces)
	require.NoError(t, err)

	t.Run("ranks by latency descending", func(t *testing.T) {
		got := g.FindBottlenecks(2)
		require.Len(t, got, 2)
		assert.Equal(t, "B", got[0].NodeID)
		assert.Equal(t, 500, got[0].LatencyMs)
		assert.Equal(t, 50.0, got[0].PercentOfTotal)
		assert.Equal(t, "C", got[1].NodeID)
		assert.Equal(t, 40.0, got[1].PercentOfTotal)
	})

	t.Run("topN beyond size returns all", func(t *testing.T) {
		assert.Len(t, g.FindBottlenecks(10), 3)
	})

	t.Run("zero total latency yields nothing", func(t *testing.T) {
		zero, err := FromTraces(context.Background(), []*schema.Trace{
			makeTrace(execID, "Z", "instant", withLatency(0), withNoVerdict()),
		})
		require.NoError(t, err)
		assert.Empty(t, zero.FindBottlenecks(3))
	})
}

// TestInvestigationPath verifies the playbook for passing and failing graphs.
func TestInvestigationPath(t *testing.T) {
	t.Run("passing graph needs nothing", func(t *testing.T) {
		g := chainGraph(t, schema.StatusPass, schema.StatusPass)
		steps := g.InvestigationPath()
		require.Len(t, steps, 1)
		assert.Equal(t, 1, steps[0].Step)
		assert.Equal(t, "No investigation needed", steps[0].Action)
	})

	t.Run("failing graph walks the playbook in order", func(t *testing.T) {
		g := chainGraph(t, schema.StatusPass, schema.StatusFail, schema.StatusPass)
		steps := g.InvestigationPath()
		require.Len(t, steps, 4)

		assert.Equal(t, "Examine root cause", steps[0].Action)
		assert.Equal(t, "B", steps[0].NodeID)

		assert.Equal(t, "Inspect its input", steps[1].Action)
		assert.Equal(t, "A", steps[1].NodeID)

		assert.Equal(t, "Review validation rules", steps[2].Action)

		assert.Equal(t, "Assess blast radius", steps[3].Action)
		assert.Contains(t, steps[3].Detail, "1 downstream node(s)")

		for i, step := range steps {
			assert.Equal(t, i+1, step.Step)
		}
	})

	t.Run("root-cause failure at the root skips the input step", func(t *testing.T) {
		g := chainGraph(t, schema.StatusFail, schema.StatusPass, schema.StatusPass)
		steps := g.InvestigationPath()
		for _, s := range steps {
			assert.NotEqual(t, "Inspect its input", s.Action)
		}
	})
}
