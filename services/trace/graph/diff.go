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

// DefaultLatencyThresholdMs is the latency movement below which a node is
// not reported as changed.
const DefaultLatencyThresholdMs = 50

// NodeDiff describes one node-level difference between two graphs. Nodes
// match by semantic label, not node id, so reruns with fresh random ids
// still line up.
type NodeDiff struct {
	Label          string `json:"label"`
	NodeID         string `json:"node_id,omitempty"`
	LatencyDeltaMs int    `json:"latency_delta_ms"`
	VerdictBefore  string `json:"verdict_before,omitempty"`
	VerdictAfter   string `json:"verdict_after,omitempty"`
}

// GraphDiff is the structural comparison of two executions.
type GraphDiff struct {
	AddedNodes     []NodeDiff `json:"added_nodes"`
	RemovedNodes   []NodeDiff `json:"removed_nodes"`
	ChangedNodes   []NodeDiff `json:"changed_nodes"`
	LatencyDeltaMs int        `json:"latency_delta_ms"`
	VerdictChanged bool       `json:"verdict_changed"`
	TotalChanges   int        `json:"total_changes"`
}

// DiffOption adjusts diff sensitivity.
type DiffOption func(*differ)

// WithLatencyThreshold overrides the per-node latency movement, in
// milliseconds, required to count a matched node as changed.
func WithLatencyThreshold(ms int) DiffOption {
	return func(d *differ) { d.latencyThresholdMs = ms }
}

type differ struct {
	latencyThresholdMs int
}

// Diff compares graph a (before) against graph b (after).
//
// Description:
//
//	Nodes pair up by semantic key: human_label when present, else label.
//	A key only in b is an addition (delta = +latency, verdict carried); only
//	in a, a removal (delta = -latency). A key in both changes when latency
//	moved more than the threshold or the verdict flipped. The overall
//	latency delta is b.total - a.total regardless of per-node reporting.
func Diff(a, b *ExecutionGraph, opts ...DiffOption) GraphDiff {
	d := differ{latencyThresholdMs: DefaultLatencyThresholdMs}
	for _, opt := range opts {
		opt(&d)
	}

	aByKey := nodesByKey(a)
	bByKey := nodesByKey(b)

	diff := GraphDiff{
		AddedNodes:   []NodeDiff{},
		RemovedNodes: []NodeDiff{},
		ChangedNodes: []NodeDiff{},
	}

	for _, bn := range b.Nodes {
		key := semanticKey(bn)
		an, existed := aByKey[key]
		if !existed {
			diff.AddedNodes = append(diff.AddedNodes, NodeDiff{
				Label:          key,
				NodeID:         bn.NodeID,
				LatencyDeltaMs: bn.LatencyMs,
				VerdictAfter:   bn.VerdictStatus,
			})
			continue
		}
		delta := bn.LatencyMs - an.LatencyMs
		verdictFlip := an.VerdictStatus != bn.VerdictStatus
		if abs(delta) > d.latencyThresholdMs || verdictFlip {
			diff.ChangedNodes = append(diff.ChangedNodes, NodeDiff{
				Label:          key,
				NodeID:         bn.NodeID,
				LatencyDeltaMs: delta,
				VerdictBefore:  an.VerdictStatus,
				VerdictAfter:   bn.VerdictStatus,
			})
		}
	}

	for _, an := range a.Nodes {
		key := semanticKey(an)
		if _, stillThere := bByKey[key]; !stillThere {
			diff.RemovedNodes = append(diff.RemovedNodes, NodeDiff{
				Label:          key,
				NodeID:         an.NodeID,
				LatencyDeltaMs: -an.LatencyMs,
				VerdictBefore:  an.VerdictStatus,
			})
		}
	}

	diff.LatencyDeltaMs = b.TotalLatencyMs - a.TotalLatencyMs
	diff.VerdictChanged = a.ComputeVerdict().Status != b.ComputeVerdict().Status
	diff.TotalChanges = len(diff.AddedNodes) + len(diff.RemovedNodes) + len(diff.ChangedNodes)
	return diff
}

// DiffWith compares g (before) against other (after).
func (g *ExecutionGraph) DiffWith(other *ExecutionGraph, opts ...DiffOption) GraphDiff {
	return Diff(g, other, opts...)
}

// semanticKey identifies a node across executions. Duplicate keys within one
// graph collapse to the last occurrence.
func semanticKey(n Node) string {
	if n.HumanLabel != "" {
		return n.HumanLabel
	}
	return n.Label
}

func nodesByKey(g *ExecutionGraph) map[string]Node {
	out := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		out[semanticKey(n)] = n
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
