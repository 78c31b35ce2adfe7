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
	"fmt"
	"math"
	"sort"
)

// TopologicalOrder returns node ids with parents before children.
//
// Description:
//
//	Kahn's algorithm. The queue is seeded with zero-in-degree nodes in
//	ingestion order and consumed FIFO, so ties resolve deterministically.
//	A node attached to a parent that is not in the graph never reaches
//	in-degree zero and is omitted; callers that require a total order treat
//	a short result as a malformed graph.
func (g *ExecutionGraph) TopologicalOrder() []string {
	children := make(map[string][]string, len(g.Nodes))
	inDegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		children[n.NodeID] = nil
		inDegree[n.NodeID] = 0
	}
	for _, e := range g.Edges {
		if _, ok := children[e.FromNode]; ok {
			children[e.FromNode] = append(children[e.FromNode], e.ToNode)
		}
		if _, ok := inDegree[e.ToNode]; ok {
			inDegree[e.ToNode]++
		}
	}

	queue := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if inDegree[n.NodeID] == 0 {
			queue = append(queue, n.NodeID)
		}
	}

	result := make([]string, 0, len(g.Nodes))
	for head := 0; head < len(queue); head++ {
		nodeID := queue[head]
		result = append(result, nodeID)
		for _, child := range children[nodeID] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	return result
}

// Children returns the direct children of a node, in edge order.
func (g *ExecutionGraph) Children(nodeID string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.FromNode == nodeID {
			out = append(out, e.ToNode)
		}
	}
	return out
}

// Parent returns a node's parent id, or "" for roots.
func (g *ExecutionGraph) Parent(nodeID string) string {
	for _, e := range g.Edges {
		if e.ToNode == nodeID {
			return e.FromNode
		}
	}
	return ""
}

// Node returns the node with the given id, or nil.
func (g *ExecutionGraph) Node(nodeID string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].NodeID == nodeID {
			return &g.Nodes[i]
		}
	}
	return nil
}

// FailedNodes returns every node whose trace verdict failed.
func (g *ExecutionGraph) FailedNodes() []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Failed() {
			out = append(out, n)
		}
	}
	return out
}

// TaintedNodes returns the blast radius of a node: itself plus everything
// reachable through outgoing edges, in BFS discovery order.
func (g *ExecutionGraph) TaintedNodes(nodeID string) []string {
	seen := map[string]bool{}
	order := []string{}
	queue := []string{nodeID}
	for head := 0; head < len(queue); head++ {
		id := queue[head]
		if seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
		queue = append(queue, g.Children(id)...)
	}
	return order
}

// ComputeVerdict derives the execution-level verdict.
//
// Description:
//
//	The graph fails iff any node fails. The root cause is the first failed
//	node in topological order. Tainted counts every node downstream of any
//	failure, excluding the failures themselves.
func (g *ExecutionGraph) ComputeVerdict() GraphVerdict {
	failed := g.FailedNodes()
	if len(failed) == 0 {
		return GraphVerdict{Status: "pass", Message: "All nodes passed"}
	}

	failedIDs := make(map[string]bool, len(failed))
	for _, n := range failed {
		failedIDs[n.NodeID] = true
	}

	rootCause := ""
	for _, nodeID := range g.TopologicalOrder() {
		if failedIDs[nodeID] {
			rootCause = nodeID
			break
		}
	}

	tainted := map[string]bool{}
	for _, n := range failed {
		for _, id := range g.TaintedNodes(n.NodeID) {
			tainted[id] = true
		}
	}
	taintedOnly := 0
	for id := range tainted {
		if !failedIDs[id] {
			taintedOnly++
		}
	}

	rootLabel := "unknown"
	if node := g.Node(rootCause); node != nil {
		rootLabel = node.Label
	}

	return GraphVerdict{
		Status:        "fail",
		RootCauseNode: rootCause,
		FailedCount:   len(failed),
		TaintedCount:  taintedOnly,
		Message:       fmt.Sprintf("Root cause: %s", rootLabel),
	}
}

// ComputeCriticalPath finds the longest-latency chain through the graph.
//
// Description:
//
//	Dynamic programming over topological order. Each node starts at
//	(own latency, [self]) and relaxes over its parents, so the distance to a
//	node is the heaviest chain ending there. The answer is the end node
//	(out-degree zero) with the maximal distance; the bottleneck is the
//	slowest node on that chain.
func (g *ExecutionGraph) ComputeCriticalPath() CriticalPath {
	if len(g.Nodes) == 0 {
		return CriticalPath{Path: []string{}}
	}

	latency := make(map[string]int, len(g.Nodes))
	children := make(map[string][]string, len(g.Nodes))
	parents := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		latency[n.NodeID] = n.LatencyMs
		children[n.NodeID] = nil
		parents[n.NodeID] = nil
	}
	for _, e := range g.Edges {
		if _, ok := children[e.FromNode]; ok {
			children[e.FromNode] = append(children[e.FromNode], e.ToNode)
		}
		if _, ok := parents[e.ToNode]; ok {
			parents[e.ToNode] = append(parents[e.ToNode], e.FromNode)
		}
	}

	type chain struct {
		dist int
		path []string
	}
	longestTo := make(map[string]chain, len(g.Nodes))
	for _, n := range g.Nodes {
		longestTo[n.NodeID] = chain{dist: n.LatencyMs, path: []string{n.NodeID}}
	}

	for _, nodeID := range g.TopologicalOrder() {
		for _, parent := range parents[nodeID] {
			p := longestTo[parent]
			if newDist := p.dist + latency[nodeID]; newDist > longestTo[nodeID].dist {
				path := make([]string, 0, len(p.path)+1)
				path = append(path, p.path...)
				path = append(path, nodeID)
				longestTo[nodeID] = chain{dist: newDist, path: path}
			}
		}
	}

	bestEnd := ""
	bestDist := -1
	for _, n := range g.Nodes {
		if len(children[n.NodeID]) != 0 {
			continue
		}
		if d := longestTo[n.NodeID].dist; d > bestDist {
			bestEnd = n.NodeID
			bestDist = d
		}
	}
	if bestEnd == "" {
		return CriticalPath{Path: []string{}}
	}

	best := longestTo[bestEnd]
	bottleneck := ""
	bottleneckMs := -1
	for _, id := range best.path {
		if latency[id] > bottleneckMs {
			bottleneck = id
			bottleneckMs = latency[id]
		}
	}

	return CriticalPath{
		Path:                best.path,
		TotalLatencyMs:      best.dist,
		BottleneckNode:      bottleneck,
		BottleneckLatencyMs: bottleneckMs,
	}
}

// FindBottlenecks returns the topN slowest nodes with their share of total
// latency, rounded to one decimal. Empty when the graph has no nodes or no
// recorded latency.
func (g *ExecutionGraph) FindBottlenecks(topN int) []Bottleneck {
	if len(g.Nodes) == 0 || g.TotalLatencyMs == 0 {
		return []Bottleneck{}
	}

	sorted := make([]Node, len(g.Nodes))
	copy(sorted, g.Nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LatencyMs > sorted[j].LatencyMs
	})
	if topN < len(sorted) {
		sorted = sorted[:topN]
	}

	out := make([]Bottleneck, 0, len(sorted))
	for _, n := range sorted {
		pct := float64(n.LatencyMs) / float64(g.TotalLatencyMs) * 100
		out = append(out, Bottleneck{
			NodeID:         n.NodeID,
			Label:          n.Label,
			LatencyMs:      n.LatencyMs,
			PercentOfTotal: math.Round(pct*10) / 10,
		})
	}
	return out
}

// InvestigationPath derives the debugging playbook for this graph.
//
// Description:
//
//	Pure graph reasoning, no learned component. A passing graph yields a
//	single "nothing to do" step. A failing graph walks outward from the
//	root cause: the failure itself, the input that fed it, the validation
//	rules that judged it, and finally the blast radius.
func (g *ExecutionGraph) InvestigationPath() []InvestigationStep {
	verdict := g.ComputeVerdict()
	if verdict.Status != "fail" {
		return []InvestigationStep{{
			Step:   1,
			Action: "No investigation needed",
			Detail: "All nodes passed",
		}}
	}

	steps := []InvestigationStep{}
	add := func(action, nodeID, detail string) {
		steps = append(steps, InvestigationStep{
			Step:   len(steps) + 1,
			Action: action,
			NodeID: nodeID,
			Detail: detail,
		})
	}

	rootLabel := "unknown"
	if n := g.Node(verdict.RootCauseNode); n != nil {
		rootLabel = n.HumanLabel
	}
	add("Examine root cause", verdict.RootCauseNode,
		fmt.Sprintf("'%s' is the first failure in execution order", rootLabel))

	if parent := g.Parent(verdict.RootCauseNode); parent != "" {
		parentLabel := "unknown"
		if n := g.Node(parent); n != nil {
			parentLabel = n.HumanLabel
		}
		add("Inspect its input", parent,
			fmt.Sprintf("'%s' produced the input consumed by the failing node", parentLabel))
	}

	for _, n := range g.Nodes {
		if n.Role == RoleValidation {
			add("Review validation rules", n.NodeID,
				fmt.Sprintf("'%s' defines the expectations that judged this execution", n.HumanLabel))
			break
		}
	}

	if verdict.TaintedCount > 0 {
		add("Assess blast radius", "",
			fmt.Sprintf("%d downstream node(s) consumed tainted output", verdict.TaintedCount))
	}

	return steps
}
