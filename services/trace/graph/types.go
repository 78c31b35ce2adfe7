// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph turns the traces of one execution into a read-only causal
// DAG and answers questions about it.
//
// Description:
//
//	Each trace becomes one node; parent_node_id draws the edges. After
//	construction the graph never mutates, so every analysis (topological
//	order, verdict, critical path, taint, diff) is a pure function over a
//	frozen value and graphs can be shared across goroutines without locks.
//	Snapshots seal a graph with a content hash for CI gating and audit.
package graph

import "github.com/AleutianAI/phylax/services/trace/schema"

// NodeRole classifies what a node does in the pipeline. Roles are inferred
// deterministically from the trace content, never learned.
type NodeRole string

const (
	RoleInput      NodeRole = "input"
	RoleTransform  NodeRole = "transform"
	RoleLLM        NodeRole = "llm"
	RoleTool       NodeRole = "tool"
	RoleValidation NodeRole = "validation"
	RoleOutput     NodeRole = "output"
)

// Description returns the fixed explanatory sentence for a role.
func (r NodeRole) Description() string {
	switch r {
	case RoleInput:
		return "Receives the initial input of the execution"
	case RoleTransform:
		return "Parses or reshapes data from an earlier step"
	case RoleLLM:
		return "Generates content with a language model"
	case RoleTool:
		return "Invokes an external tool"
	case RoleValidation:
		return "Checks a response against expectations"
	case RoleOutput:
		return "Produces the final output of the execution"
	default:
		return ""
	}
}

// Node type classifiers. Traced calls are model invocations, so the builder
// stamps every node "llm"; the other values exist for forward compatibility
// of stored snapshots.
const (
	NodeTypeLLM      = "llm"
	NodeTypeFunction = "function"
	NodeTypeTool     = "tool"
)

// Edge type classifiers.
const (
	EdgeTypeCalls    = "calls"
	EdgeTypeDataFlow = "data_flow"
)

// Node is one vertex of the execution graph, derived from a single trace.
type Node struct {
	NodeID        string   `json:"node_id"`
	TraceID       string   `json:"trace_id"`
	NodeType      string   `json:"node_type"`
	Role          NodeRole `json:"role"`
	HumanLabel    string   `json:"human_label"`
	Description   string   `json:"description"`
	Model         string   `json:"model,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	LatencyMs     int      `json:"latency_ms"`
	VerdictStatus string   `json:"verdict_status,omitempty"`
	Label         string   `json:"label"`
}

// Failed reports whether the node's trace carried a failing verdict.
func (n Node) Failed() bool {
	return n.VerdictStatus == string(schema.StatusFail)
}

// Edge is a parent-to-child relationship written at capture time.
type Edge struct {
	FromNode string `json:"from_node"`
	ToNode   string `json:"to_node"`
	EdgeType string `json:"edge_type"`
}

// Stage is a contiguous run of nodes sharing one role, in ingestion order.
type Stage struct {
	Name           string   `json:"name"`
	Role           NodeRole `json:"role"`
	NodeIDs        []string `json:"node_ids"`
	TotalLatencyMs int      `json:"total_latency_ms"`
	NodeCount      int      `json:"node_count"`
	HasFailure     bool     `json:"has_failure"`
}

// GraphVerdict is the execution-level outcome derived from node verdicts.
type GraphVerdict struct {
	Status        schema.VerdictStatus `json:"status"`
	RootCauseNode string               `json:"root_cause_node,omitempty"`
	FailedCount   int                  `json:"failed_count"`
	TaintedCount  int                  `json:"tainted_count"`
	Message       string               `json:"message"`
}

// ExecutionGraph is the frozen causal DAG of one execution.
//
// Invariants:
//   - total_latency_ms equals the sum of node latencies
//   - every edge's child node carries parent_node_id = the edge source
//   - nodes keep trace ingestion order; analyses tie-break on it
//
// Thread Safety: read-only after construction. Safe to share.
type ExecutionGraph struct {
	ExecutionID    string        `json:"execution_id"`
	CreatedAt      string        `json:"created_at"`
	Nodes          []Node        `json:"nodes"`
	Edges          []Edge        `json:"edges"`
	Stages         []Stage       `json:"stages"`
	RootNodeID     string        `json:"root_node_id,omitempty"`
	TotalLatencyMs int           `json:"total_latency_ms"`
	NodeCount      int           `json:"node_count"`
	Verdict        *GraphVerdict `json:"verdict,omitempty"`
	IntegrityHash  string        `json:"integrity_hash,omitempty"`
	SnapshotAt     string        `json:"snapshot_at,omitempty"`
}

// CriticalPath is the longest-latency chain through the graph.
type CriticalPath struct {
	Path                []string `json:"path"`
	TotalLatencyMs      int      `json:"total_latency_ms"`
	BottleneckNode      string   `json:"bottleneck_node,omitempty"`
	BottleneckLatencyMs int      `json:"bottleneck_latency_ms"`
}

// Bottleneck ranks one node by its share of total latency.
type Bottleneck struct {
	NodeID         string  `json:"node_id"`
	Label          string  `json:"label"`
	LatencyMs      int     `json:"latency_ms"`
	PercentOfTotal float64 `json:"percent_of_total"`
}

// InvestigationStep is one entry of the debugging playbook.
type InvestigationStep struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	NodeID string `json:"node_id,omitempty"`
	Detail string `json:"detail"`
}
