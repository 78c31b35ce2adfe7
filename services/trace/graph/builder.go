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
	"fmt"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

var tracer = otel.Tracer("phylax/graph")

const (
	labelMaxLen      = 30
	humanLabelMaxLen = 40
)

// FromTraces builds the execution graph for one execution.
//
// Description:
//
//	One node per trace, in the order given; callers pass traces sorted
//	ascending by timestamp so ingestion order matches wall-clock order.
//	An edge is drawn from parent_node_id to node_id whenever the parent key
//	is present. The first parentless trace becomes the root. Semantic roles,
//	labels and stages are computed here; the result is immutable.
//
// Inputs:
//   - ctx: context for tracing. May carry an active span.
//   - traces: non-empty, all sharing one execution_id.
//
// Outputs:
//   - *ExecutionGraph: frozen graph. Never nil on success.
//   - error: ErrNoTraces on empty input, ErrMixedExecutions on key mismatch.
func FromTraces(ctx context.Context, traces []*schema.Trace) (*ExecutionGraph, error) {
	_, span := tracer.Start(ctx, "graph.FromTraces")
	defer span.End()

	if len(traces) == 0 {
		return nil, ErrNoTraces
	}
	executionID := traces[0].ExecutionID
	for _, tr := range traces {
		if tr.ExecutionID != executionID {
			return nil, fmt.Errorf("%w: %s vs %s", ErrMixedExecutions, executionID, tr.ExecutionID)
		}
	}

	nodes := make([]Node, 0, len(traces))
	edges := make([]Edge, 0, len(traces))
	rootNodeID := ""
	totalLatency := 0

	for i, tr := range traces {
		role := inferRole(tr, i, len(traces))
		node := Node{
			NodeID:      tr.NodeID,
			TraceID:     tr.TraceID,
			NodeType:    NodeTypeLLM,
			Role:        role,
			HumanLabel:  humanLabel(tr, role),
			Description: role.Description(),
			Model:       tr.Request.Model,
			Provider:    tr.Request.Provider,
			LatencyMs:   tr.Response.LatencyMs,
			Label:       shortLabel(tr),
		}
		if tr.Verdict != nil {
			node.VerdictStatus = string(tr.Verdict.Status)
		}
		nodes = append(nodes, node)
		totalLatency += tr.Response.LatencyMs

		if tr.ParentNodeID != "" {
			edges = append(edges, Edge{
				FromNode: tr.ParentNodeID,
				ToNode:   tr.NodeID,
				EdgeType: EdgeTypeCalls,
			})
		} else if rootNodeID == "" {
			rootNodeID = tr.NodeID
		}
	}

	g := &ExecutionGraph{
		ExecutionID:    executionID,
		CreatedAt:      schema.NowTimestamp(),
		Nodes:          nodes,
		Edges:          edges,
		Stages:         buildStages(nodes),
		RootNodeID:     rootNodeID,
		TotalLatencyMs: totalLatency,
		NodeCount:      len(nodes),
	}

	span.SetAttributes(
		attribute.String("execution_id", executionID),
		attribute.Int("node_count", g.NodeCount),
		attribute.Int("edge_count", len(g.Edges)),
	)
	return g, nil
}

// inferRole classifies a node from three deterministic signals, checked in
// a fixed order. Position in the trace list breaks the remaining ties.
func inferRole(tr *schema.Trace, index, total int) NodeRole {
	content := strings.ToLower(firstUserContent(tr))

	if tr.Verdict != nil || containsAny(content, "check", "validate", "verify") {
		return RoleValidation
	}
	if containsAny(content, "parse", "extract") {
		return RoleTransform
	}
	if index == 0 && tr.ParentNodeID == "" {
		return RoleInput
	}
	if index == total-1 {
		return RoleOutput
	}
	return RoleLLM
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// firstUserContent returns the content of the first user-role message.
func firstUserContent(tr *schema.Trace) string {
	for _, m := range tr.Request.Messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

// humanLabel derives the display name: the first user message capped at 40
// characters with the first letter capitalised, or "<role> (<model>)" when
// the request had no user message.
func humanLabel(tr *schema.Trace, role NodeRole) string {
	content := firstUserContent(tr)
	if content == "" {
		return fmt.Sprintf("%s (%s)", role, tr.Request.Model)
	}
	runes := []rune(content)
	truncated := len(runes) > humanLabelMaxLen
	if truncated {
		runes = runes[:humanLabelMaxLen]
	}
	runes[0] = unicode.ToUpper(runes[0])
	if truncated {
		return string(runes) + "..."
	}
	return string(runes)
}

// shortLabel derives the compact label: the first message of any role capped
// at 30 characters, else the model name, else "unknown".
func shortLabel(tr *schema.Trace) string {
	if len(tr.Request.Messages) > 0 {
		content := tr.Request.Messages[0].Content
		runes := []rune(content)
		if len(runes) > labelMaxLen {
			return string(runes[:labelMaxLen]) + "..."
		}
		return content
	}
	if tr.Request.Model != "" {
		return tr.Request.Model
	}
	return "unknown"
}

// buildStages groups contiguous same-role nodes in ingestion order.
func buildStages(nodes []Node) []Stage {
	stages := []Stage{}
	for _, n := range nodes {
		if len(stages) == 0 || stages[len(stages)-1].Role != n.Role {
			stages = append(stages, Stage{
				Name: fmt.Sprintf("Stage %d: %s", len(stages)+1, n.Role),
				Role: n.Role,
			})
		}
		s := &stages[len(stages)-1]
		s.NodeIDs = append(s.NodeIDs, n.NodeID)
		s.TotalLatencyMs += n.LatencyMs
		s.NodeCount++
		if n.Failed() {
			s.HasFailure = true
		}
	}
	return stages
}
