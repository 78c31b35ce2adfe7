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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

// ComputeHash returns the canonical SHA-256 content hash of the graph.
//
// Description:
//
//	The canonical record carries exactly {execution_id, created_at, nodes,
//	edges, root_node_id, total_latency_ms, node_count}. snapshot_at and
//	integrity_hash are excluded so sealing cannot change the hash, and the
//	derived stages and verdict are excluded because they are recomputable.
//	Keys serialise sorted (Go marshals map keys in sorted order) and every
//	optional field is materialised, null when absent, so a graph hashes the
//	same before and after a marshal/load round trip.
func (g *ExecutionGraph) ComputeHash() string {
	canonical := map[string]any{
		"execution_id":     g.ExecutionID,
		"created_at":       g.CreatedAt,
		"nodes":            canonicalNodes(g.Nodes),
		"edges":            canonicalEdges(g.Edges),
		"root_node_id":     nullable(g.RootNodeID),
		"total_latency_ms": g.TotalLatencyMs,
		"node_count":       g.NodeCount,
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		// Only plain maps, slices, strings and ints reach the encoder.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func canonicalNodes(nodes []Node) []any {
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]any{
			"node_id":        n.NodeID,
			"trace_id":       n.TraceID,
			"node_type":      n.NodeType,
			"role":           string(n.Role),
			"human_label":    n.HumanLabel,
			"description":    n.Description,
			"model":          nullable(n.Model),
			"provider":       nullable(n.Provider),
			"latency_ms":     n.LatencyMs,
			"verdict_status": nullable(n.VerdictStatus),
			"label":          n.Label,
		})
	}
	return out
}

func canonicalEdges(edges []Edge) []any {
	out := make([]any, 0, len(edges))
	for _, e := range edges {
		out = append(out, map[string]any{
			"from_node": e.FromNode,
			"to_node":   e.ToNode,
			"edge_type": e.EdgeType,
		})
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ToSnapshot seals the graph: a copy with integrity_hash set and snapshot_at
// stamped. Re-snapshotting yields the same hash because neither field is part
// of the canonical record.
func (g *ExecutionGraph) ToSnapshot() *ExecutionGraph {
	out := *g
	out.IntegrityHash = g.ComputeHash()
	out.SnapshotAt = schema.NowTimestamp()
	return &out
}

// VerifyIntegrity recomputes the content hash and compares it to the stored
// one. A graph that was never snapshotted fails verification.
func (g *ExecutionGraph) VerifyIntegrity() bool {
	return g.IntegrityHash != "" && g.ComputeHash() == g.IntegrityHash
}

// ExportJSON dumps the full graph, integrity fields included.
func (g *ExecutionGraph) ExportJSON(pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(g, "", "  ")
	}
	return json.Marshal(g)
}
