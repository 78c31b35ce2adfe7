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
	"sort"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

// TracesByExecution returns every trace of one execution, sorted ascending
// by timestamp. The ordering is what the graph builder expects as ingestion
// order.
func (s *Store) TracesByExecution(ctx context.Context, executionID string) ([]*schema.Trace, error) {
	all, err := s.ListTraces(ctx, ListOptions{Limit: scanLimit})
	if err != nil {
		return nil, err
	}
	var matching []*schema.Trace
	for _, t := range all {
		if t.ExecutionID == executionID {
			matching = append(matching, t)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Timestamp < matching[j].Timestamp
	})
	return matching, nil
}

// Lineage returns the replay family of a trace: the chain of replay_of links
// walked up to its original, then every descendant replay, breadth-first
// from that original.
//
// Description:
//
//	The upward walk is cycle-guarded by a visited set; a dangling replay_of
//	stops the walk at the last loadable trace. The downward walk keeps its
//	own seen set, so every generation appears exactly once, original first.
//	An unknown trace id yields an empty lineage, not an error.
func (s *Store) Lineage(ctx context.Context, traceID string) ([]*schema.Trace, error) {
	current, err := s.GetTrace(ctx, traceID)
	if err != nil {
		return []*schema.Trace{}, nil
	}

	visited := map[string]bool{}
	for current.ReplayOf != "" && !visited[current.ReplayOf] {
		visited[current.TraceID] = true
		parent, err := s.GetTrace(ctx, current.ReplayOf)
		if err != nil {
			break
		}
		current = parent
	}

	// One scan builds the replay children index for the downward walk.
	all, err := s.ListTraces(ctx, ListOptions{Limit: scanLimit})
	if err != nil {
		return nil, err
	}
	children := map[string][]*schema.Trace{}
	for _, t := range all {
		if t.ReplayOf != "" {
			children[t.ReplayOf] = append(children[t.ReplayOf], t)
		}
	}

	var lineage []*schema.Trace
	seen := map[string]bool{}
	queue := []*schema.Trace{current}
	for head := 0; head < len(queue); head++ {
		t := queue[head]
		if seen[t.TraceID] {
			continue
		}
		seen[t.TraceID] = true
		lineage = append(lineage, t)
		queue = append(queue, children[t.TraceID]...)
	}
	return lineage, nil
}

// ListExecutions returns the distinct execution ids present in the store, in
// order of first appearance in the reverse-chronological listing.
func (s *Store) ListExecutions(ctx context.Context) ([]string, error) {
	all, err := s.ListTraces(ctx, ListOptions{Limit: scanLimit})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, t := range all {
		if !seen[t.ExecutionID] {
			seen[t.ExecutionID] = true
			ids = append(ids, t.ExecutionID)
		}
	}
	return ids, nil
}
