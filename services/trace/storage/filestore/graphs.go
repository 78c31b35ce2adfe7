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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/phylax/services/trace/graph"
)

// BuildExecutionGraph assembles the execution graph from stored traces.
// An execution id with no traces yields ErrExecutionNotFound.
func (s *Store) BuildExecutionGraph(ctx context.Context, executionID string) (*graph.ExecutionGraph, error) {
	traces, err := s.TracesByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return graph.FromTraces(ctx, traces)
}

// SaveGraph persists a graph snapshot under <root>/graphs/<execution_id>.json.
// A graph without an integrity hash is snapshotted first, so every stored
// graph is verifiable. Returns the file path.
func (s *Store) SaveGraph(ctx context.Context, g *graph.ExecutionGraph) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g == nil || g.ExecutionID == "" {
		return "", fmt.Errorf("filestore: graph missing execution id")
	}
	snap := g
	if snap.IntegrityHash == "" {
		snap = g.ToSnapshot()
	}
	if err := os.MkdirAll(s.graphs, 0o755); err != nil {
		return "", fmt.Errorf("filestore: create graphs dir: %w", err)
	}
	path := filepath.Join(s.graphs, snap.ExecutionID+".json")
	if err := writeJSON(path, snap); err != nil {
		return "", err
	}
	s.log.Debug("saved graph snapshot",
		slog.String("execution_id", snap.ExecutionID),
		slog.Int("nodes", snap.NodeCount),
		slog.String("path", path))
	return path, nil
}

// LoadGraph reads a stored snapshot. ErrGraphNotFound when no snapshot was
// ever saved for the execution.
func (s *Store) LoadGraph(ctx context.Context, executionID string) (*graph.ExecutionGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.graphs, executionID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, executionID)
		}
		return nil, fmt.Errorf("filestore: read graph: %w", err)
	}
	var g graph.ExecutionGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("filestore: parse graph: %w", err)
	}
	return &g, nil
}

// ListGraphs returns the execution ids with a stored snapshot, sorted by
// file name.
func (s *Store) ListGraphs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.graphs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: read graphs dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, e.Name()[:len(e.Name())-len(".json")])
	}
	return ids, nil
}
