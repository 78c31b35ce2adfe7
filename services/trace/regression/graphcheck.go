// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/phylax/services/trace/graph"
	"github.com/AleutianAI/phylax/services/trace/schema"
)

// GraphStore is the persistence surface the graph checker needs.
type GraphStore interface {
	ListExecutions(ctx context.Context) ([]string, error)
	BuildExecutionGraph(ctx context.Context, executionID string) (*graph.ExecutionGraph, error)
}

// GraphResult is the verdict of one execution graph.
type GraphResult struct {
	ExecutionID   string               `json:"execution_id"`
	NodeCount     int                  `json:"node_count"`
	Status        schema.VerdictStatus `json:"status,omitempty"`
	RootCauseNode string               `json:"root_cause_node,omitempty"`
	FailedCount   int                  `json:"failed_count"`
	TaintedCount  int                  `json:"tainted_count"`
	Message       string               `json:"message,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// Passed reports whether the execution counts as a pass.
func (r GraphResult) Passed() bool {
	return r.Error == "" && r.Status == schema.StatusPass
}

func (r GraphResult) outcome() string {
	switch {
	case r.Error != "":
		return "error"
	case r.Status == schema.StatusPass:
		return "pass"
	default:
		return "fail"
	}
}

// GraphReport is the full outcome of one graph check run.
type GraphReport struct {
	Results  []GraphResult `json:"results"`
	Total    int           `json:"total"`
	Failures int           `json:"failures"`
	Passed   bool          `json:"passed"`
}

// JSON renders the report for machine consumption, indented.
func (r *GraphReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summary builds a plain-text report, one line per execution plus totals.
func (r *GraphReport) Summary() string {
	var sb strings.Builder
	for _, res := range r.Results {
		switch {
		case res.Error != "":
			sb.WriteString(fmt.Sprintf("ERROR %s: %s\n", shortID(res.ExecutionID), res.Error))
		case res.Status == schema.StatusPass:
			sb.WriteString(fmt.Sprintf("PASS  %s (%d nodes)\n",
				shortID(res.ExecutionID), res.NodeCount))
		default:
			sb.WriteString(fmt.Sprintf("FAIL  %s: %s (failed %d, tainted %d)\n",
				shortID(res.ExecutionID), res.Message, res.FailedCount, res.TaintedCount))
		}
	}
	if r.Failures == 0 {
		sb.WriteString(fmt.Sprintf("all %d execution(s) passed\n", r.Total))
	} else {
		sb.WriteString(fmt.Sprintf("%d execution(s) failed\n", r.Failures))
	}
	return sb.String()
}

// GraphChecker evaluates every stored execution's graph verdict.
type GraphChecker struct {
	store GraphStore
	log   *slog.Logger
}

// NewGraphChecker creates a graph checker over the store.
func NewGraphChecker(store GraphStore, opts ...Option) (*GraphChecker, error) {
	if store == nil {
		return nil, fmt.Errorf("regression: store is required")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &GraphChecker{store: store, log: cfg.Logger}, nil
}

// Check builds every execution graph and folds node verdicts into graph
// verdicts. A failing graph names its root cause node; build errors fail
// the record without aborting the batch.
func (gc *GraphChecker) Check(ctx context.Context) (*GraphReport, error) {
	ctx, span := tracer.Start(ctx, "GraphChecker.Check")
	defer span.End()
	start := time.Now()

	executions, err := gc.store.ListExecutions(ctx)
	if err != nil {
		return nil, err
	}

	report := &GraphReport{Results: []GraphResult{}}
	if len(executions) == 0 {
		gc.log.InfoContext(ctx, "no executions found, nothing to check")
		report.Passed = true
		recordCheckMetrics(ctx, "graph", time.Since(start), true)
		return report, nil
	}

	for _, execID := range executions {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result := GraphResult{ExecutionID: execID}

		g, err := gc.store.BuildExecutionGraph(ctx, execID)
		if err != nil {
			result.Error = err.Error()
		} else {
			verdict := g.ComputeVerdict()
			result.NodeCount = g.NodeCount
			result.Status = verdict.Status
			result.RootCauseNode = verdict.RootCauseNode
			result.FailedCount = verdict.FailedCount
			result.TaintedCount = verdict.TaintedCount
			result.Message = verdict.Message
		}

		report.Results = append(report.Results, result)
		recordOutcome(ctx, "graph", result.outcome())
	}

	report.Total = len(report.Results)
	for _, r := range report.Results {
		if !r.Passed() {
			report.Failures++
		}
	}
	report.Passed = report.Failures == 0

	span.SetAttributes(
		attribute.Int("check.total", report.Total),
		attribute.Int("check.failures", report.Failures),
		attribute.Bool("check.passed", report.Passed),
	)
	recordCheckMetrics(ctx, "graph", time.Since(start), report.Passed)
	gc.log.InfoContext(ctx, "graph check finished",
		"total", report.Total,
		"failures", report.Failures)
	return report, nil
}
