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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/phylax/services/trace/graph"
	"github.com/AleutianAI/phylax/services/trace/regression"
	"github.com/AleutianAI/phylax/services/trace/telemetry"
)

// HandleListExecutions handles GET /v1/executions.
//
// Response:
//
//	200 OK: ExecutionsResponse
func (h *Handlers) HandleListExecutions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleListExecutions")

	ids, err := h.store.ListExecutions(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list executions", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LIST_FAILED",
		})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, ExecutionsResponse{Executions: ids, Total: len(ids)})
}

// HandleExecutionTraces handles GET /v1/executions/:id/traces.
//
// Response:
//
//	200 OK: ExecutionTracesResponse, traces in timestamp order
//	404 Not Found: No traces recorded for that execution
func (h *Handlers) HandleExecutionTraces(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleExecutionTraces")

	executionID := c.Param("id")
	traces, err := h.store.TracesByExecution(c.Request.Context(), executionID)
	if err != nil {
		logger.Error("Failed to load execution traces", "execution_id", executionID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_FAILED",
		})
		return
	}
	if len(traces) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Execution not found: " + executionID,
			Code:  "EXECUTION_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, ExecutionTracesResponse{
		ExecutionID: executionID,
		Traces:      traces,
		Total:       len(traces),
	})
}

// HandleExecutionGraph handles GET /v1/executions/:id/graph.
//
// Description:
//
//	Builds the execution DAG from stored traces. With ?snapshot=true the
//	graph is frozen (integrity hash computed) and persisted before being
//	returned, so later runs can diff against it even after trace pruning.
//
// Response:
//
//	200 OK: graph.ExecutionGraph
//	404 Not Found: No traces recorded for that execution
func (h *Handlers) HandleExecutionGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleExecutionGraph")

	executionID := c.Param("id")
	g, err := h.store.BuildExecutionGraph(c.Request.Context(), executionID)
	if err != nil {
		h.renderStoreError(c, logger, executionID, err)
		return
	}

	snapshot, _ := strconv.ParseBool(c.DefaultQuery("snapshot", "false"))
	if snapshot {
		g = g.ToSnapshot()
		if _, err := h.store.SaveGraph(c.Request.Context(), g); err != nil {
			logger.Error("Failed to save graph snapshot", "execution_id", executionID, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: err.Error(),
				Code:  "SNAPSHOT_FAILED",
			})
			return
		}
		logger.Info("Graph snapshot saved",
			"execution_id", executionID,
			"integrity_hash", g.IntegrityHash)
	}
	c.JSON(http.StatusOK, g)
}

// HandleGraphVerdict handles GET /v1/executions/:id/graph/verdict.
//
// Response:
//
//	200 OK: graph.GraphVerdict
//	404 Not Found: No traces recorded for that execution
func (h *Handlers) HandleGraphVerdict(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleGraphVerdict")

	executionID := c.Param("id")
	g, err := h.store.BuildExecutionGraph(c.Request.Context(), executionID)
	if err != nil {
		h.renderStoreError(c, logger, executionID, err)
		return
	}
	c.JSON(http.StatusOK, g.ComputeVerdict())
}

// HandleGraphCriticalPath handles GET /v1/executions/:id/graph/critical-path.
//
// Response:
//
//	200 OK: graph.CriticalPath
//	404 Not Found: No traces recorded for that execution
func (h *Handlers) HandleGraphCriticalPath(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleGraphCriticalPath")

	executionID := c.Param("id")
	g, err := h.store.BuildExecutionGraph(c.Request.Context(), executionID)
	if err != nil {
		h.renderStoreError(c, logger, executionID, err)
		return
	}
	c.JSON(http.StatusOK, g.ComputeCriticalPath())
}

// HandleGraphDiff handles GET /v1/executions/:id/graph/diff/:other.
//
// Description:
//
//	Builds both execution graphs and diffs :id (before) against :other
//	(after). An optional latency_threshold_ms query raises the per-node
//	latency movement required to report a matched node as changed.
//
// Response:
//
//	200 OK: graph.GraphDiff
//	400 Bad Request: Unparsable latency_threshold_ms
//	404 Not Found: Either execution has no traces
func (h *Handlers) HandleGraphDiff(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleGraphDiff")

	var opts []graph.DiffOption
	if v := c.Query("latency_threshold_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "latency_threshold_ms must be a non-negative integer",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		opts = append(opts, graph.WithLatencyThreshold(ms))
	}

	executionID := c.Param("id")
	before, err := h.store.BuildExecutionGraph(c.Request.Context(), executionID)
	if err != nil {
		h.renderStoreError(c, logger, executionID, err)
		return
	}
	otherID := c.Param("other")
	after, err := h.store.BuildExecutionGraph(c.Request.Context(), otherID)
	if err != nil {
		h.renderStoreError(c, logger, otherID, err)
		return
	}

	c.JSON(http.StatusOK, before.DiffWith(after, opts...))
}

// HandleCheck handles POST /v1/check.
//
// Description:
//
//	Replays every blessed golden trace against its live provider and
//	reports per-record pass/fail. The HTTP status is 200 whether or not
//	regressions were found; callers read report.passed.
//
// Response:
//
//	200 OK: regression.Report
//	500 Internal Server Error: The run itself could not complete
func (h *Handlers) HandleCheck(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleCheck")

	checker, err := regression.NewChecker(h.store, h.registry, regression.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to build checker", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "CHECK_FAILED",
		})
		return
	}

	report, err := checker.Check(c.Request.Context())
	if err != nil {
		logger.Error("Check run failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "CHECK_FAILED",
		})
		return
	}

	logger.Info("Check complete",
		"total", report.Total,
		"failures", report.Failures,
		"passed", report.Passed)
	c.JSON(http.StatusOK, report)
}
