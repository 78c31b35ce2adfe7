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
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/phylax/services/trace/capture"
	"github.com/AleutianAI/phylax/services/trace/providers"
	"github.com/AleutianAI/phylax/services/trace/schema"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
	"github.com/AleutianAI/phylax/services/trace/storage/index"
	"github.com/AleutianAI/phylax/services/trace/telemetry"
)

// Handlers contains the HTTP handlers for the Phylax server.
type Handlers struct {
	store    *filestore.Store
	registry *providers.Registry
	capturer *capture.Capturer
	idx      *index.Index
	log      *slog.Logger
}

// NewHandlers creates handlers over the given store and provider registry.
//
// A nil registry gets providers.Default(); a nil logger gets slog.Default().
// Replays and chat completions run through a capture pipeline writing to the
// same store, so their traces carry execution scope like any SDK capture.
func NewHandlers(store *filestore.Store, registry *providers.Registry, logger *slog.Logger) *Handlers {
	if registry == nil {
		registry = providers.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	capturer, err := capture.New(capture.Config{Store: store, Logger: logger})
	if err != nil {
		// Only reachable with a nil store; New() guards that before
		// handler construction in the server path.
		logger.Error("capture pipeline unavailable", "error", err)
	}
	return &Handlers{
		store:    store,
		registry: registry,
		capturer: capturer,
		log:      logger,
	}
}

// WithIndex sets the derived index backing /v1/stats.
func (h *Handlers) WithIndex(idx *index.Index) *Handlers {
	h.idx = idx
	return h
}

// HandleBanner handles GET /.
func (h *Handlers) HandleBanner(c *gin.Context) {
	c.JSON(http.StatusOK, BannerResponse{
		Name:        "Phylax",
		Version:     ServiceVersion,
		Description: "Developer-first local LLM tracing, replay & debugging system",
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// HandleReady handles GET /ready.
//
// Description:
//
//	Readiness means the store root accepts writes: a probe file is created
//	and removed under the storage root. A read-only volume or a missing
//	mount answers 503 so orchestrators hold traffic.
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		TracesDir:    h.store.TracesDir(),
		IndexEnabled: h.idx != nil,
	}

	probe, err := os.CreateTemp(h.store.Root(), ".ready-*")
	if err != nil {
		h.log.Warn("readiness probe failed", "root", h.store.Root(), "error", err)
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	probe.Close()
	os.Remove(probe.Name())

	resp.Ready = true
	c.JSON(http.StatusOK, resp)
}

// HandleMetrics handles GET /metrics.
//
// The Prometheus handler only exists after telemetry.Init with the
// prometheus metric exporter; otherwise this answers 503.
func (h *Handlers) HandleMetrics(c *gin.Context) {
	mh := telemetry.MetricsHandler()
	if mh == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "metrics exporter not initialized",
			Code:  "METRICS_UNAVAILABLE",
		})
		return
	}
	mh.ServeHTTP(c.Writer, c.Request)
}

// HandleListTraces handles GET /v1/traces.
//
// Query Parameters:
//
//	limit: Maximum number of traces (optional, default 50, max 100)
//	offset: Number of traces to skip (optional)
//	model: Filter by model name (optional)
//	provider: Filter by provider (optional)
//	date: Filter by date, YYYY-MM-DD (optional)
//	failed: Only traces with failing verdicts (optional)
//
// Response:
//
//	200 OK: ListTracesResponse
//	400 Bad Request: Invalid query parameters
func (h *Handlers) HandleListTraces(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleListTraces")

	var req ListTracesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		logger.Warn("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid query parameters",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Limit <= 0 {
		req.Limit = filestore.DefaultListLimit
	}

	opts := filestore.ListOptions{
		Limit:      req.Limit,
		Offset:     req.Offset,
		Model:      req.Model,
		Provider:   req.Provider,
		Date:       req.Date,
		FailedOnly: req.Failed,
	}

	traces, err := h.store.ListTraces(c.Request.Context(), opts)
	if err != nil {
		logger.Error("List traces failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LIST_FAILED",
		})
		return
	}

	total, err := h.store.CountTraces(c.Request.Context(), opts)
	if err != nil {
		logger.Error("Count traces failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LIST_FAILED",
		})
		return
	}

	if traces == nil {
		traces = []*schema.Trace{}
	}
	c.JSON(http.StatusOK, ListTracesResponse{
		Traces: traces,
		Total:  total,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
}

// HandleCreateTrace handles POST /v1/traces.
//
// Request Body:
//
//	schema.Trace
//
// Response:
//
//	201 Created: CreateTraceResponse
//	400 Bad Request: Malformed body or trace invariant violation
func (h *Handlers) HandleCreateTrace(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleCreateTrace")

	var trace schema.Trace
	if err := c.ShouldBindJSON(&trace); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := trace.Validate(); err != nil {
		logger.Warn("Trace failed validation", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_TRACE",
		})
		return
	}

	if _, err := h.store.SaveTrace(c.Request.Context(), &trace); err != nil {
		logger.Error("Save trace failed", "trace_id", trace.TraceID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SAVE_FAILED",
		})
		return
	}

	logger.Info("Trace ingested", "trace_id", trace.TraceID, "provider", trace.Request.Provider)
	c.JSON(http.StatusCreated, CreateTraceResponse{
		Status:  "created",
		TraceID: trace.TraceID,
	})
}

// HandleGetTrace handles GET /v1/traces/:id.
//
// Response:
//
//	200 OK: schema.Trace
//	404 Not Found: No trace with that id
func (h *Handlers) HandleGetTrace(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleGetTrace")

	traceID := c.Param("id")
	trace, err := h.store.GetTrace(c.Request.Context(), traceID)
	if err != nil {
		h.renderStoreError(c, logger, traceID, err)
		return
	}

	c.JSON(http.StatusOK, trace)
}

// HandleDeleteTrace handles DELETE /v1/traces/:id.
//
// Response:
//
//	200 OK: DeleteTraceResponse
//	404 Not Found: No trace with that id
func (h *Handlers) HandleDeleteTrace(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleDeleteTrace")

	traceID := c.Param("id")
	deleted, err := h.store.DeleteTrace(c.Request.Context(), traceID)
	if err != nil {
		logger.Error("Delete trace failed", "trace_id", traceID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "DELETE_FAILED",
		})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Trace " + traceID + " not found",
			Code:  "TRACE_NOT_FOUND",
		})
		return
	}

	logger.Info("Trace deleted", "trace_id", traceID)
	c.JSON(http.StatusOK, DeleteTraceResponse{
		Status:  "deleted",
		TraceID: traceID,
	})
}

// HandleLineage handles GET /v1/traces/:id/lineage.
//
// Response:
//
//	200 OK: LineageResponse (chain from root original to latest replay)
//	404 Not Found: No trace with that id
func (h *Handlers) HandleLineage(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleLineage")

	traceID := c.Param("id")
	// An unknown id yields an empty lineage from the store, so the
	// existence check has to happen here for the 404.
	if _, err := h.store.GetTrace(c.Request.Context(), traceID); err != nil {
		h.renderStoreError(c, logger, traceID, err)
		return
	}

	lineage, err := h.store.Lineage(c.Request.Context(), traceID)
	if err != nil {
		h.renderStoreError(c, logger, traceID, err)
		return
	}

	c.JSON(http.StatusOK, LineageResponse{
		TraceID: traceID,
		Lineage: lineage,
	})
}

// HandleBless handles POST /v1/traces/:id/bless.
//
// Request Body:
//
//	BlessRequest (optional; absent body means force=false)
//
// Response:
//
//	200 OK: BlessResponse
//	404 Not Found: No trace with that id
//	409 Conflict: Another golden exists for the same (model, provider)
func (h *Handlers) HandleBless(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleBless")

	traceID := c.Param("id")

	var req BlessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	blessed, err := h.store.Bless(c.Request.Context(), traceID, filestore.BlessOptions{Force: req.Force})
	if err != nil {
		if errors.Is(err, filestore.ErrGoldenExists) {
			logger.Warn("Golden conflict", "trace_id", traceID)
			c.JSON(http.StatusConflict, ErrorResponse{
				Error: err.Error(),
				Code:  "GOLDEN_EXISTS",
			})
			return
		}
		h.renderStoreError(c, logger, traceID, err)
		return
	}

	logger.Info("Trace blessed",
		"trace_id", traceID,
		"model", blessed.Request.Model,
		"provider", blessed.Request.Provider,
		"output_hash", blessed.OutputHashMeta())
	c.JSON(http.StatusOK, BlessResponse{
		Status:     "blessed",
		TraceID:    traceID,
		OutputHash: blessed.OutputHashMeta(),
	})
}

// HandleUnbless handles POST /v1/traces/:id/unbless.
//
// Response:
//
//	200 OK: BlessResponse
//	404 Not Found: No trace with that id
func (h *Handlers) HandleUnbless(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleUnbless")

	traceID := c.Param("id")
	if err := h.store.Unbless(c.Request.Context(), traceID); err != nil {
		h.renderStoreError(c, logger, traceID, err)
		return
	}

	logger.Info("Trace unblessed", "trace_id", traceID)
	c.JSON(http.StatusOK, BlessResponse{
		Status:  "unblessed",
		TraceID: traceID,
	})
}

// HandleStats handles GET /v1/stats.
//
// Response:
//
//	200 OK: StatsResponse
//	503 Service Unavailable: Derived index disabled
func (h *Handlers) HandleStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleStats")

	if h.idx == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "stats require the derived index; start the server with indexing enabled",
			Code:  "INDEX_DISABLED",
		})
		return
	}

	stats, err := h.idx.Stats(c.Request.Context())
	if err != nil {
		logger.Error("Stats query failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STATS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, StatsResponse{Stats: stats})
}

// renderStoreError translates store sentinel errors into status codes.
func (h *Handlers) renderStoreError(c *gin.Context, logger *slog.Logger, id string, err error) {
	switch {
	case errors.Is(err, filestore.ErrTraceNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Trace " + id + " not found",
			Code:  "TRACE_NOT_FOUND",
		})
	case errors.Is(err, filestore.ErrExecutionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Execution " + id + " not found",
			Code:  "EXECUTION_NOT_FOUND",
		})
	case errors.Is(err, filestore.ErrGraphNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Graph snapshot for " + id + " not found",
			Code:  "GRAPH_NOT_FOUND",
		})
	default:
		logger.Error("Store operation failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_FAILED",
		})
	}
}

// getOrCreateRequestID returns the X-Request-ID header, falling back to the
// request's OTel trace id and then to a fresh uuid, and echoes the result on
// the response. Reusing the trace id keeps log lines, span exports, and API
// responses cross-referencable.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = telemetry.TraceID(c.Request.Context())
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
