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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Phylax routes with the router.
//
// Description:
//
//	Registers the service endpoints with the given Gin engine. The engine
//	should already have any required middleware applied.
//
// Inputs:
//
//	router - Gin engine
//	handlers - The handlers instance
//
// Service Endpoints:
//
//	GET  / - Service banner
//	GET  /health - Health check
//	GET  /ready - Readiness check (store root writable)
//	GET  /metrics - Prometheus metrics
//
// Trace Endpoints:
//
//	GET    /v1/traces - List traces with filtering and pagination
//	POST   /v1/traces - Ingest a trace
//	GET    /v1/traces/:id - Get a trace by ID
//	DELETE /v1/traces/:id - Delete a trace
//	GET    /v1/traces/:id/lineage - Replay lineage chain
//	POST   /v1/traces/:id/bless - Mark a trace golden
//	POST   /v1/traces/:id/unbless - Remove golden status
//
// Replay Endpoints:
//
//	POST /v1/replay/:id - Re-execute a historical trace
//	GET  /v1/replay/:id/preview - Preview what a replay would execute
//
// Chat Endpoints:
//
//	POST /v1/chat/completions - OpenAI-compatible traced completion
//
// Execution Endpoints:
//
//	GET /v1/executions - List execution IDs
//	GET /v1/executions/:id/traces - Traces of one execution
//	GET /v1/executions/:id/graph - Built execution graph (?snapshot=true seals and persists)
//	GET /v1/executions/:id/graph/verdict - Aggregate graph verdict
//	GET /v1/executions/:id/graph/critical-path - Longest latency path
//	GET /v1/executions/:id/graph/diff/:other - Structural diff against another execution
//
// Check Endpoints:
//
//	POST /v1/check - Run the golden-trace regression checker
//
// Stats Endpoints:
//
//	GET /v1/stats - Index-backed aggregates (503 when the index is disabled)
//
// Example:
//
//	store, _ := filestore.New(filestore.Config{Root: root})
//	handlers := server.NewHandlers(store, providers.Default(), nil)
//
//	router := gin.New()
//	server.RegisterRoutes(router, handlers)
func RegisterRoutes(router *gin.Engine, handlers *Handlers) {
	router.GET("/", handlers.HandleBanner)
	router.GET("/health", handlers.HandleHealth)
	router.GET("/ready", handlers.HandleReady)
	router.GET("/metrics", handlers.HandleMetrics)

	v1 := router.Group("/v1")
	{
		// Trace CRUD and golden management
		traces := v1.Group("/traces")
		{
			traces.GET("", handlers.HandleListTraces)
			traces.POST("", handlers.HandleCreateTrace)
			traces.GET("/:id", handlers.HandleGetTrace)
			traces.DELETE("/:id", handlers.HandleDeleteTrace)
			traces.GET("/:id/lineage", handlers.HandleLineage)
			traces.POST("/:id/bless", handlers.HandleBless)
			traces.POST("/:id/unbless", handlers.HandleUnbless)
		}

		// Replay
		v1.POST("/replay/:id", handlers.HandleReplay)
		v1.GET("/replay/:id/preview", handlers.HandleReplayPreview)

		// OpenAI-compatible proxy
		v1.POST("/chat/completions", handlers.HandleChatCompletion)

		// Executions and graphs
		executions := v1.Group("/executions")
		{
			executions.GET("", handlers.HandleListExecutions)
			executions.GET("/:id/traces", handlers.HandleExecutionTraces)
			executions.GET("/:id/graph", handlers.HandleExecutionGraph)
			executions.GET("/:id/graph/verdict", handlers.HandleGraphVerdict)
			executions.GET("/:id/graph/critical-path", handlers.HandleGraphCriticalPath)
			executions.GET("/:id/graph/diff/:other", handlers.HandleGraphDiff)
		}

		// Regression checking
		v1.POST("/check", handlers.HandleCheck)

		// Index statistics
		v1.GET("/stats", handlers.HandleStats)
	}
}
