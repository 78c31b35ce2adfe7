// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a logger with trace correlation fields attached.
//
// Description:
//
//	Extracts trace_id and span_id from the active span and attaches them
//	to the logger so log lines can be correlated with traces in the
//	observability backend. If the context carries no valid span, the
//	logger is returned unchanged.
//
// Inputs:
//
//	ctx - Context potentially containing a span. May be nil.
//	logger - Base logger. If nil, slog.Default() is used.
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id and span_id fields, or the base logger.
//
// Example:
//
//	telemetry.LoggerWithTrace(ctx, slog.Default()).Info("trace saved",
//	    slog.String("trace_id", tr.TraceID))
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}

	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// LoggerWithNode returns a logger scoped to an execution graph node.
//
// Description:
//
//	Attaches the node name to the logger, plus trace correlation fields
//	when the context carries an active span. Use this when logging from
//	code that processes a single node of an execution graph.
//
// Inputs:
//
//	ctx - Context potentially containing a span. May be nil.
//	logger - Base logger. If nil, slog.Default() is used.
//	node - Node name (e.g., "generate_answer").
//
// Outputs:
//
//	*slog.Logger - Logger with a node field attached.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithNode(ctx context.Context, logger *slog.Logger, node string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(slog.String("node", node))
}

// LoggerWithExecution returns a logger scoped to a pipeline execution.
//
// Description:
//
//	Attaches the execution ID to the logger, plus trace correlation fields
//	when the context carries an active span. Use this when logging across
//	the traces of one multi-step execution.
//
// Inputs:
//
//	ctx - Context potentially containing a span. May be nil.
//	logger - Base logger. If nil, slog.Default() is used.
//	executionID - Execution identifier shared by the related traces.
//
// Outputs:
//
//	*slog.Logger - Logger with an execution_id field attached.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithExecution(ctx context.Context, logger *slog.Logger, executionID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(slog.String("execution_id", executionID))
}
