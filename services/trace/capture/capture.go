// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package capture wraps model calls and turns each one into a stored trace.
//
// Description:
//
//	Capture is the single write path into the trace store. The caller
//	describes the call declaratively (provider, model, messages,
//	expectations) and hands over an Invoker closure; Capture times the
//	invocation, normalises whatever the closure returns into response
//	text, evaluates expectations into a verdict, stamps the execution
//	keys from the ambient scope, and persists the result. Invoker
//	failures still produce a persisted error trace, so a crashing model
//	call is observable instead of silent.
//
// Thread Safety: a Capturer is safe for concurrent use; each Capture call
// works on its own trace.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/phylax/services/trace/execution"
	"github.com/AleutianAI/phylax/services/trace/expectations"
	"github.com/AleutianAI/phylax/services/trace/schema"
	"github.com/AleutianAI/phylax/services/trace/telemetry"
)

// Invoker performs the actual model call. It receives the capture context
// and returns the raw provider response in any of the shapes the
// normalisation rules understand.
type Invoker func(ctx context.Context) (any, error)

// CapturedCall describes one model call to capture.
type CapturedCall struct {
	// Provider and Model identify the target. Both are required.
	Provider string
	Model    string

	// Messages is the conversation sent to the model.
	Messages []schema.Message

	// Parameters are normalised with defaults before recording.
	Parameters schema.Parameters

	// Expectations, when non-empty, are evaluated into a verdict on success.
	Expectations *expectations.Expectations

	// Metadata is copied onto the trace verbatim.
	Metadata map[string]any

	// ReplayOf links the new trace to the historical trace it re-executes.
	ReplayOf string

	// Invoke performs the call. Required.
	Invoke Invoker
}

func (c CapturedCall) validate() error {
	switch {
	case c.Provider == "":
		return fmt.Errorf("%w: missing provider", ErrInvalidCall)
	case c.Model == "":
		return fmt.Errorf("%w: missing model", ErrInvalidCall)
	case c.Invoke == nil:
		return fmt.Errorf("%w: missing invoker", ErrInvalidCall)
	}
	return nil
}

// TraceStore is the persistence surface Capture writes through.
type TraceStore interface {
	SaveTrace(ctx context.Context, trace *schema.Trace) (string, error)
}

// Config configures a Capturer.
type Config struct {
	// Store receives every captured trace. Required.
	Store TraceStore
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Capturer turns model calls into stored traces.
type Capturer struct {
	store TraceStore
	log   *slog.Logger
}

// New creates a Capturer over the given store.
func New(cfg Config) (*Capturer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("capture: store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Capturer{store: cfg.Store, log: log}, nil
}

// Capture times and records one model call.
//
// Description:
//
//	The execution id and parent node id come from the scope in ctx; without
//	a scope the trace gets a fresh execution id of its own. The call's node
//	id is pushed onto the scope stack for the duration of the invocation,
//	so traced calls made inside the invoker attribute this call as their
//	parent.
//
// Outputs:
//
//	The raw invoker response, the persisted trace, and an error. On invoker
//	failure the error trace is persisted and returned alongside the wrapped
//	invocation error; on save failure nothing counts as persisted and the
//	save error propagates.
func (c *Capturer) Capture(ctx context.Context, call CapturedCall) (any, *schema.Trace, error) {
	if err := call.validate(); err != nil {
		return nil, nil, err
	}

	executionID := execution.ExecutionID(ctx)
	parentNodeID := execution.ParentNodeID(ctx)
	nodeID := uuid.NewString()

	ctx, span := startCaptureSpan(ctx, call.Provider, call.Model)
	defer span.End()
	span.SetAttributes(
		attribute.String("capture.execution_id", executionID),
		attribute.String("capture.node_id", nodeID),
	)

	release := execution.Enter(ctx, nodeID)
	defer release()

	start := time.Now()
	data, invokeErr := call.Invoke(ctx)
	elapsed := time.Since(start)
	release()

	latencyMs := int(elapsed.Milliseconds())
	span.SetAttributes(attribute.Int("capture.latency_ms", latencyMs))

	trace := &schema.Trace{
		TraceID:      uuid.NewString(),
		Timestamp:    schema.NowTimestamp(),
		ExecutionID:  executionID,
		NodeID:       nodeID,
		ParentNodeID: parentNodeID,
		Request: schema.Request{
			Provider:   call.Provider,
			Model:      call.Model,
			Messages:   append([]schema.Message(nil), call.Messages...),
			Parameters: call.Parameters.Normalized(),
		},
		Runtime:  RuntimeFor(call.Provider),
		ReplayOf: call.ReplayOf,
		Metadata: copyMetadata(call.Metadata),
	}

	if invokeErr != nil {
		trace.Response = schema.Response{
			Text:      "ERROR: " + invokeErr.Error(),
			LatencyMs: latencyMs,
		}
		if trace.Metadata == nil {
			trace.Metadata = map[string]any{}
		}
		trace.Metadata[schema.MetaError] = invokeErr.Error()

		telemetry.RecordError(span, invokeErr,
			attribute.String("capture.provider", call.Provider))
		recordCaptureMetrics(ctx, call.Provider, elapsed, "error", "")

		if _, saveErr := c.store.SaveTrace(ctx, trace); saveErr != nil {
			c.log.ErrorContext(ctx, "failed to persist error trace",
				"trace_id", trace.TraceID, "error", saveErr)
		}
		c.log.WarnContext(ctx, "captured failing model call",
			"trace_id", trace.TraceID,
			"provider", call.Provider,
			"model", call.Model,
			"error", invokeErr)
		return nil, trace, fmt.Errorf("%w: %w", ErrInvokeFailed, invokeErr)
	}

	text := responseText(data)
	trace.Response = schema.Response{
		Text:      text,
		LatencyMs: latencyMs,
		Usage:     responseUsage(data),
	}

	verdictLabel := ""
	if call.Expectations != nil && !call.Expectations.Empty() {
		verdict := call.Expectations.Evaluate(text, latencyMs)
		trace.Verdict = &verdict
		verdictLabel = string(verdict.Status)
		span.SetAttributes(attribute.String("capture.verdict", verdictLabel))
	}

	recordCaptureMetrics(ctx, call.Provider, elapsed, "ok", verdictLabel)

	path, err := c.store.SaveTrace(ctx, trace)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, fmt.Errorf("capture: save trace: %w", err)
	}

	c.log.DebugContext(ctx, "captured model call",
		"trace_id", trace.TraceID,
		"provider", call.Provider,
		"model", call.Model,
		"latency_ms", latencyMs,
		"verdict", verdictLabel,
		"path", path)
	return data, trace, nil
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
