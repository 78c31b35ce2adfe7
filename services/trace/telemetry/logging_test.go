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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// logFields runs f with a JSON logger and decodes the single line it writes.
func logFields(t *testing.T, f func(*slog.Logger)) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	f(slog.New(slog.NewJSONHandler(&buf, nil)))

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	return fields
}

func sampledSpanContext() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0xde, 0xad, 0xbe, 0xef, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
}

func TestLoggerWithTrace(t *testing.T) {
	spanCtx := sampledSpanContext()

	tests := []struct {
		name        string
		ctx         context.Context
		wantTraceID string
	}{
		{name: "nil context", ctx: nil},
		{name: "no span", ctx: context.Background()},
		{
			name:        "active span",
			ctx:         trace.ContextWithSpanContext(context.Background(), spanCtx),
			wantTraceID: spanCtx.TraceID().String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := logFields(t, func(logger *slog.Logger) {
				LoggerWithTrace(tt.ctx, logger).Info("trace saved")
			})

			if fields["msg"] != "trace saved" {
				t.Errorf("msg = %v, want %q", fields["msg"], "trace saved")
			}
			if tt.wantTraceID == "" {
				if _, ok := fields["trace_id"]; ok {
					t.Errorf("trace_id should be absent, got %v", fields["trace_id"])
				}
				return
			}
			if fields["trace_id"] != tt.wantTraceID {
				t.Errorf("trace_id = %v, want %q", fields["trace_id"], tt.wantTraceID)
			}
			if fields["span_id"] != spanCtx.SpanID().String() {
				t.Errorf("span_id = %v, want %q", fields["span_id"], spanCtx.SpanID().String())
			}
		})
	}
}

func TestLoggerWithTrace_NilLogger(t *testing.T) {
	logger := LoggerWithTrace(context.Background(), nil)
	if logger == nil {
		t.Fatal("LoggerWithTrace(ctx, nil) returned nil")
	}
}

func TestLoggerWithNode(t *testing.T) {
	ctx := trace.ContextWithSpanContext(context.Background(), sampledSpanContext())

	fields := logFields(t, func(logger *slog.Logger) {
		LoggerWithNode(ctx, logger, "generate_answer").Info("node finished")
	})

	if fields["node"] != "generate_answer" {
		t.Errorf("node = %v, want %q", fields["node"], "generate_answer")
	}
	if _, ok := fields["trace_id"]; !ok {
		t.Error("trace correlation fields should ride along with the node field")
	}
}

func TestLoggerWithExecution(t *testing.T) {
	fields := logFields(t, func(logger *slog.Logger) {
		LoggerWithExecution(context.Background(), logger, "exec_7f3a").Info("check complete")
	})

	if fields["execution_id"] != "exec_7f3a" {
		t.Errorf("execution_id = %v, want %q", fields["execution_id"], "exec_7f3a")
	}
}
