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
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newRecordingTracer returns a tracer whose ended spans can be inspected.
func newRecordingTracer(t *testing.T) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("tracing_test"), recorder
}

func TestRecordError_SetsErrorStatus(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "save-trace")
	RecordError(span, errors.New("disk full"), attribute.String("capture.provider", "openai"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}

	got := ended[0]
	if got.Status().Code != codes.Error {
		t.Errorf("status code = %v, want %v", got.Status().Code, codes.Error)
	}
	if got.Status().Description != "disk full" {
		t.Errorf("status description = %q, want %q", got.Status().Description, "disk full")
	}

	events := got.Events()
	var exception *sdktrace.Event
	for i := range events {
		if events[i].Name == "exception" {
			exception = &events[i]
			break
		}
	}
	if exception == nil {
		t.Fatal("no exception event recorded")
	}
	found := false
	for _, kv := range exception.Attributes {
		if kv.Key == "capture.provider" && kv.Value.AsString() == "openai" {
			found = true
		}
	}
	if !found {
		t.Error("exception event missing the capture.provider attribute")
	}
}

func TestRecordError_WithoutAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "rebuild-index")
	RecordError(span, errors.New("badger closed"))
	span.End()

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Error {
		t.Errorf("status code = %v, want %v", got.Status().Code, codes.Error)
	}
	if len(got.Events()) == 0 {
		t.Error("expected an exception event")
	}
}

func TestRecordError_NilErrorLeavesStatusUnset(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "save-trace")
	RecordError(span, nil)
	span.End()

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Unset {
		t.Errorf("status code = %v, want Unset when no error is recorded", got.Status().Code)
	}
	if len(got.Events()) != 0 {
		t.Errorf("events = %d, want 0", len(got.Events()))
	}
}

func TestRecordError_NilSpan(t *testing.T) {
	// Must not panic.
	RecordError(nil, errors.New("orphaned"))
}

func TestTraceID(t *testing.T) {
	tracer, _ := newRecordingTracer(t)

	t.Run("with active span", func(t *testing.T) {
		ctx, span := tracer.Start(context.Background(), "save-trace")
		defer span.End()

		want := span.SpanContext().TraceID().String()
		if got := TraceID(ctx); got != want {
			t.Errorf("TraceID() = %q, want %q", got, want)
		}
	})

	t.Run("without span", func(t *testing.T) {
		if got := TraceID(context.Background()); got != "" {
			t.Errorf("TraceID() = %q, want empty string", got)
		}
	})
}
