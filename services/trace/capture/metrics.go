// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capture

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for capture operations.
var (
	tracer = otel.Tracer("phylax/capture")
	meter  = otel.Meter("phylax/capture")
)

// Metrics for captured model calls.
var (
	captureLatency metric.Float64Histogram
	captureTotal   metric.Int64Counter
	verdictTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		captureLatency, err = meter.Float64Histogram(
			"phylax_capture_duration_seconds",
			metric.WithDescription("End-to-end duration of captured model calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		captureTotal, err = meter.Int64Counter(
			"phylax_capture_total",
			metric.WithDescription("Total captured model calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verdictTotal, err = meter.Int64Counter(
			"phylax_capture_verdicts_total",
			metric.WithDescription("Verdicts produced by expectation evaluation"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startCaptureSpan creates a span for one captured call.
func startCaptureSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Capturer.Capture",
		trace.WithAttributes(
			attribute.String("capture.provider", provider),
			attribute.String("capture.model", model),
		),
	)
}

// recordCaptureMetrics records the outcome of one captured call. status is
// "ok" or "error"; verdict is "pass", "fail" or "" when no expectations ran.
func recordCaptureMetrics(ctx context.Context, provider string, duration time.Duration, status, verdict string) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)

	captureLatency.Record(ctx, duration.Seconds(), attrs)
	captureTotal.Add(ctx, 1, attrs)
	if verdict != "" {
		verdictTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("verdict", verdict),
		))
	}
}
