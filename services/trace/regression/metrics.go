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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for regression checking.
var (
	tracer = otel.Tracer("phylax/regression")
	meter  = otel.Meter("phylax/regression")
)

// Metrics for check runs and per-record outcomes.
var (
	checkLatency metric.Float64Histogram
	checkTotal   metric.Int64Counter
	recordTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		checkLatency, err = meter.Float64Histogram(
			"phylax_check_duration_seconds",
			metric.WithDescription("Duration of regression check runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkTotal, err = meter.Int64Counter(
			"phylax_check_total",
			metric.WithDescription("Total regression check runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recordTotal, err = meter.Int64Counter(
			"phylax_check_records_total",
			metric.WithDescription("Per-record regression outcomes"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordCheckMetrics records one finished check run. kind distinguishes the
// trace checker from the graph checker.
func recordCheckMetrics(ctx context.Context, kind string, duration time.Duration, passed bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("passed", passed),
	)
	checkLatency.Record(ctx, duration.Seconds(), attrs)
	checkTotal.Add(ctx, 1, attrs)
}

// recordOutcome records one checked record. outcome is "pass", "fail" or
// "error".
func recordOutcome(ctx context.Context, kind, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	recordTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
