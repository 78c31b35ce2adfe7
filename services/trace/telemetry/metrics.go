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
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the HTTP instruments recorded by MetricsMiddleware. Domain
// packages (capture, index, regression) register their own instruments on
// their own meters; only the shared HTTP layer goes through this struct.
//
// Thread Safety: safe for concurrent use. OTel instruments are goroutine-safe.
type Metrics struct {
	// HTTPRequestsTotal counts requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration is the request latency histogram in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks requests currently in flight.
	HTTPActiveRequests metric.Int64UpDownCounter
}

// latencyBuckets cover the full spread of phylax endpoints: reads and
// writes finish in milliseconds, replay and regression runs can take
// tens of seconds when a provider is in the loop.
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// NewMetrics registers the HTTP instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"phylax_http_requests_total",
		metric.WithDescription("HTTP requests served, by method, path, and status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("register phylax_http_requests_total: %w", err)
	}

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"phylax_http_request_duration_seconds",
		metric.WithDescription("End-to-end HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, fmt.Errorf("register phylax_http_request_duration_seconds: %w", err)
	}

	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"phylax_http_active_requests",
		metric.WithDescription("HTTP requests currently in flight"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("register phylax_http_active_requests: %w", err)
	}

	return &m, nil
}

// RegisterIndexWatcherState exposes the index watcher's health as the
// phylax_index_watcher_state gauge (1 watching, 0 stopped). state is
// polled on every metrics collection and must not block.
//
// The returned Registration can be Unregistered if the watcher shuts down
// before the process does.
func RegisterIndexWatcherState(meter metric.Meter, state func() int64) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(
		"phylax_index_watcher_state",
		metric.WithDescription("Index file watcher state (0=stopped, 1=watching)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register phylax_index_watcher_state: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, state())
		return nil
	}, gauge)
}
