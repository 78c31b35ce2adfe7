// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the OpenTelemetry SDK for Phylax.
//
// Init installs the global tracer and meter providers plus the W3C
// trace-context propagator; everything else in the codebase obtains
// instruments through otel.Tracer and otel.Meter. There is no wrapper
// API around OTel here: swapping backends is exporter configuration,
// not a code change.
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// Traces default to OTLP/gRPC (Jaeger accepts OTLP natively since 1.35).
// Metrics default to Prometheus pull: MetricsHandler returns the /metrics
// handler once the prometheus exporter is active, and MetricsMiddleware
// records the shared HTTP instruments from NewMetrics. Domain packages
// (capture, index, regression) register their own instruments on their
// own meters and do not go through this package.
//
// The standard OTel environment variables select exporters at startup:
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector endpoint (default localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default otlp)
//   - OTEL_METRICS_EXPORTER: prometheus, otlp, stdout, or none (default prometheus)
//   - PHYLAX_ENV: deployment environment on the service resource
//
// LoggerWithTrace and friends attach trace_id and span_id to slog loggers
// so log lines correlate with spans in the backend.
package telemetry
