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
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

// exporterConfig is DefaultConfig with the exporters pinned, so tests are
// immune to OTEL_* variables in the environment.
func exporterConfig(traces, metrics string) Config {
	cfg := DefaultConfig()
	cfg.TraceExporter = traces
	cfg.MetricExporter = metrics
	return cfg
}

// mustInit runs Init, fails the test on error, and schedules the shutdown.
func mustInit(t *testing.T, cfg Config) {
	t.Helper()
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })
}

func TestDefaultConfig(t *testing.T) {
	// Empty values read as unset, shielding the test from the ambient env.
	t.Setenv("PHYLAX_ENV", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := DefaultConfig()

	if cfg.ServiceName != "phylax" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "phylax")
	}
	if cfg.TraceExporter != "otlp" {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, "otlp")
	}
	if cfg.MetricExporter != "prometheus" {
		t.Errorf("MetricExporter = %q, want %q", cfg.MetricExporter, "prometheus")
	}
	if cfg.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.OTLPInsecure {
		t.Error("OTLPInsecure should default to true for local collectors")
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", cfg.SampleRate)
	}
	if cfg.AllowDegraded {
		t.Error("AllowDegraded should default to false")
	}
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PHYLAX_ENV", "production")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig()

	if cfg.Environment != "production" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "production")
	}
	if cfg.TraceExporter != "stdout" {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, "stdout")
	}
	if cfg.MetricExporter != "none" {
		t.Errorf("MetricExporter = %q, want %q", cfg.MetricExporter, "none")
	}
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.OTLPEndpoint, "collector:4317")
	}
}

func TestInit_NilContext(t *testing.T) {
	if _, err := Init(nil, exporterConfig("none", "none")); !errors.Is(err, ErrNilContext) {
		t.Errorf("Init(nil, cfg) error = %v, want %v", err, ErrNilContext)
	}
}

func TestInit_NoExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), exporterConfig("none", "none"))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown function is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}

	// The propagator is registered even with exporters off, so incoming
	// traceparent headers still correlate request IDs.
	fields := otel.GetTextMapPropagator().Fields()
	if !slices.Contains(fields, "traceparent") {
		t.Errorf("propagator fields = %v, want to include traceparent", fields)
	}
}

func TestInit_UnknownTraceExporter(t *testing.T) {
	if _, err := Init(context.Background(), exporterConfig("graphite", "none")); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("Init() error = %v, want %v", err, ErrUnknownExporter)
	}
}

func TestInit_UnknownMetricExporter(t *testing.T) {
	if _, err := Init(context.Background(), exporterConfig("none", "statsd")); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("Init() error = %v, want %v", err, ErrUnknownExporter)
	}
}

func TestInit_UnknownExporterIgnoresAllowDegraded(t *testing.T) {
	cfg := exporterConfig("graphite", "none")
	cfg.AllowDegraded = true

	if _, err := Init(context.Background(), cfg); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("Init() error = %v, want %v (config mistakes must not degrade)", err, ErrUnknownExporter)
	}
}

func TestInit_StdoutTraceExporter(t *testing.T) {
	mustInit(t, exporterConfig("stdout", "none"))

	// Default sample rate is 1.0, so every span is sampled.
	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "save-trace")
	defer span.End()

	if !span.SpanContext().IsSampled() {
		t.Error("expected span to be sampled at rate 1.0")
	}
}

func TestInit_SampleRateZero(t *testing.T) {
	cfg := exporterConfig("stdout", "none")
	cfg.SampleRate = 0.0
	mustInit(t, cfg)

	tracer := otel.Tracer("telemetry_test")
	for i := 0; i < 10; i++ {
		_, span := tracer.Start(context.Background(), "save-trace")
		sampled := span.SpanContext().IsSampled()
		span.End()
		if sampled {
			t.Fatal("no span should be sampled at rate 0.0")
		}
	}
}

func TestInit_SampleRatePartial(t *testing.T) {
	cfg := exporterConfig("stdout", "none")
	cfg.SampleRate = 0.5
	mustInit(t, cfg)

	tracer := otel.Tracer("telemetry_test")
	sampled := 0
	const total = 100
	for i := 0; i < total; i++ {
		_, span := tracer.Start(context.Background(), "save-trace")
		if span.SpanContext().IsSampled() {
			sampled++
		}
		span.End()
	}

	// Binomial(100, 0.5) lands outside this band with negligible probability.
	ratio := float64(sampled) / float64(total)
	if ratio < 0.2 || ratio > 0.8 {
		t.Errorf("sampled %.0f%% of spans at rate 0.5, want 20%%-80%%", ratio*100)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"full sampling", 1.0, "AlwaysOnSampler"},
		{"above one", 1.5, "AlwaysOnSampler"},
		{"no sampling", 0.0, "AlwaysOffSampler"},
		{"negative", -0.5, "AlwaysOffSampler"},
		{"half", 0.5, "TraceIDRatioBased"},
		{"ten percent", 0.1, "TraceIDRatioBased"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := samplerFor(tt.rate).Description()
			if !strings.Contains(desc, tt.want) {
				t.Errorf("samplerFor(%v) = %q, want to contain %q", tt.rate, desc, tt.want)
			}
		})
	}
}

func TestInit_PrometheusExporter(t *testing.T) {
	mustInit(t, exporterConfig("none", "prometheus"))

	counter, err := otel.Meter("telemetry_test").Int64Counter("telemetry_test_requests_total")
	if err != nil {
		t.Fatalf("creating counter: %v", err)
	}
	counter.Add(context.Background(), 42)

	handler := MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler() returned nil after prometheus init")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := rec.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), "# HELP") && !strings.Contains(string(body), "# TYPE") {
		t.Error("response is not Prometheus exposition format")
	}
}

func TestInit_StdoutMetricExporter(t *testing.T) {
	mustInit(t, exporterConfig("none", "stdout"))

	counter, err := otel.Meter("telemetry_test").Int64Counter("telemetry_test_stdout_total")
	if err != nil {
		t.Fatalf("creating counter: %v", err)
	}
	counter.Add(context.Background(), 1)
}

func TestMetricsHandler_NilBeforeInit(t *testing.T) {
	metricsHandlerMu.Lock()
	saved := metricsHandler
	metricsHandler = nil
	metricsHandlerMu.Unlock()
	defer setMetricsHandler(saved)

	if MetricsHandler() != nil {
		t.Error("MetricsHandler() should be nil before the prometheus exporter runs")
	}
}

func TestShutdownGroup(t *testing.T) {
	boom := errors.New("flush failed")
	var order []string

	var g shutdownGroup
	g.add(func(context.Context) error {
		order = append(order, "tracer")
		return nil
	})
	g.add(func(context.Context) error {
		order = append(order, "meter")
		return boom
	})

	err := g.shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("shutdown() error = %v, want %v", err, boom)
	}
	if !slices.Equal(order, []string{"tracer", "meter"}) {
		t.Errorf("shutdown order = %v, want [tracer meter]", order)
	}
}

func TestShutdownGroup_Empty(t *testing.T) {
	var g shutdownGroup
	if err := g.shutdown(context.Background()); err != nil {
		t.Errorf("empty group shutdown() error = %v", err)
	}
}

func TestGetEnvOr(t *testing.T) {
	t.Run("fallback when unset", func(t *testing.T) {
		if got := getEnvOr("PHYLAX_TEST_UNSET_VAR", "fallback"); got != "fallback" {
			t.Errorf("getEnvOr() = %q, want %q", got, "fallback")
		}
	})

	t.Run("env value when set", func(t *testing.T) {
		t.Setenv("PHYLAX_TEST_VAR", "custom")
		if got := getEnvOr("PHYLAX_TEST_VAR", "fallback"); got != "custom" {
			t.Errorf("getEnvOr() = %q, want %q", got, "custom")
		}
	})
}
