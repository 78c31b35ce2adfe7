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
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config controls which exporters the telemetry stack wires up. Zero
// values are fine; DefaultConfig fills in the development setup. The CLI
// config file carries its own telemetry section and copies the relevant
// fields over, so nothing decodes this struct directly.
type Config struct {
	// ServiceName labels every span and metric this process emits.
	ServiceName string

	// ServiceVersion rides along on the service resource.
	ServiceVersion string

	// Environment names the deployment (development, production, ...).
	Environment string

	// TraceExporter picks where spans go: "otlp", "stdout", or "none".
	// Jaeger ingests OTLP natively, so "otlp" covers it.
	TraceExporter string

	// MetricExporter picks where metrics go: "prometheus", "otlp",
	// "stdout", or "none".
	MetricExporter string

	// OTLPEndpoint is the gRPC collector address used by the otlp
	// exporters, host:port without a scheme.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// SampleRate is the fraction of traces to keep, 0.0 to 1.0.
	SampleRate float64

	// AllowDegraded continues startup without a subsystem whose exporter
	// failed to initialize, instead of failing Init. Configuration errors
	// (unknown exporter type) still fail.
	AllowDegraded bool
}

// DefaultConfig returns the development setup: everything sampled, OTLP
// traces to a local collector, Prometheus metrics.
//
// The standard OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, and
// OTEL_EXPORTER_OTLP_ENDPOINT variables override their fields, as does
// PHYLAX_ENV for the environment name.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "phylax",
		ServiceVersion: "1.0.0",
		Environment:    getEnvOr("PHYLAX_ENV", "development"),
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", "otlp"),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", "prometheus"),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
		SampleRate:     1.0,
	}
}

// Init wires the global OpenTelemetry tracer and meter providers.
//
// Description:
//
//	Builds the service resource, installs the configured exporters, and
//	registers the W3C trace-context propagator so incoming traceparent
//	headers are honored. After Init returns, otel.Tracer() and otel.Meter()
//	hand out instruments backed by the configured providers.
//
// Outputs:
//
//	shutdown - Flushes and stops every provider Init started. Must be called
//	on exit; a context with a deadline bounds the flush.
//	error - Non-nil if an exporter fails and cfg.AllowDegraded is false, or
//	if an exporter name is unknown.
//
// Example:
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// Thread Safety: Call once at application startup.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	// Propagation is independent of the exporters: incoming traceparent
	// headers feed request IDs even when nothing is exported.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	var cleanup shutdownGroup

	if cfg.TraceExporter != "none" {
		tp, err := newTracerProvider(ctx, cfg, res)
		switch {
		case err == nil:
			otel.SetTracerProvider(tp)
			cleanup.add(tp.Shutdown)
		case degradable(cfg, err):
			slog.Warn("trace exporter unavailable, continuing without traces",
				slog.String("exporter", cfg.TraceExporter),
				slog.String("error", err.Error()))
		default:
			return nil, fmt.Errorf("init tracer: %w", err)
		}
	}

	if cfg.MetricExporter != "none" {
		mp, err := newMeterProvider(ctx, cfg, res)
		switch {
		case err == nil:
			otel.SetMeterProvider(mp)
			cleanup.add(mp.Shutdown)
		case degradable(cfg, err):
			slog.Warn("metric exporter unavailable, continuing without metrics",
				slog.String("exporter", cfg.MetricExporter),
				slog.String("error", err.Error()))
		default:
			return nil, fmt.Errorf("init meter: %w", err)
		}
	}

	return cleanup.shutdown, nil
}

// degradable reports whether Init should continue without the failed
// subsystem. Unknown exporter names are configuration mistakes and always
// fail regardless of AllowDegraded.
func degradable(cfg Config, err error) bool {
	return cfg.AllowDegraded && !errors.Is(err, ErrUnknownExporter)
}

// shutdownGroup collects provider shutdown hooks in registration order.
type shutdownGroup struct {
	funcs []func(context.Context) error
}

func (g *shutdownGroup) add(fn func(context.Context) error) {
	g.funcs = append(g.funcs, fn)
}

func (g *shutdownGroup) shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range g.funcs {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s trace exporter: %w", cfg.TraceExporter, err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	), nil
}

// samplerFor maps a sample rate to an OTel sampler. Rates at or above 1.0
// sample everything, at or below 0.0 nothing, in between trace-ID ratio.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		// The OTel prometheus exporter registers itself as a collector on
		// the default registry, so promhttp.Handler() serves our metrics.
		setMetricsHandler(promhttp.Handler())
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		), nil

	case "otlp":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

// getEnvOr returns the environment variable value or the fallback.
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	metricsHandlerMu sync.RWMutex
	metricsHandler   http.Handler
)

func setMetricsHandler(h http.Handler) {
	metricsHandlerMu.Lock()
	defer metricsHandlerMu.Unlock()
	metricsHandler = h
}

// MetricsHandler returns the HTTP handler for the /metrics endpoint, or nil
// when the prometheus exporter is not active. Safe for concurrent use.
func MetricsHandler() http.Handler {
	metricsHandlerMu.RLock()
	defer metricsHandlerMu.RUnlock()
	return metricsHandler
}
