// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package regression replays golden traces and reports output drift.
//
// Description:
//
//	The Checker is the CI gate: it re-invokes every blessed trace with its
//	original request and compares output hashes. Replays are persisted with
//	replay_of lineage, so a drifting model leaves an auditable trail. A
//	failing record never aborts the batch; the report carries one result
//	per golden and the caller decides the exit code from Failures.
//
//	The GraphChecker is the structural gate: it rebuilds every stored
//	execution's graph and fails on failing graph verdicts, pointing at the
//	root cause node.
//
// Thread Safety: Checker and GraphChecker are safe for concurrent use.
package regression

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/phylax/services/trace/capture"
	"github.com/AleutianAI/phylax/services/trace/providers"
	"github.com/AleutianAI/phylax/services/trace/schema"
)

// Store is the persistence surface the trace checker needs: listing the
// goldens and saving replays.
type Store interface {
	ListBlessed(ctx context.Context) ([]*schema.Trace, error)
	SaveTrace(ctx context.Context, trace *schema.Trace) (string, error)
}

// Config configures a Checker.
type Config struct {
	// RatePerSecond throttles provider calls. Zero means unlimited.
	RatePerSecond float64
	// Burst is the limiter burst when a rate is set. Defaults to 1.
	Burst int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the unlimited-rate defaults.
func DefaultConfig() *Config {
	return &Config{Logger: slog.Default()}
}

// Option configures the checker.
type Option func(*Config)

// WithRateLimit throttles provider calls to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.RatePerSecond = perSecond
		c.Burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// Checker replays blessed traces against live providers.
type Checker struct {
	store    Store
	registry *providers.Registry
	capturer *capture.Capturer
	limiter  *rate.Limiter
	log      *slog.Logger
}

// NewChecker creates a checker over the store and provider registry.
func NewChecker(store Store, registry *providers.Registry, opts ...Option) (*Checker, error) {
	if store == nil {
		return nil, fmt.Errorf("regression: store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("regression: provider registry is required")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	capturer, err := capture.New(capture.Config{Store: store, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	return &Checker{
		store:    store,
		registry: registry,
		capturer: capturer,
		limiter:  limiter,
		log:      cfg.Logger,
	}, nil
}

// Check replays every golden trace and reports per-record outcomes.
//
// Description:
//
//	An empty golden set yields a passing report with a warning; that keeps
//	first-run CI green instead of red. Per-record errors (unknown provider,
//	provider failure, replay save failure) mark the record failed and the
//	batch continues. Only context cancellation aborts the run.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Checker.Check")
	defer span.End()
	start := time.Now()

	blessed, err := c.store.ListBlessed(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Results: []Result{}}
	if len(blessed) == 0 {
		c.log.WarnContext(ctx, "no blessed traces found, nothing to check")
		report.Passed = true
		recordCheckMetrics(ctx, "trace", time.Since(start), true)
		return report, nil
	}

	for _, golden := range blessed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result := c.checkOne(ctx, golden)
		report.Results = append(report.Results, result)
		recordOutcome(ctx, "trace", result.outcome())
	}

	report.Total = len(report.Results)
	for _, r := range report.Results {
		if !r.Passed() {
			report.Failures++
		}
	}
	report.Passed = report.Failures == 0

	span.SetAttributes(
		attribute.Int("check.total", report.Total),
		attribute.Int("check.failures", report.Failures),
		attribute.Bool("check.passed", report.Passed),
	)
	recordCheckMetrics(ctx, "trace", time.Since(start), report.Passed)
	c.log.InfoContext(ctx, "regression check finished",
		"total", report.Total,
		"failures", report.Failures)
	return report, nil
}

// checkOne replays a single golden and compares output hashes.
func (c *Checker) checkOne(ctx context.Context, golden *schema.Trace) Result {
	result := Result{
		TraceID:      golden.TraceID,
		Model:        golden.Request.Model,
		Provider:     golden.Request.Provider,
		OriginalHash: golden.OutputHashMeta(),
	}

	provider, err := c.registry.Get(golden.Request.Provider)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if err := c.limiter.Wait(ctx); err != nil {
		result.Error = err.Error()
		return result
	}

	req := providers.Request{
		Model:      golden.Request.Model,
		Messages:   golden.Request.Messages,
		Parameters: golden.Request.Parameters,
	}
	_, replay, err := c.capturer.Capture(ctx, capture.CapturedCall{
		Provider:   golden.Request.Provider,
		Model:      golden.Request.Model,
		Messages:   golden.Request.Messages,
		Parameters: golden.Request.Parameters,
		ReplayOf:   golden.TraceID,
		Invoke: func(ctx context.Context) (any, error) {
			return provider.Invoke(ctx, req)
		},
	})
	if replay != nil {
		result.NewTraceID = replay.TraceID
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.NewHash = schema.OutputHash(replay.Response.Text)
	result.Match = result.OriginalHash != "" && result.NewHash == result.OriginalHash
	return result
}
