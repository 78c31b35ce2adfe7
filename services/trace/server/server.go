// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the trace store over HTTP.
//
// The server is a thin layer: every read answers from the filestore ground
// truth (the derived index only serves /v1/stats), writes go through the
// same store the SDK writes through, and replays re-enter the capture
// pipeline so replay traces are indistinguishable from first-run traces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/phylax/services/trace/providers"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
	"github.com/AleutianAI/phylax/services/trace/storage/index"
	"github.com/AleutianAI/phylax/services/trace/telemetry"
)

// Config holds server configuration options.
//
// # Required Fields
//
//   - Store: the trace filestore.
//
// # Optional Fields
//
// All other fields have defaults applied by New().
type Config struct {
	// Host is the listen address. Default: "127.0.0.1".
	Host string

	// Port is the HTTP server port. Default: 8000.
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: "release".
	GinMode string

	// Store is the trace filestore. Required.
	Store *filestore.Store

	// Index is the derived Badger index backing /v1/stats. Optional;
	// without it /v1/stats answers 503.
	Index *index.Index

	// Registry resolves provider tags for replay and chat completions.
	// Default: providers.Default().
	Registry *providers.Registry

	// Metrics, when set, records HTTP request metrics around the router.
	Metrics *telemetry.Metrics

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the Phylax HTTP server.
//
// Thread Safety: safe for concurrent use after New() returns. Run should be
// called at most once per instance.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	handlers *Handlers
	http     *http.Server
	log      *slog.Logger
}

// New creates a Server with routes registered and middleware applied.
//
// Description:
//
//	Builds the Gin engine (recovery + otelgin tracing), constructs the
//	handlers over the store, index and provider registry, and registers
//	all routes. When cfg.Metrics is set the engine is wrapped in the
//	telemetry metrics middleware at the http.Server layer, so request
//	counts and durations cover 404s and panics-turned-500s as well.
//
// Outputs:
//
//   - *Server: ready to Run.
//   - error: non-nil when cfg.Store is missing.
func New(cfg Config) (*Server, error) {
	cfg = applyConfigDefaults(cfg)
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}

	gin.SetMode(cfg.GinMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("phylax-server"))

	handlers := NewHandlers(cfg.Store, cfg.Registry, cfg.Logger).
		WithIndex(cfg.Index)

	RegisterRoutes(engine, handlers)

	var root http.Handler = engine
	if cfg.Metrics != nil {
		root = telemetry.MetricsMiddleware(cfg.Metrics)(root)
	}

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		handlers: handlers,
		log:      cfg.Logger,
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return s, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
//
// Description:
//
//	On ctx cancellation in-flight requests get cfg.ShutdownTimeout to
//	drain before the listener closes. A clean shutdown returns nil.
//
// Outputs:
//
//   - error: non-nil when the listener fails or shutdown times out.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting phylax server", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down phylax server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.Registry == nil {
		cfg.Registry = providers.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
