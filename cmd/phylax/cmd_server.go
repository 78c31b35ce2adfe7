// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/phylax/pkg/ux"
	"github.com/AleutianAI/phylax/services/trace/server"
	badgerstore "github.com/AleutianAI/phylax/services/trace/storage/badger"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
	"github.com/AleutianAI/phylax/services/trace/storage/index"
	"github.com/AleutianAI/phylax/services/trace/telemetry"
)

// runServer starts the trace server with the storage, index, and telemetry
// stack described by the config. Blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func runServer(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := cfg.Server.Host
	port := cfg.Server.Port
	if cmd.Flags().Changed("host") {
		host = serverHost
	}
	if cmd.Flags().Changed("port") {
		port = serverPort
	}

	// Exporters come from the config file; AllowDegraded keeps the server
	// usable when a collector endpoint is down.
	tcfg := telemetry.DefaultConfig()
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.AllowDegraded = true
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		OutputError(false, "Failed to initialize telemetry", err)
		os.Exit(ExitError)
	}
	defer func() { _ = shutdown(context.Background()) }()

	root := storageRoot()

	// The index is wired before the store so every save flows through it.
	var (
		idx     *index.Index
		indexer filestore.Indexer
	)
	if cfg.Storage.Index {
		db, err := badgerstore.OpenDB(badgerIndexConfig())
		if err != nil {
			OutputError(false, "Failed to open index database", err)
			os.Exit(ExitError)
		}
		defer db.Close()

		idx, err = index.New(index.Config{
			DB:     db,
			Root:   filepath.Join(root, "traces"),
			Logger: slog.Default(),
		})
		if err != nil {
			OutputError(false, "Failed to build index", err)
			os.Exit(ExitError)
		}
		indexer = idx
	}

	store, err := filestore.New(filestore.Config{Root: root, Indexer: indexer})
	if err != nil {
		OutputError(false, "Failed to open trace store", err)
		os.Exit(ExitError)
	}

	// Watcher keeps the index current for traces written by other
	// processes (SDKs writing files directly). The index is derived state,
	// so watcher failures degrade rather than abort.
	var watcher *index.Watcher
	if idx != nil {
		watcher, err = index.NewWatcher(idx, store.TracesDir(), nil)
		if err != nil {
			ux.Warning(fmt.Sprintf("Index watcher unavailable: %v", err))
			watcher = nil
		} else if err := watcher.Start(ctx); err != nil {
			ux.Warning(fmt.Sprintf("Index watcher failed to start: %v", err))
			watcher = nil
		} else {
			defer watcher.Stop()
		}
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.MetricExporter != "none" {
		meter := otel.Meter("phylax-server")
		metrics, err = telemetry.NewMetrics(meter)
		if err != nil {
			ux.Warning(fmt.Sprintf("HTTP metrics unavailable: %v", err))
			metrics = nil
		}
		if metrics != nil && watcher != nil {
			w := watcher
			if _, err := telemetry.RegisterIndexWatcherState(meter, func() int64 {
				if w.IsWatching() {
					return 1
				}
				return 0
			}); err != nil {
				slog.Warn("index watcher gauge registration failed", "error", err)
			}
		}
	}

	srv, err := server.New(server.Config{
		Host:     host,
		Port:     port,
		Store:    store,
		Index:    idx,
		Registry: buildRegistry(),
		Metrics:  metrics,
		Logger:   slog.Default(),
	})
	if err != nil {
		OutputError(false, "Failed to build server", err)
		os.Exit(ExitError)
	}

	printServerBanner(host, port, store, idx != nil)

	if err := srv.Run(ctx); err != nil {
		OutputError(false, "Server exited with error", err)
		os.Exit(ExitError)
	}
	ux.Success("Server stopped")
}

func printServerBanner(host string, port int, store *filestore.Store, indexed bool) {
	indexState := "disabled"
	if indexed {
		indexState = "enabled"
	}
	ux.Title("Phylax trace server")
	ux.Info(fmt.Sprintf("Listening: http://%s:%d", host, port))
	ux.Info(fmt.Sprintf("Traces:    %s", store.TracesDir()))
	ux.Info(fmt.Sprintf("Index:     %s", indexState))
	ux.Muted("Press Ctrl+C to stop")
}
