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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/phylax/cmd/phylax/config"
	"github.com/AleutianAI/phylax/pkg/logging"
	"github.com/AleutianAI/phylax/pkg/ux"
	"github.com/AleutianAI/phylax/services/trace/providers"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagConfig      string
	flagRoot        string
	flagQuiet       bool
	flagVerbose     int
	flagPersonality string
)

// cfg is loaded once in setupCLI before any run handler.
var cfg *config.PhylaxConfig

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	initForce bool

	serverHost string
	serverPort int

	listLimit    int
	listModel    string
	listProvider string
	listFailed   bool
	listJSON     bool

	showJSON bool

	replayModel  string
	replayDryRun bool

	blessForce bool
	blessYes   bool

	checkJSON      bool
	graphCheckJSON bool
)

// =============================================================================
// COMMANDS
// =============================================================================

var (
	rootCmd = &cobra.Command{
		Use:   "phylax",
		Short: "Trace, replay, and regression-check LLM calls",
		Long: `Phylax records every LLM call as an immutable trace, groups traces into
execution graphs, and replays blessed golden traces to catch output
regressions before they ship.`,
		PersistentPreRun: setupCLI,
	}

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the Phylax home directory and default config",
		Run:   runInit,
	}

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Start the trace server",
		Run:   runServer,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List recorded traces",
		Run:   runList,
	}

	showCmd = &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show one trace in full",
		Args:  cobra.ExactArgs(1),
		Run:   runShow,
	}

	replayCmd = &cobra.Command{
		Use:   "replay <trace-id>",
		Short: "Re-execute a recorded trace against its provider",
		Args:  cobra.ExactArgs(1),
		Run:   runReplay,
	}

	blessCmd = &cobra.Command{
		Use:   "bless <trace-id>",
		Short: "Mark a trace as the golden reference for its model",
		Args:  cobra.ExactArgs(1),
		Run:   runBless,
	}

	unblessCmd = &cobra.Command{
		Use:   "unbless <trace-id>",
		Short: "Remove golden status from a trace",
		Args:  cobra.ExactArgs(1),
		Run:   runUnbless,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Replay all golden traces and fail on regressions (CI-safe)",
		Run:   runCheck,
	}

	graphCheckCmd = &cobra.Command{
		Use:   "graph-check",
		Short: "Evaluate every execution graph and fail on failed nodes (CI-safe)",
		Run:   runGraphCheck,
	}

	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Manage the derived trace index",
	}

	indexRebuildCmd = &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from the trace files",
		Run:   runIndexRebuild,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default ~/.phylax/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "Storage root override (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress log output on stderr")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().StringVar(&flagPersonality, "personality", "", "Output style: full, standard, minimal, machine")

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config")

	serverCmd.Flags().StringVar(&serverHost, "host", "127.0.0.1", "Host to bind to")
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 8000, "Port to bind to")

	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Max traces to show")
	listCmd.Flags().StringVarP(&listModel, "model", "m", "", "Filter by model")
	listCmd.Flags().StringVar(&listProvider, "provider", "", "Filter by provider")
	listCmd.Flags().BoolVarP(&listFailed, "failed", "f", false, "Show only failed traces")
	listCmd.Flags().BoolVarP(&listJSON, "json", "j", false, "Output as JSON")

	showCmd.Flags().BoolVarP(&showJSON, "json", "j", false, "Output as JSON")

	replayCmd.Flags().StringVarP(&replayModel, "model", "m", "", "Override the model")
	replayCmd.Flags().BoolVarP(&replayDryRun, "dry-run", "d", false, "Print the would-be request without calling the provider")

	blessCmd.Flags().BoolVar(&blessForce, "force", false, "Replace an existing golden for this model")
	blessCmd.Flags().BoolVarP(&blessYes, "yes", "y", false, "Skip the confirmation prompt")

	checkCmd.Flags().BoolVarP(&checkJSON, "json", "j", false, "Output the report as JSON")
	graphCheckCmd.Flags().BoolVarP(&graphCheckJSON, "json", "j", false, "Output the report as JSON")

	indexCmd.AddCommand(indexRebuildCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(blessCmd)
	rootCmd.AddCommand(unblessCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(graphCheckCmd)
	rootCmd.AddCommand(indexCmd)
}

// setupCLI runs before every command: personality, default logger, config.
//
// Log level comes from the verbosity flags; the CLI default is warnings only
// so command output stays clean. `init` tolerates an invalid config since it
// is the repair path for one.
func setupCLI(cmd *cobra.Command, args []string) {
	if flagPersonality != "" {
		ux.SetLevel(ux.ParseLevel(flagPersonality))
	} else {
		ux.InitLevel()
	}

	level := logging.LevelWarn
	switch {
	case flagVerbose >= 2:
		level = logging.LevelDebug
	case flagVerbose == 1:
		level = logging.LevelInfo
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "cli",
		Quiet:   flagQuiet,
	})
	slog.SetDefault(logger.Slog())

	loaded, err := config.Load(flagConfig)
	if err != nil {
		if cmd.Name() == "init" {
			ux.Warning(fmt.Sprintf("Ignoring invalid config: %v", err))
			def := config.DefaultConfig()
			cfg = &def
			return
		}
		OutputError(false, "Failed to load config", err)
		os.Exit(ExitError)
	}
	cfg = loaded
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// storageRoot resolves the trace storage root: --root beats the config.
func storageRoot() string {
	if flagRoot != "" {
		return flagRoot
	}
	return cfg.StorageDir()
}

// openStore opens the filestore at the resolved root, exiting on failure.
func openStore() *filestore.Store {
	store, err := filestore.New(filestore.Config{Root: storageRoot()})
	if err != nil {
		OutputError(false, "Failed to open trace store", err)
		os.Exit(ExitError)
	}
	return store
}

// buildRegistry constructs the provider registry, exporting the configured
// Ollama endpoint first so the adapter picks it up. An explicit
// OLLAMA_BASE_URL in the environment wins over the config file.
func buildRegistry() *providers.Registry {
	if cfg.Providers.OllamaURL != "" && os.Getenv("OLLAMA_BASE_URL") == "" {
		_ = os.Setenv("OLLAMA_BASE_URL", cfg.Providers.OllamaURL)
	}
	return providers.Default()
}
