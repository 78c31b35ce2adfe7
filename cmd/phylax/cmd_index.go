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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/phylax/pkg/ux"
	badgerstore "github.com/AleutianAI/phylax/services/trace/storage/badger"
	"github.com/AleutianAI/phylax/services/trace/storage/index"
)

// indexDir resolves the Badger directory: --root beats the config, matching
// how the storage root itself resolves.
func indexDir() string {
	if flagRoot != "" {
		return filepath.Join(flagRoot, "index")
	}
	return cfg.IndexDir()
}

// badgerIndexConfig is the persistent Badger setup shared by the server and
// the rebuild command.
func badgerIndexConfig() badgerstore.Config {
	bcfg := badgerstore.DefaultConfig()
	bcfg.Path = indexDir()
	bcfg.Logger = slog.Default()
	return bcfg
}

// runIndexRebuild drops the derived index and rewalks the trace files. The
// files are the ground truth; this recovers from any index corruption or
// staleness.
func runIndexRebuild(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore()

	db, err := badgerstore.OpenDB(badgerIndexConfig())
	if err != nil {
		OutputError(false, "Failed to open index database", err)
		os.Exit(ExitError)
	}
	defer db.Close()

	idx, err := index.New(index.Config{
		DB:     db,
		Root:   store.TracesDir(),
		Logger: slog.Default(),
	})
	if err != nil {
		OutputError(false, "Failed to build index", err)
		os.Exit(ExitError)
	}

	var count int
	err = ux.WithSpinner("Rebuilding index from trace files", func() error {
		var rerr error
		count, rerr = idx.Rebuild(ctx, store.TracesDir())
		return rerr
	})
	if err != nil {
		OutputError(false, "Index rebuild failed", err)
		os.Exit(ExitError)
	}

	ux.Success(fmt.Sprintf("Indexed %d trace(s)", count))
	ux.Info(fmt.Sprintf("Index: %s", indexDir()))
}
