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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/phylax/cmd/phylax/config"
	"github.com/AleutianAI/phylax/pkg/ux"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
)

// runInit scaffolds the Phylax home: the config file and the trace storage
// layout it points at. Safe to re-run; an existing config needs --force.
func runInit(cmd *cobra.Command, args []string) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}

	if err := config.WriteDefault(path, initForce); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			ux.Warning(fmt.Sprintf("Config already exists at %s", path))
			ux.Muted("Use --force to overwrite")
			os.Exit(ExitError)
		}
		OutputError(false, "Failed to write config", err)
		os.Exit(ExitError)
	}

	// The fresh template points at the default storage root, so scaffold
	// that rather than whatever a previous config configured.
	def := config.DefaultConfig()
	root := def.StorageDir()
	if flagRoot != "" {
		root = flagRoot
	}
	store, err := filestore.New(filestore.Config{Root: root})
	if err != nil {
		OutputError(false, "Failed to create storage directories", err)
		os.Exit(ExitError)
	}

	ux.Success(fmt.Sprintf("Initialized Phylax at %s", root))
	ux.Info(fmt.Sprintf("Config: %s", path))
	ux.Info(fmt.Sprintf("Traces: %s", store.TracesDir()))
}
