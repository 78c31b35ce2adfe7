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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/phylax/pkg/ux"
	"github.com/AleutianAI/phylax/services/trace/schema"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
)

// runBless pins a trace as the golden reference for its (model, provider).
// One golden per pair; --force replaces, --yes skips the prompt. Without a
// terminal the prompt cannot run, so --yes is required there.
func runBless(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore()
	traceID := args[0]

	tr, err := store.GetTrace(ctx, traceID)
	if err != nil {
		if errors.Is(err, filestore.ErrTraceNotFound) {
			OutputError(false, fmt.Sprintf("Trace %s not found", traceID), nil)
		} else {
			OutputError(false, "Failed to load trace", err)
		}
		os.Exit(ExitError)
	}

	// Surface the conflicting golden before prompting, so the user sees
	// which trace they would be replacing.
	if !blessForce {
		existing, err := store.GetGolden(ctx, tr.Request.Model, tr.Request.Provider)
		if err == nil && existing.TraceID != traceID {
			ux.Warning(fmt.Sprintf("A golden trace already exists for %s/%s",
				tr.Request.Model, tr.Request.Provider))
			ux.Info(fmt.Sprintf("Existing: %s", existing.TraceID))
			ux.Muted("Use --force to override")
			os.Exit(ExitError)
		}
	}

	if !blessYes {
		confirmed, err := ux.ConfirmBless(ux.BlessPromptOptions{
			TraceID:    tr.TraceID,
			Provider:   tr.Request.Provider,
			Model:      tr.Request.Model,
			Output:     tr.Response.Text,
			OutputHash: schema.OutputHash(tr.Response.Text),
		})
		if err != nil {
			if errors.Is(err, ux.ErrNonInteractive) {
				OutputError(false, "Not a terminal; pass --yes to bless without confirmation", nil)
			} else {
				OutputError(false, "Confirmation failed", err)
			}
			os.Exit(ExitError)
		}
		if !confirmed {
			ux.Muted("Cancelled.")
			return
		}
	}

	blessed, err := store.Bless(ctx, traceID, filestore.BlessOptions{Force: blessForce})
	if err != nil {
		if errors.Is(err, filestore.ErrGoldenExists) {
			// Raced with another bless between the pre-check and here.
			ux.Warning(fmt.Sprintf("A golden trace already exists for %s/%s",
				tr.Request.Model, tr.Request.Provider))
			ux.Muted("Use --force to override")
		} else {
			OutputError(false, "Failed to bless trace", err)
		}
		os.Exit(ExitError)
	}

	ux.Success("Trace blessed as golden reference")
	ux.Info(fmt.Sprintf("Output hash: %s", blessed.OutputHashMeta()))
}

// runUnbless removes golden status; the trace itself stays.
func runUnbless(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore()
	traceID := args[0]

	if err := store.Unbless(ctx, traceID); err != nil {
		if errors.Is(err, filestore.ErrTraceNotFound) {
			OutputError(false, fmt.Sprintf("Trace %s not found", traceID), nil)
		} else {
			OutputError(false, "Failed to unbless trace", err)
		}
		os.Exit(ExitError)
	}

	ux.Success(fmt.Sprintf("Golden status removed from %s", traceID))
}
