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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/phylax/pkg/ux"
	"github.com/AleutianAI/phylax/services/trace/capture"
	"github.com/AleutianAI/phylax/services/trace/providers"
	"github.com/AleutianAI/phylax/services/trace/schema"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
)

// replayTimeout bounds one provider call from the CLI.
const replayTimeout = 5 * time.Minute

// runReplay re-executes a recorded trace against its provider, recording the
// result as a new trace linked by replay_of. Dry-run prints the request that
// would be sent and stops.
func runReplay(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()

	store := openStore()
	traceID := args[0]

	original, err := store.GetTrace(ctx, traceID)
	if err != nil {
		if errors.Is(err, filestore.ErrTraceNotFound) {
			OutputError(false, fmt.Sprintf("Trace %s not found", traceID), nil)
		} else {
			OutputError(false, "Failed to load trace", err)
		}
		os.Exit(ExitError)
	}

	model := original.Request.Model
	if replayModel != "" {
		model = replayModel
	}

	ux.Info(fmt.Sprintf("Replaying trace %s", traceID))
	ux.Info(fmt.Sprintf("Model: %s", model))

	if replayDryRun {
		ux.Warning("Dry run, no provider call will be made")
		if err := OutputJSON(schema.Request{
			Provider:   original.Request.Provider,
			Model:      model,
			Messages:   original.Request.Messages,
			Parameters: original.Request.Parameters,
		}); err != nil {
			OutputError(false, "Failed to encode request", err)
			os.Exit(ExitError)
		}
		return
	}

	registry := buildRegistry()
	provider, err := registry.Get(original.Request.Provider)
	if err != nil {
		OutputError(false, fmt.Sprintf("Replay not supported for provider: %s", original.Request.Provider), nil)
		os.Exit(ExitError)
	}

	capturer, err := capture.New(capture.Config{Store: store})
	if err != nil {
		OutputError(false, "Failed to build capturer", err)
		os.Exit(ExitError)
	}

	_, newTrace, err := capturer.Capture(ctx, capture.CapturedCall{
		Provider:   original.Request.Provider,
		Model:      model,
		Messages:   original.Request.Messages,
		Parameters: original.Request.Parameters,
		ReplayOf:   traceID,
		Invoke: func(ctx context.Context) (any, error) {
			return provider.Invoke(ctx, providers.Request{
				Model:      model,
				Messages:   original.Request.Messages,
				Parameters: original.Request.Parameters,
			})
		},
	})
	if err != nil {
		if newTrace != nil {
			OutputError(false, fmt.Sprintf("Replay failed; error trace recorded as %s", newTrace.TraceID), err)
		} else {
			OutputError(false, "Replay failed", err)
		}
		os.Exit(ExitError)
	}

	ux.Success(fmt.Sprintf("New trace ID: %s", newTrace.TraceID))
	ux.Info(fmt.Sprintf("Response: %s", truncateText(newTrace.Response.Text, 200)))
}
