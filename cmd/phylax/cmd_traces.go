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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/phylax/pkg/ux"
	"github.com/AleutianAI/phylax/services/trace/storage/filestore"
)

// runList prints recent traces, newest first, with the verdict glyph up
// front and violations beneath each failed trace.
func runList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore()

	traces, err := store.ListTraces(ctx, filestore.ListOptions{
		Limit:      listLimit,
		Model:      listModel,
		Provider:   listProvider,
		FailedOnly: listFailed,
	})
	if err != nil {
		OutputError(listJSON, "Failed to list traces", err)
		os.Exit(ExitError)
	}

	if listJSON {
		if err := OutputJSON(traces); err != nil {
			OutputError(true, "Failed to encode traces", err)
			os.Exit(ExitError)
		}
		return
	}

	if len(traces) == 0 {
		if listFailed {
			ux.Success("No failed traces found.")
		} else {
			ux.Info("No traces found.")
		}
		return
	}

	fmt.Printf("%-6s %-36s %-16s %s\n", "STATUS", "ID", "MODEL", "LATENCY")
	fmt.Println(strings.Repeat("-", 72))
	for _, tr := range traces {
		fmt.Println(formatTraceRow(tr))
		if tr.Verdict.Failed() {
			for _, v := range tr.Verdict.Violations {
				fmt.Printf("       └─ %s\n", v)
			}
		}
	}
}

// runShow prints one trace in full, verdict first.
func runShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore()
	traceID := args[0]

	tr, err := store.GetTrace(ctx, traceID)
	if err != nil {
		if errors.Is(err, filestore.ErrTraceNotFound) {
			OutputError(showJSON, fmt.Sprintf("Trace %s not found", traceID), nil)
		} else {
			OutputError(showJSON, "Failed to load trace", err)
		}
		os.Exit(ExitError)
	}

	if showJSON {
		if err := OutputJSON(tr); err != nil {
			OutputError(true, "Failed to encode trace", err)
			os.Exit(ExitError)
		}
		return
	}

	fmt.Print(renderTraceDetail(tr))
}
