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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/phylax/pkg/ux"
	"github.com/AleutianAI/phylax/services/trace/regression"
)

// checkTimeout bounds a whole check run; each golden is one provider call.
const checkTimeout = 10 * time.Minute

// runCheck replays every blessed trace and compares output hashes. Exits
// ExitError when any regression or replay error is found, which is the whole
// point of running it in CI.
func runCheck(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	store := openStore()
	checker, err := regression.NewChecker(store, buildRegistry(), regression.WithLogger(slog.Default()))
	if err != nil {
		OutputError(checkJSON, "Failed to build checker", err)
		os.Exit(ExitError)
	}

	var report *regression.Report
	runErr := ux.WithSpinner("Replaying golden traces", func() error {
		var cerr error
		report, cerr = checker.Check(ctx)
		return cerr
	})
	if runErr != nil {
		OutputError(checkJSON, "Check failed", runErr)
		os.Exit(ExitError)
	}

	if checkJSON {
		data, err := report.JSON()
		if err != nil {
			OutputError(true, "Failed to encode report", err)
			os.Exit(ExitError)
		}
		fmt.Println(string(data))
	} else if report.Total == 0 {
		ux.Warning("No blessed traces found.")
		ux.Muted("Use 'phylax bless <trace-id>' to mark a trace as golden.")
	} else {
		ux.Title("Replaying golden traces")
		fmt.Print(renderCheckReport(report))
		if report.Failures == 0 {
			ux.Success(fmt.Sprintf("All checks passed (%d trace(s))", report.Total))
		} else {
			ux.Error(fmt.Sprintf("%d of %d check(s) failed", report.Failures, report.Total))
		}
	}

	if report.Failures > 0 {
		os.Exit(ExitError)
	}
}

// runGraphCheck folds node verdicts into a verdict per execution graph.
// No provider calls; this judges what is already recorded.
func runGraphCheck(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	store := openStore()
	checker, err := regression.NewGraphChecker(store, regression.WithLogger(slog.Default()))
	if err != nil {
		OutputError(graphCheckJSON, "Failed to build graph checker", err)
		os.Exit(ExitError)
	}

	report, err := checker.Check(ctx)
	if err != nil {
		OutputError(graphCheckJSON, "Graph check failed", err)
		os.Exit(ExitError)
	}

	if graphCheckJSON {
		data, err := report.JSON()
		if err != nil {
			OutputError(true, "Failed to encode report", err)
			os.Exit(ExitError)
		}
		fmt.Println(string(data))
	} else if report.Total == 0 {
		ux.Info("No executions found.")
	} else {
		ux.Title("Checking execution graphs")
		fmt.Print(renderGraphReport(report))
		if report.Failures == 0 {
			ux.Success(fmt.Sprintf("All %d execution(s) passed", report.Total))
		} else {
			ux.Error(fmt.Sprintf("%d execution(s) failed", report.Failures))
		}
	}

	if report.Failures > 0 {
		os.Exit(ExitError)
	}
}
