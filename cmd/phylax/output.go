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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/phylax/pkg/ux"
	"github.com/AleutianAI/phylax/services/trace/regression"
	"github.com/AleutianAI/phylax/services/trace/schema"
)

// =============================================================================
// EXIT CODES
// =============================================================================

// Exit codes follow the CI contract: scripts branch on them, so they are
// stable across releases.
const (
	// ExitSuccess means the command completed and found nothing wrong.
	ExitSuccess = 0

	// ExitError covers both operational failures and negative findings:
	// a failed store operation, a missing trace, or a regression found by
	// `check`. CI treats any non-zero as a failed gate.
	ExitError = 1

	// ExitUsage is reserved for argument and flag parse failures, reported
	// by cobra before a run handler starts.
	ExitUsage = 2
)

// =============================================================================
// MACHINE OUTPUT
// =============================================================================

// OutputJSON writes v to stdout as indented JSON.
func OutputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// OutputError reports a command failure on stderr. In JSON mode the payload
// is a single parseable object so pipelines never have to scrape styled text.
func OutputError(jsonMode bool, message string, err error) {
	if jsonMode {
		payload := map[string]string{"error": message}
		if err != nil {
			payload["details"] = err.Error()
		}
		data, _ := json.Marshal(payload)
		fmt.Fprintln(os.Stderr, string(data))
		return
	}
	if err != nil {
		ux.Error(fmt.Sprintf("%s: %v", message, err))
	} else {
		ux.Error(message)
	}
}

// =============================================================================
// TRACE RENDERING
// =============================================================================

// glyphsEnabled reports whether stdout is a terminal that can take emoji
// status glyphs. Pipes and CI logs get plain ASCII.
func glyphsEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// statusGlyph maps a trace verdict to its table glyph: pending when no
// verdict has been recorded, pass, or fail.
func statusGlyph(t *schema.Trace) string {
	emoji := glyphsEnabled()
	switch {
	case t.Verdict == nil:
		if emoji {
			return "⏳"
		}
		return "-"
	case t.Verdict.Status == schema.StatusPass:
		if emoji {
			return "✅"
		}
		return "PASS"
	default:
		if emoji {
			return "❌"
		}
		return "FAIL"
	}
}

// formatTraceRow renders one `phylax list` table row.
func formatTraceRow(t *schema.Trace) string {
	id := t.TraceID
	if len(id) > 36 {
		id = id[:36]
	}
	model := t.Request.Model
	if len(model) > 16 {
		model = model[:16]
	}
	return fmt.Sprintf("%-6s %-36s %-16s %dms", statusGlyph(t), id, model, t.Response.LatencyMs)
}

// renderTraceDetail builds the human-readable `phylax show` body: verdict
// banner first when present, then identity, the conversation, and the
// response head.
func renderTraceDetail(t *schema.Trace) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	if t.Verdict != nil {
		b.WriteString(rule + "\n")
		if t.Verdict.Status == schema.StatusPass {
			b.WriteString("VERDICT: PASS\n")
			b.WriteString(rule + "\n")
		} else {
			fmt.Fprintf(&b, "VERDICT: FAIL (severity: %s)\n", t.Verdict.Severity)
			b.WriteString(rule + "\n\n")
			b.WriteString("Violations:\n")
			for _, v := range t.Verdict.Violations {
				fmt.Fprintf(&b, "  - %s\n", v)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Trace ID:  %s\n", t.TraceID)
	fmt.Fprintf(&b, "Timestamp: %s\n", t.Timestamp)
	fmt.Fprintf(&b, "Execution: %s\n", t.ExecutionID)
	fmt.Fprintf(&b, "Model:     %s\n", t.Request.Model)
	fmt.Fprintf(&b, "Provider:  %s\n", t.Request.Provider)
	fmt.Fprintf(&b, "Latency:   %dms\n", t.Response.LatencyMs)
	fmt.Fprintf(&b, "Blessed:   %s\n", yesNo(t.Blessed))
	if t.ReplayOf != "" {
		fmt.Fprintf(&b, "Replay of: %s\n", t.ReplayOf)
	}
	if hash := t.OutputHashMeta(); hash != "" {
		fmt.Fprintf(&b, "Hash:      %s\n", hash)
	}

	b.WriteString("\nMessages:\n")
	for _, msg := range t.Request.Messages {
		fmt.Fprintf(&b, "  [%s]: %s\n", msg.Role, truncateText(msg.Content, 100))
	}

	b.WriteString("\nResponse:\n")
	fmt.Fprintf(&b, "  %s\n", truncateText(t.Response.Text, 500))
	return b.String()
}

// =============================================================================
// CHECK REPORT RENDERING
// =============================================================================

// renderCheckReport builds the per-golden lines of `phylax check`. The
// pass/fail footer is the caller's, next to the exit code decision.
func renderCheckReport(r *regression.Report) string {
	var b strings.Builder
	for _, res := range r.Results {
		switch {
		case res.Error != "":
			fmt.Fprintf(&b, "%s %s (%s/%s): %s\n",
				outcomeGlyph("error"), shortID(res.TraceID), res.Model, res.Provider, res.Error)
		case res.Match:
			fmt.Fprintf(&b, "%s %s (%s/%s) output matches golden\n",
				outcomeGlyph("pass"), shortID(res.TraceID), res.Model, res.Provider)
		default:
			fmt.Fprintf(&b, "%s %s (%s/%s) output differs from golden\n",
				outcomeGlyph("fail"), shortID(res.TraceID), res.Model, res.Provider)
			fmt.Fprintf(&b, "     golden hash: %s\n", res.OriginalHash)
			fmt.Fprintf(&b, "     new hash:    %s", res.NewHash)
			if res.NewTraceID != "" {
				fmt.Fprintf(&b, "  (trace %s)", shortID(res.NewTraceID))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderGraphReport builds the per-execution lines of `phylax graph-check`.
func renderGraphReport(r *regression.GraphReport) string {
	var b strings.Builder
	for _, res := range r.Results {
		switch {
		case res.Error != "":
			fmt.Fprintf(&b, "%s %s: %s\n", outcomeGlyph("error"), shortID(res.ExecutionID), res.Error)
		case res.Passed():
			fmt.Fprintf(&b, "%s %s (%d nodes)\n", outcomeGlyph("pass"), shortID(res.ExecutionID), res.NodeCount)
		default:
			fmt.Fprintf(&b, "%s %s\n", outcomeGlyph("fail"), shortID(res.ExecutionID))
			fmt.Fprintf(&b, "     root cause:    %s\n", res.RootCauseNode)
			fmt.Fprintf(&b, "     failed nodes:  %d\n", res.FailedCount)
			fmt.Fprintf(&b, "     tainted nodes: %d\n", res.TaintedCount)
			if res.Message != "" {
				fmt.Fprintf(&b, "     %s\n", res.Message)
			}
		}
	}
	return b.String()
}

// outcomeGlyph maps a check outcome to its line prefix.
func outcomeGlyph(outcome string) string {
	emoji := glyphsEnabled()
	switch outcome {
	case "pass":
		if emoji {
			return "✅ PASS "
		}
		return "PASS "
	case "fail":
		if emoji {
			return "❌ FAIL "
		}
		return "FAIL "
	default:
		if emoji {
			return "⚠️  ERROR"
		}
		return "ERROR"
	}
}

// =============================================================================
// SMALL HELPERS
// =============================================================================

// truncateText shortens s to at most max characters, ellipsized.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// shortID truncates a trace or execution id for one-line report output.
func shortID(id string) string {
	if len(id) <= 20 {
		return id
	}
	return id[:20] + "..."
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
