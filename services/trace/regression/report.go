// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is the outcome of replaying one golden trace.
type Result struct {
	TraceID      string `json:"trace_id"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	OriginalHash string `json:"original_hash,omitempty"`
	NewHash      string `json:"new_hash,omitempty"`
	Match        bool   `json:"match"`
	NewTraceID   string `json:"new_trace_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Passed reports whether the record counts as a pass: the replay succeeded
// and its output hash matched the golden's.
func (r Result) Passed() bool {
	return r.Error == "" && r.Match
}

func (r Result) outcome() string {
	switch {
	case r.Error != "":
		return "error"
	case r.Match:
		return "pass"
	default:
		return "fail"
	}
}

// Report is the full outcome of one check run.
type Report struct {
	Results  []Result `json:"results"`
	Total    int      `json:"total"`
	Failures int      `json:"failures"`
	Passed   bool     `json:"passed"`
}

// JSON renders the report for machine consumption, indented.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summary builds a plain-text report, one line per record plus totals.
// Styling is the caller's concern.
func (r *Report) Summary() string {
	var sb strings.Builder
	for _, res := range r.Results {
		switch {
		case res.Error != "":
			sb.WriteString(fmt.Sprintf("ERROR %s (%s/%s): %s\n",
				shortID(res.TraceID), res.Model, res.Provider, res.Error))
		case res.Match:
			sb.WriteString(fmt.Sprintf("PASS  %s (%s/%s)\n",
				shortID(res.TraceID), res.Model, res.Provider))
		default:
			sb.WriteString(fmt.Sprintf("FAIL  %s (%s/%s): hash %s != golden %s\n",
				shortID(res.TraceID), res.Model, res.Provider, res.NewHash, res.OriginalHash))
		}
	}
	if r.Failures == 0 {
		sb.WriteString(fmt.Sprintf("all checks passed (%d trace(s))\n", r.Total))
	} else {
		sb.WriteString(fmt.Sprintf("%d of %d check(s) failed\n", r.Failures, r.Total))
	}
	return sb.String()
}

// shortID truncates ids for report lines the way the CLI shows them.
func shortID(id string) string {
	if len(id) <= 20 {
		return id
	}
	return id[:20] + "..."
}
