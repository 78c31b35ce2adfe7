// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expectations evaluates declarative checks against a model response
// and produces the trace verdict.
//
// Four rule kinds exist: required substrings, forbidden substrings, a latency
// ceiling and a minimum token count. Every rule is evaluated even after an
// earlier one fails, so a verdict lists all violations, not just the first.
package expectations

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

// RuleResult is the outcome of one rule against one response.
type RuleResult struct {
	Passed   bool
	Message  string
	Severity schema.Severity
}

// Rule is a single check over response text and latency.
type Rule interface {
	// Name identifies the rule kind in configuration and reports.
	Name() string
	// Evaluate runs the check. Message and Severity are meaningful only
	// when Passed is false.
	Evaluate(text string, latencyMs int) RuleResult
}

// MustInclude fails when any required substring is absent from the response.
// Matching lowercases both sides unless CaseSensitive is set. Violation
// messages always list the substrings as the caller wrote them.
type MustInclude struct {
	Substrings    []string
	CaseSensitive bool
}

func (r MustInclude) Name() string { return "must_include" }

func (r MustInclude) Evaluate(text string, _ int) RuleResult {
	haystack := text
	if !r.CaseSensitive {
		haystack = strings.ToLower(text)
	}
	var missing []string
	for _, s := range r.Substrings {
		needle := s
		if !r.CaseSensitive {
			needle = strings.ToLower(s)
		}
		if !strings.Contains(haystack, needle) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return RuleResult{
			Message:  fmt.Sprintf("missing substring(s): %s", quoteList(missing)),
			Severity: schema.SeverityLow,
		}
	}
	return RuleResult{Passed: true}
}

// MustNotInclude fails when any forbidden substring appears in the response.
// Matching follows the same case rules as MustInclude.
type MustNotInclude struct {
	Substrings    []string
	CaseSensitive bool
}

func (r MustNotInclude) Name() string { return "must_not_include" }

func (r MustNotInclude) Evaluate(text string, _ int) RuleResult {
	haystack := text
	if !r.CaseSensitive {
		haystack = strings.ToLower(text)
	}
	var found []string
	for _, s := range r.Substrings {
		needle := s
		if !r.CaseSensitive {
			needle = strings.ToLower(s)
		}
		if strings.Contains(haystack, needle) {
			found = append(found, s)
		}
	}
	if len(found) > 0 {
		return RuleResult{
			Message:  fmt.Sprintf("forbidden substring(s) found: %s", quoteList(found)),
			Severity: schema.SeverityHigh,
		}
	}
	return RuleResult{Passed: true}
}

// MaxLatency fails when latency strictly exceeds the ceiling. Equality passes.
type MaxLatency struct {
	MaxMs int
}

func (r MaxLatency) Name() string { return "max_latency_ms" }

func (r MaxLatency) Evaluate(_ string, latencyMs int) RuleResult {
	if latencyMs > r.MaxMs {
		return RuleResult{
			Message:  fmt.Sprintf("latency %dms exceeds max %dms", latencyMs, r.MaxMs),
			Severity: schema.SeverityMedium,
		}
	}
	return RuleResult{Passed: true}
}

// MinTokens fails when the whitespace-separated word count of the response
// falls below the floor. Words approximate tokens; the message says so.
type MinTokens struct {
	Min int
}

func (r MinTokens) Name() string { return "min_tokens" }

func (r MinTokens) Evaluate(text string, _ int) RuleResult {
	count := len(strings.Fields(text))
	if count < r.Min {
		return RuleResult{
			Message:  fmt.Sprintf("response has ~%d tokens, expected at least %d", count, r.Min),
			Severity: schema.SeverityLow,
		}
	}
	return RuleResult{Passed: true}
}

// quoteList renders substrings as a bracketed, single-quoted list:
// ['a', 'b']. Items containing a single quote switch to double quotes so the
// rendering stays unambiguous.
func quoteList(items []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
			b.WriteByte('"')
			b.WriteString(s)
			b.WriteByte('"')
		} else {
			b.WriteByte('\'')
			b.WriteString(strings.ReplaceAll(s, "'", `\'`))
			b.WriteByte('\'')
		}
	}
	b.WriteByte(']')
	return b.String()
}
