// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expectations

import "github.com/AleutianAI/phylax/services/trace/schema"

// Expectations is the declarative check set attached to a traced call.
// The zero value means "no expectations": evaluation then yields a pass.
type Expectations struct {
	MustInclude    []string `json:"must_include,omitempty"    yaml:"must_include,omitempty"`
	MustNotInclude []string `json:"must_not_include,omitempty" yaml:"must_not_include,omitempty"`
	MaxLatencyMs   *int     `json:"max_latency_ms,omitempty"  yaml:"max_latency_ms,omitempty"`
	MinTokens      *int     `json:"min_tokens,omitempty"      yaml:"min_tokens,omitempty"`
}

// Empty reports whether no rule would be materialized.
func (e Expectations) Empty() bool {
	return len(e.MustInclude) == 0 &&
		len(e.MustNotInclude) == 0 &&
		e.MaxLatencyMs == nil &&
		e.MinTokens == nil
}

// Rules materializes the configured checks in their fixed evaluation order:
// must_include, must_not_include, max_latency_ms, min_tokens. Verdict
// violations appear in this order.
func (e Expectations) Rules() []Rule {
	var rules []Rule
	if len(e.MustInclude) > 0 {
		rules = append(rules, MustInclude{Substrings: e.MustInclude})
	}
	if len(e.MustNotInclude) > 0 {
		rules = append(rules, MustNotInclude{Substrings: e.MustNotInclude})
	}
	if e.MaxLatencyMs != nil {
		rules = append(rules, MaxLatency{MaxMs: *e.MaxLatencyMs})
	}
	if e.MinTokens != nil {
		rules = append(rules, MinTokens{Min: *e.MinTokens})
	}
	return rules
}

// Evaluate runs every rule against the response and folds the results into
// a verdict. All rules run; there is no short-circuit on first failure. The
// verdict severity is the maximum severity among failing rules, and a pass
// carries no severity at all.
func (e Expectations) Evaluate(text string, latencyMs int) schema.Verdict {
	violations := []string{}
	severity := schema.Severity("")
	for _, rule := range e.Rules() {
		res := rule.Evaluate(text, latencyMs)
		if res.Passed {
			continue
		}
		violations = append(violations, res.Message)
		severity = schema.MaxSeverity(severity, res.Severity)
	}
	if len(violations) == 0 {
		return schema.Pass()
	}
	return schema.Fail(severity, violations)
}
