// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

// VerdictStatus is the binary outcome of expectation evaluation.
type VerdictStatus string

const (
	StatusPass VerdictStatus = "pass"
	StatusFail VerdictStatus = "fail"
)

// Severity grades a failed verdict. Severities form a total order; a verdict
// carries the maximum severity among its failing rules.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank maps a severity onto its position in the order low < medium < high.
// Unknown severities rank below low so they never win the maximum.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	default:
		return -1
	}
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Verdict is the outcome of evaluating a trace against its expectations.
// A passing verdict has no severity and an empty violation list; a failing
// verdict lists one message per failed rule, in rule evaluation order.
type Verdict struct {
	Status     VerdictStatus `json:"status"`
	Severity   Severity      `json:"severity,omitempty"`
	Violations []string      `json:"violations"`
}

// Pass constructs a passing verdict with an empty, non-nil violation list.
func Pass() Verdict {
	return Verdict{Status: StatusPass, Violations: []string{}}
}

// Fail constructs a failing verdict with the given severity and violations.
func Fail(sev Severity, violations []string) Verdict {
	if violations == nil {
		violations = []string{}
	}
	return Verdict{Status: StatusFail, Severity: sev, Violations: violations}
}

// Failed reports whether the verdict marks the trace as failing.
func (v *Verdict) Failed() bool {
	return v != nil && v.Status == StatusFail
}

func (v Verdict) clone() Verdict {
	out := v
	if v.Violations != nil {
		out.Violations = append([]string(nil), v.Violations...)
	}
	return out
}
