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

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSeverityRank verifies the total order low < medium < high.
func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Equal(t, -1, Severity("bogus").Rank())
}

// TestMaxSeverity verifies the max never picks an unknown severity.
func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityLow, SeverityHigh))
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityHigh, SeverityMedium))
	assert.Equal(t, SeverityMedium, MaxSeverity(SeverityMedium, ""))
}

// TestVerdictConstructors verifies pass carries no severity and both carry
// a non-nil violations slice.
func TestVerdictConstructors(t *testing.T) {
	p := Pass()
	assert.Equal(t, StatusPass, p.Status)
	assert.Empty(t, p.Severity)
	require.NotNil(t, p.Violations)
	assert.Len(t, p.Violations, 0)

	f := Fail(SeverityMedium, nil)
	assert.Equal(t, StatusFail, f.Status)
	assert.Equal(t, SeverityMedium, f.Severity)
	require.NotNil(t, f.Violations)
	assert.True(t, f.Failed())
	assert.False(t, p.Failed())
}

// TestVerdictJSON verifies a passing verdict omits severity but always
// serializes violations as an array.
func TestVerdictJSON(t *testing.T) {
	p := Pass()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "severity")
	assert.Contains(t, string(data), `"violations":[]`)

	f := Fail(SeverityHigh, []string{"latency 900ms exceeds max 500ms"})
	data, err = json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"high"`)
	assert.Contains(t, string(data), "latency 900ms exceeds max 500ms")
}
