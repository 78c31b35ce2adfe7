// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "errors"

var (
	// ErrNoTraces indicates a graph build over an empty trace list.
	ErrNoTraces = errors.New("cannot build graph from empty trace list")

	// ErrMixedExecutions indicates the input traces span execution ids.
	ErrMixedExecutions = errors.New("traces belong to different executions")

	// ErrNodeNotFound indicates a lookup for an unknown node id.
	ErrNodeNotFound = errors.New("node not found in graph")

	// ErrIntegrityViolation indicates a snapshot whose stored hash no longer
	// matches its content.
	ErrIntegrityViolation = errors.New("graph integrity hash mismatch")
)
