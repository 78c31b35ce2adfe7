// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filestore

import "errors"

var (
	// ErrTraceNotFound indicates no stored trace carries the requested id.
	ErrTraceNotFound = errors.New("trace not found")

	// ErrGoldenExists indicates a different trace is already blessed for the
	// same (model, provider) and the caller did not force.
	ErrGoldenExists = errors.New("golden trace already exists for model/provider")

	// ErrGoldenNotFound indicates no blessed trace matches (model, provider).
	ErrGoldenNotFound = errors.New("no golden trace for model/provider")

	// ErrExecutionNotFound indicates an execution id with no stored traces.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrGraphNotFound indicates no snapshot file for the execution id.
	ErrGraphNotFound = errors.New("graph snapshot not found")
)
