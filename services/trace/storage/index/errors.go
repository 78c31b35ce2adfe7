// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index maintains a BadgerDB-backed view of the trace files for
// fast listing, counting and membership lookups.
//
// # Derived Data Only
//
// The JSON files under <root>/traces remain the ground truth. Every key in
// the index can be reconstructed from them with Rebuild, so losing or
// corrupting the index never loses a trace. Read paths that must be exact
// (get, lineage, bless) stay on the filestore; the index serves the hot
// list/count/stats queries.
//
// # Key Layout
//
//   - trace:<trace_id>             -> JSON Entry
//   - exec:<execution_id>:<trace_id> -> (empty, membership)
//   - replay:<original>:<replay>     -> (empty, membership)
//
// # Thread Safety
//
// Index is safe for concurrent use. Each operation runs in its own Badger
// transaction; writers never block readers.
package index

import "errors"

var (
	// ErrEntryNotFound is returned when no entry exists for a trace id.
	ErrEntryNotFound = errors.New("index: entry not found")

	// ErrRebuildInProgress rejects overlapping rebuilds; a rebuild drops
	// every key before re-walking the files.
	ErrRebuildInProgress = errors.New("index: rebuild already in progress")
)
