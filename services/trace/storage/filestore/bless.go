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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

// BlessOptions controls golden-uniqueness enforcement.
type BlessOptions struct {
	// Force replaces an existing golden for the same (model, provider):
	// the previous golden is unblessed before this trace is blessed.
	Force bool
}

// Bless marks a trace as the golden reference for its (model, provider).
//
// Description:
//
//	Loads the trace, stamps blessed=true, metadata.output_hash (first 16 hex
//	chars of SHA-256 over response text) and metadata.blessed_at, and
//	rewrites the file in place. Idempotent: re-blessing the same trace is a
//	no-op that keeps the original output_hash. At most one golden may exist
//	per (model, provider); blessing a second trace fails with
//	ErrGoldenExists unless opts.Force is set.
//
// Outputs:
//   - *schema.Trace: the blessed record as persisted.
//   - error: ErrTraceNotFound, ErrGoldenExists, or an I/O error.
func (s *Store) Bless(ctx context.Context, traceID string, opts BlessOptions) (*schema.Trace, error) {
	s.blessMu.Lock()
	defer s.blessMu.Unlock()

	trace, err := s.GetTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}

	golden, err := s.GetGolden(ctx, trace.Request.Model, trace.Request.Provider)
	if err != nil && !errors.Is(err, ErrGoldenNotFound) {
		return nil, err
	}
	if golden != nil && golden.TraceID != traceID {
		if !opts.Force {
			return nil, fmt.Errorf("%w: %s is blessed for %s/%s",
				ErrGoldenExists, golden.TraceID, trace.Request.Model, trace.Request.Provider)
		}
		if err := s.unblessLocked(ctx, golden); err != nil {
			return nil, err
		}
	}

	blessed := trace.Clone()
	blessed.Blessed = true
	if blessed.Metadata == nil {
		blessed.Metadata = map[string]any{}
	}
	blessed.Metadata[schema.MetaOutputHash] = schema.OutputHash(blessed.Response.Text)
	blessed.Metadata[schema.MetaBlessedAt] = schema.NowTimestamp()

	if err := s.updateTrace(ctx, blessed); err != nil {
		return nil, err
	}
	s.log.Info("trace blessed",
		slog.String("trace_id", blessed.TraceID),
		slog.String("model", blessed.Request.Model),
		slog.String("provider", blessed.Request.Provider))
	return blessed, nil
}

// Unbless clears the golden flag and drops the output_hash and blessed_at
// metadata, returning the trace to its pre-bless shape.
func (s *Store) Unbless(ctx context.Context, traceID string) error {
	s.blessMu.Lock()
	defer s.blessMu.Unlock()

	trace, err := s.GetTrace(ctx, traceID)
	if err != nil {
		return err
	}
	return s.unblessLocked(ctx, trace)
}

func (s *Store) unblessLocked(ctx context.Context, trace *schema.Trace) error {
	if !trace.Blessed {
		return nil
	}
	cleared := trace.Clone()
	cleared.Blessed = false
	delete(cleared.Metadata, schema.MetaOutputHash)
	delete(cleared.Metadata, schema.MetaBlessedAt)
	if len(cleared.Metadata) == 0 {
		cleared.Metadata = nil
	}
	return s.updateTrace(ctx, cleared)
}

// ListBlessed returns every golden trace, newest first.
func (s *Store) ListBlessed(ctx context.Context) ([]*schema.Trace, error) {
	return s.ListTraces(ctx, ListOptions{Limit: scanLimit, BlessedOnly: true})
}

// GetGolden returns the first blessed trace for (model, provider), or
// ErrGoldenNotFound.
func (s *Store) GetGolden(ctx context.Context, model, provider string) (*schema.Trace, error) {
	blessed, err := s.ListBlessed(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range blessed {
		if t.Request.Model == model && t.Request.Provider == provider {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrGoldenNotFound, model, provider)
}
