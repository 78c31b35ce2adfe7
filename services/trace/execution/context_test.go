// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package execution

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScopeBasics verifies id assignment and the empty stack.
func TestScopeBasics(t *testing.T) {
	s := NewScope()
	assert.NotEmpty(t, s.ExecutionID())
	assert.Empty(t, s.Parent())
	assert.Zero(t, s.Depth())

	bound := NewScopeWithID("exec-42")
	assert.Equal(t, "exec-42", bound.ExecutionID())
}

// TestExecutionID verifies stable ids inside a scope and fresh ids outside.
func TestExecutionID(t *testing.T) {
	t.Run("inside scope is stable", func(t *testing.T) {
		ctx := With(context.Background(), NewScope())
		assert.Equal(t, ExecutionID(ctx), ExecutionID(ctx))
	})

	t.Run("outside scope is fresh per call", func(t *testing.T) {
		ctx := context.Background()
		assert.NotEqual(t, ExecutionID(ctx), ExecutionID(ctx))
	})

	t.Run("nil context yields fresh id", func(t *testing.T) {
		assert.NotEmpty(t, ExecutionID(nil)) //nolint:staticcheck
	})
}

// TestEnterRelease verifies parent attribution through the node stack.
func TestEnterRelease(t *testing.T) {
	ctx := With(context.Background(), NewScope())

	require.Empty(t, ParentNodeID(ctx))

	releaseA := Enter(ctx, "node-a")
	assert.Equal(t, "node-a", ParentNodeID(ctx))

	releaseB := Enter(ctx, "node-b")
	assert.Equal(t, "node-b", ParentNodeID(ctx))

	releaseB()
	assert.Equal(t, "node-a", ParentNodeID(ctx))

	// Release is idempotent.
	releaseB()
	assert.Equal(t, "node-a", ParentNodeID(ctx))

	releaseA()
	assert.Empty(t, ParentNodeID(ctx))
}

// TestEnterWithoutScope verifies Enter degrades to a no-op.
func TestEnterWithoutScope(t *testing.T) {
	ctx := context.Background()
	release := Enter(ctx, "node-a")
	assert.Empty(t, ParentNodeID(ctx))
	release()
}

// TestRun verifies fn sees one scope and the caller context stays clean.
func TestRun(t *testing.T) {
	outer := context.Background()

	var inner1, inner2, handed string
	err := Run(outer, func(ctx context.Context, executionID string) error {
		handed = executionID
		inner1 = ExecutionID(ctx)
		inner2 = ExecutionID(ctx)
		_, ok := FromContext(ctx)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, inner1, inner2)
	assert.Equal(t, handed, inner1)

	_, ok := FromContext(outer)
	assert.False(t, ok)
}

// TestConcurrentEnter verifies the stack survives overlapping goroutines.
func TestConcurrentEnter(t *testing.T) {
	ctx := With(context.Background(), NewScope())
	s, _ := FromContext(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			release := Enter(ctx, "node")
			defer release()
		}(i)
	}
	wg.Wait()

	assert.Zero(t, s.Depth())
	assert.Empty(t, s.Parent())
}

// TestOutOfOrderRelease verifies pop removes the right entry when releases
// do not nest.
func TestOutOfOrderRelease(t *testing.T) {
	ctx := With(context.Background(), NewScope())

	releaseA := Enter(ctx, "node-a")
	releaseB := Enter(ctx, "node-b")

	releaseA()
	assert.Equal(t, "node-b", ParentNodeID(ctx))

	releaseB()
	assert.Empty(t, ParentNodeID(ctx))
}
