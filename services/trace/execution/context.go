// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package execution propagates the execution scope that groups traced calls.
//
// A Scope pairs an execution id with a stack of in-flight node ids. Capture
// pushes its node id before invoking the model and pops it afterwards, so a
// nested traced call sees its caller on top of the stack and records it as
// parent_node_id. Scopes travel through context.Context; goroutines that
// share a context share the scope.
package execution

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Scope groups the traced calls of one logical program run.
//
// Thread Safety: all methods are safe for concurrent use. The node stack is
// guarded by a mutex; interleaved calls from goroutines sharing one scope
// will see a coherent stack, though parent attribution across goroutines
// follows push order, not goroutine identity.
type Scope struct {
	mu          sync.Mutex
	executionID string
	stack       []string
}

// NewScope creates a scope with a fresh execution id and an empty stack.
func NewScope() *Scope {
	return &Scope{executionID: uuid.NewString()}
}

// NewScopeWithID creates a scope bound to a known execution id. Used when
// the id was minted elsewhere, for example by a server request.
func NewScopeWithID(executionID string) *Scope {
	return &Scope{executionID: executionID}
}

// ExecutionID returns the id shared by every trace captured in this scope.
func (s *Scope) ExecutionID() string {
	return s.executionID
}

// Parent returns the node id on top of the stack, or "" at the root.
func (s *Scope) Parent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return ""
	}
	return s.stack[len(s.stack)-1]
}

// Depth returns the number of in-flight traced calls.
func (s *Scope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

func (s *Scope) push(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, nodeID)
}

// pop removes the topmost occurrence of nodeID. Releases may run out of
// LIFO order when calls overlap across goroutines.
func (s *Scope) pop(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i] == nodeID {
			s.stack = append(s.stack[:i], s.stack[i+1:]...)
			return
		}
	}
}

// With returns a context carrying the scope.
func With(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext extracts the scope, if one is installed.
func FromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(ctxKey{}).(*Scope)
	return s, ok
}

// ExecutionID resolves the execution id for a capture. Inside a scope every
// call sees the same id; outside, each call mints a fresh one, so scopeless
// traces never collide into an accidental group.
func ExecutionID(ctx context.Context) string {
	if s, ok := FromContext(ctx); ok {
		return s.ExecutionID()
	}
	return uuid.NewString()
}

// ParentNodeID resolves the enclosing traced call, or "" when the capture is
// at the root or outside any scope.
func ParentNodeID(ctx context.Context) string {
	if s, ok := FromContext(ctx); ok {
		return s.Parent()
	}
	return ""
}

// Enter pushes nodeID onto the scope stack and returns a release that pops
// it. Release is idempotent and must run on every exit path, error included.
// Without a scope in ctx, Enter is a no-op.
func Enter(ctx context.Context, nodeID string) func() {
	s, ok := FromContext(ctx)
	if !ok {
		return func() {}
	}
	s.push(nodeID)
	var once sync.Once
	return func() {
		once.Do(func() { s.pop(nodeID) })
	}
}

// Run executes fn inside a fresh scope and hands it the scope's execution
// id. The scope exists only for the duration of fn; the caller's context is
// untouched.
func Run(ctx context.Context, fn func(ctx context.Context, executionID string) error) error {
	scope := NewScope()
	return fn(With(ctx, scope), scope.ExecutionID())
}
