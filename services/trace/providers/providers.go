// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers adapts model backends behind a uniform invoke surface.
//
// Description:
//
//	A Provider executes one model request and returns the backend's raw
//	response; the capture pipeline owns normalisation, so adapters never
//	reshape what the backend said. The Registry resolves the provider tag
//	recorded on a trace (case-insensitive) back to a live adapter, which is
//	what replay and regression checking use to re-execute historical calls.
//
// Thread Safety: Registry and all shipped providers are safe for concurrent
// use. Provider clients initialise lazily on first invoke.
package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

var tracer = otel.Tracer("phylax/providers")

// Request is one model invocation, expressed in trace vocabulary so a stored
// trace replays without translation.
type Request struct {
	Model      string
	Messages   []schema.Message
	Parameters schema.Parameters
}

// Provider executes model requests for one backend.
type Provider interface {
	// Name is the provider tag recorded on traces, for example "openai".
	Name() string
	// Library is the client library name recorded in trace runtime blocks.
	Library() string
	// Invoke performs the call and returns the raw backend response.
	Invoke(ctx context.Context, req Request) (any, error)
}

// Registry resolves provider tags to adapters, case-insensitively.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Default builds the registry of shipped providers: openai plus the
// local and llama tags served by the Ollama adapter.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewOpenAI())
	r.Register(NewOllama("local"))
	r.Register(NewOllama("llama"))
	return r
}

// Register adds or replaces the provider under its (lowercased) name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Get resolves a provider tag.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the registered provider tags in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
