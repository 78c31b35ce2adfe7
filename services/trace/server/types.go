// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/AleutianAI/phylax/services/trace/schema"
	"github.com/AleutianAI/phylax/services/trace/storage/index"
)

// ServiceVersion is the Phylax server version reported by the banner.
const ServiceVersion = "1.0.0"

// BannerResponse is the response for GET /.
type BannerResponse struct {
	// Name is the service name.
	Name string `json:"name"`

	// Version is the service version.
	Version string `json:"version"`

	// Description is a one-line service description.
	Description string `json:"description"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	// Status is "healthy" when the process is serving.
	Status string `json:"status"`
}

// ReadyResponse is the response for GET /ready.
type ReadyResponse struct {
	// Ready is true when the store root is writable.
	Ready bool `json:"ready"`

	// TracesDir is the directory traces are persisted under.
	TracesDir string `json:"traces_dir"`

	// IndexEnabled is true when the derived index is configured.
	IndexEnabled bool `json:"index_enabled"`
}

// ListTracesRequest holds the query parameters for GET /v1/traces.
type ListTracesRequest struct {
	// Limit caps the number of traces returned. Default 50, maximum 100.
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`

	// Offset skips that many traces for pagination.
	Offset int `form:"offset" binding:"omitempty,min=0"`

	// Model filters by model name.
	Model string `form:"model"`

	// Provider filters by provider tag.
	Provider string `form:"provider"`

	// Date filters by trace date (YYYY-MM-DD).
	Date string `form:"date"`

	// Failed restricts the listing to traces with failing verdicts.
	Failed bool `form:"failed"`
}

// ListTracesResponse is the response for GET /v1/traces.
type ListTracesResponse struct {
	// Traces is the page of matching traces, newest first.
	Traces []*schema.Trace `json:"traces"`

	// Total is the number of traces matching the filters.
	Total int `json:"total"`

	// Limit and Offset echo the applied pagination.
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// CreateTraceResponse is the response for POST /v1/traces.
type CreateTraceResponse struct {
	// Status is "created".
	Status string `json:"status"`

	// TraceID is the id of the stored trace.
	TraceID string `json:"trace_id"`
}

// DeleteTraceResponse is the response for DELETE /v1/traces/:id.
type DeleteTraceResponse struct {
	// Status is "deleted".
	Status string `json:"status"`

	// TraceID is the id of the removed trace.
	TraceID string `json:"trace_id"`
}

// LineageResponse is the response for GET /v1/traces/:id/lineage.
type LineageResponse struct {
	// TraceID is the trace the chain was requested for.
	TraceID string `json:"trace_id"`

	// Lineage is the replay chain from the root original to the latest
	// replay, in order.
	Lineage []*schema.Trace `json:"lineage"`
}

// BlessRequest is the request body for POST /v1/traces/:id/bless.
type BlessRequest struct {
	// Force replaces an existing golden for the same (model, provider).
	Force bool `json:"force"`
}

// BlessResponse is the response for bless and unbless operations.
type BlessResponse struct {
	// Status is "blessed" or "unblessed".
	Status string `json:"status"`

	// TraceID is the affected trace.
	TraceID string `json:"trace_id"`

	// OutputHash is the canonical output hash stamped at bless time.
	// Empty for unbless.
	OutputHash string `json:"output_hash,omitempty"`
}

// ReplayRequest is the request body for POST /v1/replay/:id. All fields are
// optional; absent fields keep the original trace's values.
type ReplayRequest struct {
	// Model overrides the model.
	Model string `json:"model"`

	// Provider overrides the provider.
	Provider string `json:"provider"`

	// Parameters are merged key-by-key over the original parameters.
	Parameters map[string]any `json:"parameters"`

	// DryRun builds the would-be trace without invoking a provider.
	DryRun bool `json:"dry_run"`
}

// ReplayResponse is the response for POST /v1/replay/:id.
type ReplayResponse struct {
	// OriginalTraceID is the trace that was replayed.
	OriginalTraceID string `json:"original_trace_id"`

	// NewTraceID is the id of the replay trace.
	NewTraceID string `json:"new_trace_id"`

	// DryRun is true when no provider call was made.
	DryRun bool `json:"dry_run"`

	// OverridesApplied records which fields the request overrode.
	OverridesApplied map[string]any `json:"overrides_applied"`

	// Trace is the replay trace (persisted unless DryRun).
	Trace *schema.Trace `json:"trace"`
}

// PreviewResponse is the response for GET /v1/replay/:id/preview.
type PreviewResponse struct {
	// OriginalTraceID is the trace the preview describes.
	OriginalTraceID string `json:"original_trace_id"`

	// Request is the request that a replay would re-execute.
	Request schema.Request `json:"request"`

	// OriginalResponse is the recorded response of the original call.
	OriginalResponse schema.Response `json:"original_response"`

	// CanReplay is true when a registered provider serves the trace.
	CanReplay bool `json:"can_replay"`
}

// ExecutionsResponse is the response for GET /v1/executions.
type ExecutionsResponse struct {
	// Executions is the sorted list of known execution ids.
	Executions []string `json:"executions"`

	// Total is the number of executions.
	Total int `json:"total"`
}

// ExecutionTracesResponse is the response for GET /v1/executions/:id/traces.
type ExecutionTracesResponse struct {
	// ExecutionID is the requested execution.
	ExecutionID string `json:"execution_id"`

	// Traces is the execution's traces in timestamp order.
	Traces []*schema.Trace `json:"traces"`

	// Total is the number of traces in the execution.
	Total int `json:"total"`
}

// StatsResponse is the response for GET /v1/stats.
type StatsResponse struct {
	// Stats carries the index aggregates.
	Stats *index.Stats `json:"stats"`
}

// ChatMessage is an OpenAI-compatible message.
type ChatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatCompletionRequest is an OpenAI-compatible chat completion request.
// Provider and Trace are Phylax extensions; both are optional.
type ChatCompletionRequest struct {
	// Model is the model to invoke. Required.
	Model string `json:"model" binding:"required"`

	// Messages is the conversation. Required, at least one message.
	Messages []ChatMessage `json:"messages" binding:"required,min=1"`

	// Sampling parameters. Absent fields use provider defaults.
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`

	// Stream is rejected; only blocking completions are supported.
	Stream bool `json:"stream"`

	// Provider selects the backend. Default "openai".
	Provider string `json:"provider,omitempty"`

	// Trace controls whether the call is recorded. Default true.
	Trace *bool `json:"trace,omitempty"`
}

// ChatCompletionChoice is an OpenAI-compatible completion choice.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionUsage is OpenAI-compatible token accounting.
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is an OpenAI-compatible chat completion response.
// TraceID is a Phylax extension; it is null when tracing was disabled.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   ChatCompletionUsage    `json:"usage"`
	TraceID *string                `json:"trace_id"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
