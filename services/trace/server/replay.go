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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/phylax/services/trace/capture"
	"github.com/AleutianAI/phylax/services/trace/providers"
	"github.com/AleutianAI/phylax/services/trace/schema"
	"github.com/AleutianAI/phylax/services/trace/telemetry"
)

// HandleReplay handles POST /v1/replay/:id.
//
// Description:
//
//	Loads the historical trace, applies the request's overrides (model,
//	provider, parameter merge), and re-executes the call through the
//	capture pipeline. The new trace records replay_of so lineage chains
//	survive. With dry_run the would-be trace is returned without invoking
//	a provider or persisting anything.
//
// Request Body:
//
//	ReplayRequest (optional; absent body replays with no overrides)
//
// Response:
//
//	200 OK: ReplayResponse
//	400 Bad Request: Unsupported provider or malformed overrides
//	404 Not Found: No trace with that id
//	502 Bad Gateway: Provider invocation failed (error trace recorded)
func (h *Handlers) HandleReplay(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleReplay")

	traceID := c.Param("id")

	var req ReplayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	original, err := h.store.GetTrace(c.Request.Context(), traceID)
	if err != nil {
		h.renderStoreError(c, logger, traceID, err)
		return
	}

	finalModel := original.Request.Model
	if req.Model != "" {
		finalModel = req.Model
	}
	finalProvider := original.Request.Provider
	if req.Provider != "" {
		finalProvider = req.Provider
	}

	merged, err := mergeParameters(original.Request.Parameters, req.Parameters)
	if err != nil {
		logger.Warn("Parameter merge failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PARAMETERS",
		})
		return
	}

	overrides := map[string]any{}
	if req.Model != "" {
		overrides["model"] = req.Model
	}
	if req.Provider != "" {
		overrides["provider"] = req.Provider
	}
	if len(req.Parameters) > 0 {
		overrides["parameters"] = req.Parameters
	}

	if req.DryRun {
		preview := schema.NewTrace(schema.Request{
			Provider:   finalProvider,
			Model:      finalModel,
			Messages:   original.Request.Messages,
			Parameters: merged,
		}, original.Response, original.Runtime)
		preview.ExecutionID = uuid.NewString()
		preview.ReplayOf = traceID

		logger.Info("Replay dry run",
			"original_trace_id", traceID,
			"model", finalModel,
			"provider", finalProvider)
		c.JSON(http.StatusOK, ReplayResponse{
			OriginalTraceID:  traceID,
			NewTraceID:       preview.TraceID,
			DryRun:           true,
			OverridesApplied: overrides,
			Trace:            preview,
		})
		return
	}

	provider, err := h.registry.Get(finalProvider)
	if err != nil {
		logger.Warn("Replay unsupported", "provider", finalProvider)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Replay not supported for provider: " + finalProvider,
			Code:  "REPLAY_UNSUPPORTED",
		})
		return
	}

	_, trace, err := h.capturer.Capture(c.Request.Context(), capture.CapturedCall{
		Provider:   finalProvider,
		Model:      finalModel,
		Messages:   original.Request.Messages,
		Parameters: merged,
		ReplayOf:   traceID,
		Invoke: func(ctx context.Context) (any, error) {
			return provider.Invoke(ctx, providers.Request{
				Model:      finalModel,
				Messages:   original.Request.Messages,
				Parameters: merged,
			})
		},
	})
	if err != nil {
		if errors.Is(err, capture.ErrInvokeFailed) {
			resp := ErrorResponse{
				Error: "Replay execution failed: " + err.Error(),
				Code:  "PROVIDER_FAILED",
			}
			if trace != nil {
				resp.Details = "error trace recorded as " + trace.TraceID
			}
			logger.Error("Replay invocation failed", "original_trace_id", traceID, "error", err)
			c.JSON(http.StatusBadGateway, resp)
			return
		}
		logger.Error("Replay failed", "original_trace_id", traceID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "REPLAY_FAILED",
		})
		return
	}

	logger.Info("Replay executed",
		"original_trace_id", traceID,
		"new_trace_id", trace.TraceID,
		"model", finalModel,
		"provider", finalProvider,
		"latency_ms", trace.Response.LatencyMs)
	c.JSON(http.StatusOK, ReplayResponse{
		OriginalTraceID:  traceID,
		NewTraceID:       trace.TraceID,
		DryRun:           false,
		OverridesApplied: overrides,
		Trace:            trace,
	})
}

// HandleReplayPreview handles GET /v1/replay/:id/preview.
//
// Response:
//
//	200 OK: PreviewResponse
//	404 Not Found: No trace with that id
func (h *Handlers) HandleReplayPreview(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleReplayPreview")

	traceID := c.Param("id")
	original, err := h.store.GetTrace(c.Request.Context(), traceID)
	if err != nil {
		h.renderStoreError(c, logger, traceID, err)
		return
	}

	_, lookupErr := h.registry.Get(original.Request.Provider)
	c.JSON(http.StatusOK, PreviewResponse{
		OriginalTraceID:  traceID,
		Request:          original.Request,
		OriginalResponse: original.Response,
		CanReplay:        lookupErr == nil,
	})
}

// HandleChatCompletion handles POST /v1/chat/completions.
//
// Description:
//
//	OpenAI-compatible completion endpoint, so Phylax works as a drop-in
//	base URL for SDKs and LangChain. Every call runs through the capture
//	pipeline and is recorded as a trace; the trace flag only controls
//	whether the trace id is echoed in the response.
//
// Request Body:
//
//	ChatCompletionRequest
//
// Response:
//
//	200 OK: ChatCompletionResponse
//	400 Bad Request: Validation error, streaming, or unknown provider
//	502 Bad Gateway: Provider invocation failed (error trace recorded)
func (h *Handlers) HandleChatCompletion(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.log).
		With("request_id", requestID, "handler", "HandleChatCompletion")

	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: model and messages are required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if req.Stream {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Streaming not yet supported. Set stream=false.",
			Code:  "STREAMING_UNSUPPORTED",
		})
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = "openai"
	}
	provider, err := h.registry.Get(providerName)
	if err != nil {
		logger.Warn("Unknown provider", "provider", providerName)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Unknown provider: " + providerName,
			Code:  "UNKNOWN_PROVIDER",
		})
		return
	}

	messages := make([]schema.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = schema.Message{Role: m.Role, Content: m.Content, Name: m.Name}
	}
	params := schema.Parameters{
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
	}

	raw, trace, err := h.capturer.Capture(c.Request.Context(), capture.CapturedCall{
		Provider:   providerName,
		Model:      req.Model,
		Messages:   messages,
		Parameters: params,
		Invoke: func(ctx context.Context) (any, error) {
			return provider.Invoke(ctx, providers.Request{
				Model:      req.Model,
				Messages:   messages,
				Parameters: params,
			})
		},
	})
	if err != nil {
		resp := ErrorResponse{
			Error: "Chat completion failed: " + err.Error(),
			Code:  "PROVIDER_FAILED",
		}
		if trace != nil {
			resp.Details = "error trace recorded as " + trace.TraceID
		}
		logger.Error("Chat completion failed", "model", req.Model, "error", err)
		c.JSON(http.StatusBadGateway, resp)
		return
	}

	var usage ChatCompletionUsage
	if trace.Response.Usage != nil {
		usage = ChatCompletionUsage{
			PromptTokens:     trace.Response.Usage.PromptTokens,
			CompletionTokens: trace.Response.Usage.CompletionTokens,
			TotalTokens:      trace.Response.Usage.TotalTokens,
		}
	}

	var traceIDOut *string
	if req.Trace == nil || *req.Trace {
		id := trace.TraceID
		traceIDOut = &id
	}

	completionID := uuid.New()
	logger.Info("Chat completion served",
		"model", req.Model,
		"provider", providerName,
		"trace_id", trace.TraceID,
		"latency_ms", trace.Response.LatencyMs)
	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%x", completionID[:4]),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []ChatCompletionChoice{{
			Index: 0,
			Message: ChatMessage{
				Role:    "assistant",
				Content: trace.Response.Text,
			},
			FinishReason: finishReason(raw),
		}},
		Usage:   usage,
		TraceID: traceIDOut,
	})
}

// mergeParameters overlays override keys onto the original parameters at the
// JSON level, so partial overrides keep every untouched original value.
// Unknown keys are ignored; type mismatches surface as an error.
func mergeParameters(orig schema.Parameters, overrides map[string]any) (schema.Parameters, error) {
	if len(overrides) == 0 {
		return orig, nil
	}

	base, err := json.Marshal(orig)
	if err != nil {
		return schema.Parameters{}, fmt.Errorf("encode original parameters: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(base, &m); err != nil {
		return schema.Parameters{}, fmt.Errorf("decode original parameters: %w", err)
	}
	for k, v := range overrides {
		m[k] = v
	}

	mergedJSON, err := json.Marshal(m)
	if err != nil {
		return schema.Parameters{}, fmt.Errorf("encode merged parameters: %w", err)
	}
	var out schema.Parameters
	if err := json.Unmarshal(mergedJSON, &out); err != nil {
		return schema.Parameters{}, fmt.Errorf("invalid parameter override: %w", err)
	}
	return out, nil
}

// finishReason extracts the provider finish reason when the raw response
// exposes one; anything else reports "stop".
func finishReason(raw any) string {
	switch v := raw.(type) {
	case openai.ChatCompletionResponse:
		if len(v.Choices) > 0 && v.Choices[0].FinishReason != "" {
			return string(v.Choices[0].FinishReason)
		}
	case *openai.ChatCompletionResponse:
		if v != nil && len(v.Choices) > 0 && v.Choices[0].FinishReason != "" {
			return string(v.Choices[0].FinishReason)
		}
	}
	return "stop"
}
