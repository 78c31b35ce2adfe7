// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

// defaultOllamaURL is used when OLLAMA_BASE_URL is unset.
const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider invokes locally hosted models through an Ollama server.
// It serves both the "local" and "llama" provider tags; the tag is what
// gets recorded on traces, the library is llama_cpp either way.
type OllamaProvider struct {
	tag string

	once    sync.Once
	llm     *ollama.LLM
	initErr error
}

// NewOllama creates a provider answering to the given tag.
func NewOllama(tag string) *OllamaProvider {
	return &OllamaProvider{tag: tag}
}

func (p *OllamaProvider) Name() string    { return p.tag }
func (p *OllamaProvider) Library() string { return "llama_cpp" }

func (p *OllamaProvider) init() error {
	p.once.Do(func() {
		base := strings.TrimSuffix(os.Getenv("OLLAMA_BASE_URL"), "/")
		if base == "" {
			base = defaultOllamaURL
		}
		p.llm, p.initErr = ollama.New(ollama.WithServerURL(base))
		if p.initErr != nil {
			p.initErr = fmt.Errorf("ollama client init failed: %w", p.initErr)
		}
	})
	return p.initErr
}

// Invoke runs the chat through langchaingo and returns a text-shaped map,
// which is the neutral form the capture normaliser already understands.
func (p *OllamaProvider) Invoke(ctx context.Context, req Request) (any, error) {
	ctx, span := tracer.Start(ctx, "OllamaProvider.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.num_messages", len(req.Messages)),
	)

	if err := p.init(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := p.llm.GenerateContent(ctx, messageContent(req.Messages),
		callOptions(req.Model, req.Parameters)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ollama call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ollama returned no choices")
	}
	return map[string]any{"text": resp.Choices[0].Content}, nil
}

// messageContent maps trace messages to langchaingo message content.
func messageContent(messages []schema.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		out = append(out, llms.TextParts(chatMessageType(m.Role), m.Content))
	}
	return out
}

func chatMessageType(role string) llms.ChatMessageType {
	switch strings.ToLower(role) {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	case "tool", "function":
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

func callOptions(model string, params schema.Parameters) []llms.CallOption {
	opts := []llms.CallOption{llms.WithModel(model)}
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*params.Temperature))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(*params.TopP))
	}
	if params.FrequencyPenalty != nil {
		opts = append(opts, llms.WithFrequencyPenalty(*params.FrequencyPenalty))
	}
	if params.PresencePenalty != nil {
		opts = append(opts, llms.WithPresencePenalty(*params.PresencePenalty))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	return opts
}
