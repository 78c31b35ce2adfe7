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

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// openaiSecretPath is the container secret consulted when the environment
// carries no key.
const openaiSecretPath = "/run/secrets/openai_api_key"

// OpenAIProvider invokes OpenAI chat completions.
//
// The client initialises on first invoke: the key comes from OPENAI_API_KEY
// or, failing that, from the mounted secret file. A registry can therefore
// always carry this provider; credentials are only demanded when a call
// actually targets it.
type OpenAIProvider struct {
	once    sync.Once
	client  *openai.Client
	initErr error
}

// NewOpenAI creates the provider. No credentials are read yet.
func NewOpenAI() *OpenAIProvider {
	return &OpenAIProvider{}
}

func (p *OpenAIProvider) Name() string    { return "openai" }
func (p *OpenAIProvider) Library() string { return "openai" }

func (p *OpenAIProvider) init() error {
	p.once.Do(func() {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			raw, err := os.ReadFile(openaiSecretPath)
			if err != nil {
				p.initErr = fmt.Errorf("%w: OPENAI_API_KEY not set and no secret at %s",
					ErrNoCredentials, openaiSecretPath)
				return
			}
			apiKey = strings.TrimSpace(string(raw))
		}
		p.client = openai.NewClient(apiKey)
	})
	return p.initErr
}

// Invoke sends a chat completion request and returns the raw response.
func (p *OpenAIProvider) Invoke(ctx context.Context, req Request) (any, error) {
	ctx, span := tracer.Start(ctx, "OpenAIProvider.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", req.Model))

	if err := p.init(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatCompletionRequest(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("openai call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	return resp, nil
}

// chatCompletionRequest maps trace vocabulary onto the go-openai request.
// Unset pointer parameters stay at the client defaults.
func chatCompletionRequest(req Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{Model: req.Model}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}
	params := req.Parameters
	if params.Temperature != nil {
		out.Temperature = float32(*params.Temperature)
	}
	if params.MaxTokens != nil {
		out.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		out.TopP = float32(*params.TopP)
	}
	if params.FrequencyPenalty != nil {
		out.FrequencyPenalty = float32(*params.FrequencyPenalty)
	}
	if params.PresencePenalty != nil {
		out.PresencePenalty = float32(*params.PresencePenalty)
	}
	if len(params.Stop) > 0 {
		out.Stop = params.Stop
	}
	return out
}
