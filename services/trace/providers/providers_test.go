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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string    { return s.name }
func (s stubProvider) Library() string { return "stub" }
func (s stubProvider) Invoke(context.Context, Request) (any, error) {
	return "stub response", nil
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(stubProvider{name: "OpenAI"})

	for _, name := range []string{"openai", "OPENAI", "OpenAI"} {
		p, err := r.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, "OpenAI", p.Name())
	}

	_, err := r.Get("gemini")
	require.ErrorIs(t, err, ErrUnknownProvider)
	assert.Contains(t, err.Error(), "gemini")
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	r.Register(stubProvider{name: "zeta"})
	r.Register(stubProvider{name: "Alpha"})
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"llama", "local", "openai"}, r.Names())

	local, err := r.Get("local")
	require.NoError(t, err)
	assert.Equal(t, "llama_cpp", local.Library())

	oa, err := r.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", oa.Library())
}

func TestChatCompletionRequestMapping(t *testing.T) {
	temp := 0.2
	maxTokens := 512
	topP := 0.9

	req := chatCompletionRequest(Request{
		Model: "gpt-4",
		Messages: []schema.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello", Name: "alice"},
		},
		Parameters: schema.Parameters{
			Temperature: &temp,
			MaxTokens:   &maxTokens,
			TopP:        &topP,
			Stop:        []string{"END"},
		},
	})

	assert.Equal(t, "gpt-4", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "alice", req.Messages[1].Name)
	assert.Equal(t, float32(0.2), req.Temperature)
	assert.Equal(t, 512, req.MaxCompletionTokens)
	assert.Equal(t, float32(0.9), req.TopP)
	assert.Equal(t, []string{"END"}, req.Stop)
}

func TestChatCompletionRequestDefaults(t *testing.T) {
	req := chatCompletionRequest(Request{Model: "gpt-4"})
	assert.Zero(t, req.Temperature)
	assert.Zero(t, req.MaxCompletionTokens)
	assert.Empty(t, req.Stop)
}

func TestMessageContentRoles(t *testing.T) {
	content := messageContent([]schema.Message{
		{Role: "system", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
		{Role: "tool", Content: "d"},
		{Role: "something-else", Content: "e"},
	})
	require.Len(t, content, 5)
	assert.Equal(t, llms.ChatMessageTypeSystem, content[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, content[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, content[2].Role)
	assert.Equal(t, llms.ChatMessageTypeTool, content[3].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, content[4].Role)
}

func TestCallOptions(t *testing.T) {
	temp := 0.3
	maxTokens := 64

	var opts llms.CallOptions
	for _, opt := range callOptions("llama3", schema.Parameters{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"###"},
	}) {
		opt(&opts)
	}

	assert.Equal(t, "llama3", opts.Model)
	assert.Equal(t, 0.3, opts.Temperature)
	assert.Equal(t, 64, opts.MaxTokens)
	assert.Equal(t, []string{"###"}, opts.StopWords)
}

func TestOpenAIWithoutCredentials(t *testing.T) {
	if _, err := os.Stat(openaiSecretPath); err == nil {
		t.Skip("secret file mounted; credential-less path untestable here")
	}
	t.Setenv("OPENAI_API_KEY", "")

	p := NewOpenAI()
	_, err := p.Invoke(context.Background(), Request{Model: "gpt-4"})
	require.ErrorIs(t, err, ErrNoCredentials)
}
