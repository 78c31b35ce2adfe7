// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capture

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/phylax/services/trace/schema"
)

// responseText normalises an invoker return value into trace text.
//
// Description:
//
//	Rules apply in order, first match wins:
//	  1. a plain string is taken verbatim
//	  2. a map with a "text" key yields that value
//	  3. choices[0].message.content (chat-shaped responses)
//	  4. choices[0].text (legacy completion-shaped responses)
//	  5. anything else is rendered with fmt.Sprintf("%v")
//	Rules 3 and 4 cover both go-openai response structs and generic
//	map[string]any decodings of the same wire shapes.
func responseText(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if raw, ok := v["text"]; ok {
			if s, ok := raw.(string); ok {
				return s
			}
			return fmt.Sprintf("%v", raw)
		}
		if s, ok := choiceTextFromMap(v); ok {
			return s
		}
	case openai.ChatCompletionResponse:
		if len(v.Choices) > 0 {
			return v.Choices[0].Message.Content
		}
	case *openai.ChatCompletionResponse:
		if v != nil && len(v.Choices) > 0 {
			return v.Choices[0].Message.Content
		}
	case openai.CompletionResponse:
		if len(v.Choices) > 0 {
			return v.Choices[0].Text
		}
	case *openai.CompletionResponse:
		if v != nil && len(v.Choices) > 0 {
			return v.Choices[0].Text
		}
	}
	return fmt.Sprintf("%v", data)
}

// choiceTextFromMap navigates choices[0] in a JSON-decoded response map.
func choiceTextFromMap(m map[string]any) (string, bool) {
	choices, ok := m["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	if msg, ok := first["message"].(map[string]any); ok {
		if content, ok := msg["content"].(string); ok {
			return content, true
		}
	}
	if text, ok := first["text"].(string); ok {
		return text, true
	}
	return "", false
}

// responseUsage extracts provider token accounting, when the response
// carries any. Returns nil otherwise.
func responseUsage(data any) *schema.Usage {
	switch v := data.(type) {
	case map[string]any:
		usage, ok := v["usage"].(map[string]any)
		if !ok {
			return nil
		}
		return &schema.Usage{
			PromptTokens:     intField(usage, "prompt_tokens"),
			CompletionTokens: intField(usage, "completion_tokens"),
			TotalTokens:      intField(usage, "total_tokens"),
		}
	case openai.ChatCompletionResponse:
		return usageFromOpenAI(v.Usage)
	case *openai.ChatCompletionResponse:
		if v == nil {
			return nil
		}
		return usageFromOpenAI(v.Usage)
	case openai.CompletionResponse:
		if v.Usage == nil {
			return nil
		}
		return usageFromOpenAI(*v.Usage)
	case *openai.CompletionResponse:
		if v == nil || v.Usage == nil {
			return nil
		}
		return usageFromOpenAI(*v.Usage)
	}
	return nil
}

func usageFromOpenAI(u openai.Usage) *schema.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	return &schema.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// intField reads a numeric map entry, tolerating the float64 that
// encoding/json produces for all JSON numbers.
func intField(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// Client library names recorded in trace runtime blocks.
const (
	LibraryOpenAI       = "openai"
	LibraryLlamaCpp     = "llama_cpp"
	LibraryTransformers = "transformers"
)

// libraryModules maps a detected library to the Go module whose version is
// stamped into the runtime block.
var libraryModules = map[string]string{
	LibraryOpenAI:   "github.com/sashabaranov/go-openai",
	LibraryLlamaCpp: "github.com/tmc/langchaingo",
}

// DetectLibrary maps a provider tag to its client library name. Unknown
// providers record their own tag so the runtime block is never empty.
func DetectLibrary(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return LibraryOpenAI
	case "local", "llama":
		return LibraryLlamaCpp
	case "transformers":
		return LibraryTransformers
	}
	return provider
}

var (
	depVersions     map[string]string
	depVersionsOnce sync.Once
)

// LibraryVersion resolves the build-embedded version of the client module
// behind a provider, or "unknown" when the binary carries no build info or
// the module is not a dependency.
func LibraryVersion(provider string) string {
	depVersionsOnce.Do(func() {
		depVersions = map[string]string{}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, dep := range info.Deps {
			depVersions[dep.Path] = dep.Version
		}
	})
	module, ok := libraryModules[DetectLibrary(provider)]
	if !ok {
		return "unknown"
	}
	if v := depVersions[module]; v != "" {
		return v
	}
	return "unknown"
}

// RuntimeFor assembles the runtime block recorded on every captured trace.
func RuntimeFor(provider string) schema.Runtime {
	return schema.Runtime{
		Library: DetectLibrary(provider),
		Version: LibraryVersion(provider),
	}
}
