// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema defines the canonical trace record.
//
// A Trace is the immutable unit of observability: one model call, its
// request, its response, the runtime that produced it, and the causal keys
// (execution_id, node_id, parent_node_id) that stitch sibling calls into an
// execution graph. Traces are write-once after persistence; the only
// allow-listed mutations are blessing (which stamps metadata.output_hash and
// metadata.blessed_at) and the replay_of backfill at creation time.
//
// The JSON field names in this package are the stable on-disk contract.
// Field ordering is irrelevant on read; writers emit two-space indentation
// and raw UTF-8.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the wire format for trace timestamps: UTC ISO-8601 with
// microsecond precision and no zone suffix. String comparison of two
// timestamps in this layout matches chronological comparison.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Message is a single conversation message in a trace request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Parameters holds the model request parameters. All fields are pointers so
// that an absent value is distinguishable from an explicit zero; marshalling
// omits absent fields.
type Parameters struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// Default request parameters applied when the caller supplies none.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 256
)

// Normalized returns a copy with the default temperature and max_tokens
// filled in where the caller left them unset. Other fields pass through.
func (p Parameters) Normalized() Parameters {
	out := p
	if out.Temperature == nil {
		t := DefaultTemperature
		out.Temperature = &t
	}
	if out.MaxTokens == nil {
		m := DefaultMaxTokens
		out.MaxTokens = &m
	}
	return out
}

// Request is the request portion of a trace.
type Request struct {
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	Messages   []Message  `json:"messages"`
	Parameters Parameters `json:"parameters"`
}

// Usage carries provider-reported token accounting, mapped verbatim.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the response portion of a trace.
type Response struct {
	Text      string   `json:"text"`
	Tokens    []string `json:"tokens,omitempty"`
	LatencyMs int      `json:"latency_ms"`
	Usage     *Usage   `json:"usage,omitempty"`
}

// Runtime records which client library produced the call.
type Runtime struct {
	Library string `json:"library"`
	Version string `json:"version"`
}

// Trace is the complete record of a single model call.
//
// Description:
//
//	Identity is trace_id (random 128-bit). execution_id groups the sibling
//	traces of one program run; node_id is the graph vertex id; parent_node_id,
//	when set, names the enclosing traced call in the same execution.
//
// Thread Safety: a Trace is a value record; do not mutate after it has been
// handed to a store.
type Trace struct {
	TraceID      string         `json:"trace_id"`
	Timestamp    string         `json:"timestamp"`
	ExecutionID  string         `json:"execution_id"`
	NodeID       string         `json:"node_id"`
	ParentNodeID string         `json:"parent_node_id,omitempty"`
	Request      Request        `json:"request"`
	Response     Response       `json:"response"`
	Runtime      Runtime        `json:"runtime"`
	ReplayOf     string         `json:"replay_of,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Verdict      *Verdict       `json:"verdict,omitempty"`
	Blessed      bool           `json:"blessed"`
}

// NewTrace creates a trace with a fresh trace_id, node_id and timestamp.
// The caller supplies the causal keys and optional fields afterwards.
func NewTrace(req Request, resp Response, rt Runtime) *Trace {
	return &Trace{
		TraceID:   uuid.NewString(),
		Timestamp: NowTimestamp(),
		NodeID:    uuid.NewString(),
		Request:   req,
		Response:  resp,
		Runtime:   rt,
	}
}

// NowTimestamp returns the current UTC time in TimestampLayout.
func NowTimestamp() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// DateOf extracts the YYYY-MM-DD date partition from a trace timestamp.
func DateOf(timestamp string) string {
	if len(timestamp) < 10 {
		return timestamp
	}
	return timestamp[:10]
}

// Validate checks the structural invariants required before persistence.
func (t *Trace) Validate() error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil trace", ErrInvalidTrace)
	case t.TraceID == "":
		return fmt.Errorf("%w: missing trace_id", ErrInvalidTrace)
	case t.ExecutionID == "":
		return fmt.Errorf("%w: missing execution_id", ErrInvalidTrace)
	case t.NodeID == "":
		return fmt.Errorf("%w: missing node_id", ErrInvalidTrace)
	case t.Request.Provider == "":
		return fmt.Errorf("%w: missing request.provider", ErrInvalidTrace)
	case t.Request.Model == "":
		return fmt.Errorf("%w: missing request.model", ErrInvalidTrace)
	case t.Response.LatencyMs < 0:
		return fmt.Errorf("%w: negative latency_ms", ErrInvalidTrace)
	}
	return nil
}

// Clone returns a deep copy. Mutating stored records is forbidden; operations
// like bless work on a clone and replace the file wholesale.
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	out := *t
	out.Request.Messages = append([]Message(nil), t.Request.Messages...)
	out.Request.Parameters = t.Request.Parameters.clone()
	if t.Response.Tokens != nil {
		out.Response.Tokens = append([]string(nil), t.Response.Tokens...)
	}
	if t.Response.Usage != nil {
		u := *t.Response.Usage
		out.Response.Usage = &u
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	if t.Verdict != nil {
		v := t.Verdict.clone()
		out.Verdict = &v
	}
	return &out
}

func (p Parameters) clone() Parameters {
	out := Parameters{}
	if p.Temperature != nil {
		v := *p.Temperature
		out.Temperature = &v
	}
	if p.MaxTokens != nil {
		v := *p.MaxTokens
		out.MaxTokens = &v
	}
	if p.TopP != nil {
		v := *p.TopP
		out.TopP = &v
	}
	if p.FrequencyPenalty != nil {
		v := *p.FrequencyPenalty
		out.FrequencyPenalty = &v
	}
	if p.PresencePenalty != nil {
		v := *p.PresencePenalty
		out.PresencePenalty = &v
	}
	if p.Stop != nil {
		out.Stop = append([]string(nil), p.Stop...)
	}
	return out
}

// OutputHash fingerprints response text for golden-trace comparison:
// the first 16 hex characters of the SHA-256 digest.
func OutputHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Metadata keys written by the store on bless.
const (
	MetaOutputHash = "output_hash"
	MetaBlessedAt  = "blessed_at"
	MetaError      = "error"
)

// OutputHashMeta returns the stored golden fingerprint, if any.
func (t *Trace) OutputHashMeta() string {
	if t.Metadata == nil {
		return ""
	}
	if s, ok := t.Metadata[MetaOutputHash].(string); ok {
		return s
	}
	return ""
}
