/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package message defines the progress messages an agent execution yields:
// one Turn per model response and a terminal Result.
package message

import (
	"encoding/json"
	"strings"
)

// Kind tags a Message.
type Kind string

const (
	KindTurn   Kind = "turn"
	KindResult Kind = "result"
)

// Message is a Turn or a Result.
type Message interface {
	Kind() Kind
	isMessage()
}

// Content block types.
const (
	BlockText    = "text"
	BlockToolUse = "tool_use"
)

// ContentBlock is one part of a model response.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock returns a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// Usage is token accounting for a response or a whole run.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Turn is one model response.
type Turn struct {
	Content []ContentBlock `json:"content"`
	Model   string         `json:"model,omitempty"`
	Usage   *Usage         `json:"usage,omitempty"`
}

func (*Turn) Kind() Kind { return KindTurn }
func (*Turn) isMessage() {}

// Text joins the text blocks of the turn.
func (t *Turn) Text() string {
	var parts []string
	for _, b := range t.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use blocks of the turn in order.
func (t *Turn) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range t.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Subtype is the outcome reported by a Result.
type Subtype string

const (
	SubtypeSuccess Subtype = "success"
	SubtypeError   Subtype = "error"
)

// Result is the terminal message of a run.
type Result struct {
	Subtype          Subtype  `json:"subtype"`
	Output           string   `json:"result"`
	StructuredOutput any      `json:"structured_output,omitempty"`
	Usage            *Usage   `json:"usage,omitempty"`
	TotalCostUSD     *float64 `json:"total_cost_usd,omitempty"`
	DurationMs       *int64   `json:"duration_ms,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
}

func (*Result) Kind() Kind { return KindResult }
func (*Result) isMessage() {}

// Success reports whether the run succeeded.
func (r *Result) Success() bool { return r.Subtype == SubtypeSuccess }
