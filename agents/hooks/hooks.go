/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package hooks defines the lifecycle callbacks an agent runtime invokes at
// execution milestones, and how independently authored sets of them compose.
package hooks

import (
	"context"
	"time"
)

// Event names a lifecycle milestone.
type Event string

const (
	SessionStart       Event = "SessionStart"
	SessionEnd         Event = "SessionEnd"
	UserPromptSubmit   Event = "UserPromptSubmit"
	PreToolUse         Event = "PreToolUse"
	PostToolUse        Event = "PostToolUse"
	PostToolUseFailure Event = "PostToolUseFailure"
	Stop               Event = "Stop"
	SubagentStart      Event = "SubagentStart"
	SubagentStop       Event = "SubagentStop"
	PreCompact         Event = "PreCompact"
	PermissionRequest  Event = "PermissionRequest"
	Notification       Event = "Notification"
)

// Events lists every known event in lifecycle order.
var Events = []Event{
	SessionStart,
	UserPromptSubmit,
	PreToolUse,
	PermissionRequest,
	PostToolUse,
	PostToolUseFailure,
	SubagentStart,
	SubagentStop,
	Notification,
	PreCompact,
	Stop,
	SessionEnd,
}

// IsToolEvent reports whether matchers for e are filtered by tool name.
func (e Event) IsToolEvent() bool {
	switch e {
	case PreToolUse, PostToolUse, PostToolUseFailure, PermissionRequest:
		return true
	default:
		return false
	}
}

// Input is the payload handed to a Callback. Which fields are set depends on Event.
type Input struct {
	Event          Event  `json:"hook_event_name"`
	SessionID      string `json:"session_id,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Cwd            string `json:"cwd,omitempty"`

	// UserPromptSubmit.
	Prompt string `json:"prompt,omitempty"`

	// Tool events.
	ToolName     string `json:"tool_name,omitempty"`
	ToolInput    any    `json:"tool_input,omitempty"`
	ToolResponse any    `json:"tool_response,omitempty"`
	Error        string `json:"error,omitempty"`

	// Stop and SessionEnd.
	Reason       string `json:"reason,omitempty"`
	Result       string `json:"result,omitempty"`
	InputTokens  *int64 `json:"input_tokens,omitempty"`
	OutputTokens *int64 `json:"output_tokens,omitempty"`

	// Subagent events. AgentID is also set on tool events that run inside a subagent.
	AgentID        string `json:"agent_id,omitempty"`
	AgentType      string `json:"agent_type,omitempty"`
	SubagentType   string `json:"subagent_type,omitempty"`
	SubagentPrompt string `json:"subagent_prompt,omitempty"`
	SubagentResult string `json:"subagent_result,omitempty"`

	// Notification.
	Message string `json:"message,omitempty"`
}

// Output is a callback's answer to the runtime.
type Output struct {
	Continue       bool   `json:"continue"`
	SuppressOutput bool   `json:"suppressOutput,omitempty"`
	StopReason     string `json:"stopReason,omitempty"`
	SystemMessage  string `json:"systemMessage,omitempty"`
}

// Continue returns the Output that lets execution proceed.
func Continue() Output { return Output{Continue: true} }

// Callback handles one lifecycle event. toolUseID is the tool call id for
// tool events and empty otherwise. ctx is cancelled when the runtime abandons
// the event.
type Callback func(ctx context.Context, in *Input, toolUseID string) (Output, error)

// Matcher is an ordered group of callbacks.
type Matcher struct {
	// Matcher selects tools by name for tool events: empty or "*" matches
	// every tool, anything else is a regular expression.
	Matcher string
	Hooks   []Callback
	// Timeout bounds each callback in the group when positive.
	Timeout time.Duration
}

// Config maps events to the matcher groups that handle them, in order.
type Config map[Event][]Matcher

// Len returns the total number of callbacks registered.
func (c Config) Len() int {
	n := 0
	for _, ms := range c {
		for _, m := range ms {
			n += len(m.Hooks)
		}
	}
	return n
}
