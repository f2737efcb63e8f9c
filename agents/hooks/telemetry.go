/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// Telemetry event names.
const (
	EventSessionStart  = "session_start"
	EventSessionEnd    = "session_end"
	EventToolStart     = "tool_start"
	EventToolEnd       = "tool_end"
	EventToolError     = "tool_error"
	EventAgentStop     = "agent_stop"
	EventSubagentStart = "subagent_start"
	EventSubagentStop  = "subagent_stop"
)

// TelemetryConfig configures NewTelemetryHooks.
type TelemetryConfig struct {
	Enabled    bool
	PromptName string
	FunctionID string
	Props      map[string]any
	Metadata   map[string]any
}

// TelemetryEvent is the record handed to a TelemetryEventHandler.
type TelemetryEvent struct {
	EventName  string         `json:"eventName"`
	Timestamp  int64          `json:"timestamp"`
	SessionID  string         `json:"sessionId"`
	PromptName string         `json:"promptName"`
	Data       map[string]any `json:"data"`
}

// TelemetryEventHandler receives telemetry events. Errors and panics are
// logged and never reach the runtime.
type TelemetryEventHandler func(ctx context.Context, ev TelemetryEvent) error

// NewTelemetryHooks returns callbacks that forward lifecycle events to handlers.
// Handlers for one event run concurrently. A disabled config yields an empty Config.
func NewTelemetryHooks(cfg TelemetryConfig, handlers ...TelemetryEventHandler) Config {
	if !cfg.Enabled {
		return Config{}
	}
	t := &telemetry{cfg: cfg, handlers: handlers, now: time.Now}

	return Config{
		SessionStart: {{Hooks: []Callback{t.forward(EventSessionStart, func(in *Input, _ string) map[string]any {
			return map[string]any{"cwd": in.Cwd, "transcript_path": in.TranscriptPath}
		})}}},
		SessionEnd: {{Hooks: []Callback{t.forward(EventSessionEnd, func(in *Input, _ string) map[string]any {
			return map[string]any{"reason": in.Reason}
		})}}},
		PreToolUse: {{Hooks: []Callback{t.forward(EventToolStart, func(in *Input, id string) map[string]any {
			return map[string]any{"tool_name": in.ToolName, "tool_input": in.ToolInput, "tool_use_id": id}
		})}}},
		PostToolUse: {{Hooks: []Callback{t.forward(EventToolEnd, func(in *Input, id string) map[string]any {
			return map[string]any{"tool_name": in.ToolName, "tool_response": in.ToolResponse, "tool_use_id": id}
		})}}},
		PostToolUseFailure: {{Hooks: []Callback{t.forward(EventToolError, func(in *Input, id string) map[string]any {
			return map[string]any{"tool_name": in.ToolName, "error": in.Error, "tool_use_id": id}
		})}}},
		Stop: {{Hooks: []Callback{t.forward(EventAgentStop, func(in *Input, _ string) map[string]any {
			return map[string]any{"reason": in.Reason, "result": in.Result}
		})}}},
		SubagentStart: {{Hooks: []Callback{t.forward(EventSubagentStart, func(in *Input, _ string) map[string]any {
			return map[string]any{"subagent_type": in.SubagentType, "subagent_prompt": in.SubagentPrompt, "agent_id": in.AgentID}
		})}}},
		SubagentStop: {{Hooks: []Callback{t.forward(EventSubagentStop, func(in *Input, _ string) map[string]any {
			return map[string]any{"subagent_result": in.SubagentResult, "agent_id": in.AgentID}
		})}}},
	}
}

type telemetry struct {
	cfg      TelemetryConfig
	handlers []TelemetryEventHandler
	now      func() time.Time
}

func (t *telemetry) forward(name string, data func(*Input, string) map[string]any) Callback {
	return func(ctx context.Context, in *Input, toolUseID string) (Output, error) {
		d := data(in, toolUseID)
		d["functionId"] = t.cfg.FunctionID
		d["metadata"] = t.cfg.Metadata
		d["props"] = t.cfg.Props

		t.emit(ctx, TelemetryEvent{
			EventName:  name,
			Timestamp:  t.now().UnixMilli(),
			SessionID:  in.SessionID,
			PromptName: t.cfg.PromptName,
			Data:       d,
		})
		return Continue(), nil
	}
}

func (t *telemetry) emit(ctx context.Context, ev TelemetryEvent) {
	g := new(errgroup.Group)
	for _, h := range t.handlers {
		if h != nil {
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("handler panicked: %v", r)
					}
				}()
				return h(ctx, ev)
			})
		}
	}
	if err := g.Wait(); err != nil {
		clog.FromContext(ctx).With("event", ev.EventName).Warnf("Telemetry event handler failed: %v", err)
	}
}
