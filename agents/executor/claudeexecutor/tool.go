/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeexecutor

import (
	"context"
	"encoding/json"
	"fmt"

	"chainguard.dev/agentspans/agents/schema"
	"github.com/anthropics/anthropic-sdk-go"
)

// Handler runs a tool call. The returned value is sent back to the model as
// JSON (strings are sent as is). A non-nil error is reported to the model as
// a failed tool call and to the PostToolUseFailure hooks.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Tool is a tool definition and its handler.
type Tool struct {
	Definition anthropic.ToolParam
	Handler    Handler
}

// NewTool builds a Tool whose input schema is reflected from In. The raw
// input is decoded into In before fn is called.
func NewTool[In any](name, description string, fn func(ctx context.Context, in In) (any, error)) (Tool, error) {
	obj, err := schema.ObjectFor[In]()
	if err != nil {
		return Tool{}, fmt.Errorf("tool %q: %w", name, err)
	}
	return Tool{
		Definition: anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: obj.Properties,
				Required:   obj.Required,
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var in In
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, fmt.Errorf("decoding %s input: %w", name, err)
				}
			}
			return fn(ctx, in)
		},
	}, nil
}

// encodeResult renders a handler result as tool_result content.
func encodeResult(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// decodeInput turns raw tool input into a value for hook inputs.
func decodeInput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
