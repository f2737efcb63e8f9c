/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// ScopeName is the instrumentation scope used for every tracer and meter.
const ScopeName = "agentspans"

// SystemAnthropic is the gen_ai.system value recorded on root spans.
const SystemAnthropic = "anthropic"

// GenAI semantic convention keys.
const (
	KeySystem              = "gen_ai.system"
	KeyRequestModel        = "gen_ai.request.model"
	KeyResponseModel       = "gen_ai.response.model"
	KeyRequestInput        = "gen_ai.request.input"
	KeySystemPrompt        = "gen_ai.request.system_prompt"
	KeyResponseOutput      = "gen_ai.response.output"
	KeyFinishReasons       = "gen_ai.response.finish_reasons"
	KeyUsageInputTokens    = "gen_ai.usage.input_tokens"
	KeyUsageOutputTokens   = "gen_ai.usage.output_tokens"
	KeyToolName            = "gen_ai.tool.name"
	KeyToolCallID          = "gen_ai.tool.call.id"
	KeyToolInput           = "gen_ai.tool.input"
	KeyToolOutput          = "gen_ai.tool.output"
	KeyToolError           = "gen_ai.tool.error"
	KeyConversationID      = "gen_ai.conversation.id"
	KeyAgentName           = "gen_ai.agent.name"
	KeyOperationName       = "gen_ai.operation.name"
	KeyResponseToolUses    = "gen_ai.response.tool_uses"
	KeyResponseStructured  = "gen_ai.response.structured_output"
	KeySubagentPrompt      = "gen_ai.subagent.prompt"
	KeySubagentOutput      = "gen_ai.subagent.output"
	KeyTurnNumber          = "agentspans.turn_number"
	KeyPromptName          = "agentspans.prompt_name"
	KeySessionID           = "agentspans.session_id"
	KeyUserID              = "agentspans.user_id"
	KeyProps               = "agentspans.props"
	KeyMeta                = "agentspans.meta"
	KeyAgentID             = "agentspans.agent_id"
	KeySubagentType        = "agentspans.subagent_type"
	KeyCostUSD             = "agentspans.cost_usd"
	KeyDurationMs          = "agentspans.duration_ms"
	KeyForcedClose         = "agentspans.forced_close"
	KeyDatasetRunID        = "agentspans.dataset.run_id"
	KeyDatasetRunName      = "agentspans.dataset.run_name"
	KeyDatasetItemName     = "agentspans.dataset.item_name"
	KeyDatasetExpected     = "agentspans.dataset.expected_output"
	KeyDatasetPath         = "agentspans.dataset.path"
	KeyTraceMetadataPrefix = "agentspans.metadata."
)

// Span names.
const (
	SpanSession      = "gen_ai.session"
	SpanInvokeAgent  = "invoke_agent"
	SpanTurnPrefix   = "gen_ai.turn"
	SpanToolPrefix   = "gen_ai.tool.call"
	SpanSubagentName = "gen_ai.subagent"
)

// InvokeAgentName returns the root span name for a stream-driven run.
func InvokeAgentName(promptName string) string {
	if promptName == "" {
		return SpanInvokeAgent
	}
	return SpanInvokeAgent + " " + promptName
}

// TurnName returns the span name for turn n.
func TurnName(n int) string {
	return fmt.Sprintf("%s %d", SpanTurnPrefix, n)
}

// ToolName returns the span name for a call to the named tool.
func ToolName(tool string) string {
	if tool == "" {
		return SpanToolPrefix
	}
	return SpanToolPrefix + " " + tool
}

// SubagentName returns the span name for a subagent of the given type.
func SubagentName(agentType string) string {
	if agentType == "" {
		return SpanSubagentName
	}
	return SpanSubagentName + " " + agentType
}

// Attribute converts an arbitrary value into an attribute.
// Scalars map to their native attribute kinds. Everything else is
// JSON-encoded, and values that cannot be encoded fall back to fmt.Sprint.
func Attribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int32:
		return attribute.Int64(key, int64(v))
	case int64:
		return attribute.Int64(key, v)
	case uint32:
		return attribute.Int64(key, int64(v))
	case float32:
		return attribute.Float64(key, float64(v))
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case attribute.Value:
		return attribute.KeyValue{Key: attribute.Key(key), Value: v}
	}
	return attribute.String(key, Stringify(value))
}

// Stringify renders v as JSON, or with fmt.Sprint when v is not encodable.
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// FinishReasons renders a finish reason as the JSON array the
// gen_ai.response.finish_reasons convention expects.
func FinishReasons(reasons ...string) string {
	if len(reasons) == 0 {
		return "[]"
	}
	return Stringify(reasons)
}
