/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"errors"
	"sync"

	"chainguard.dev/agentspans/agents/agenttrace"
	"chainguard.dev/agentspans/agents/hooks"
	"chainguard.dev/agentspans/agents/message"
	"chainguard.dev/agentspans/agents/metrics"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
)

// ReasonFinalizedPending is the status recorded on tool and subagent spans
// still open when the session is finalized.
const ReasonFinalizedPending = "session finalized with pending state"

// Config describes a traced session.
type Config struct {
	PromptName string
	Model      string
	UserID     string
	UserPrompt string
	Props      map[string]any
	Meta       map[string]any

	// Attributes are recorded on every span of the session.
	Attributes map[string]any

	// Tracer defaults to agenttrace.Resolve.
	Tracer agenttrace.Tracer

	// Metrics defaults to metrics.Default.
	Metrics *metrics.GenAI
}

// Tracer builds a span tree from lifecycle hooks alone. The root span opens
// on the first UserPromptSubmit and stays open until Finalize or Abort.
type Tracer struct {
	cfg         Config
	tracer      agenttrace.Tracer
	ctx         context.Context
	extra       []attribute.KeyValue
	metricAttrs []attribute.KeyValue

	mu        sync.Mutex
	tc        *agenttrace.TraceContext
	sessionID string
	traceID   string
	finalized bool
}

// New returns a session Tracer. Spans are parented to the span ctx carries, if any.
func New(ctx context.Context, cfg Config) *Tracer {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = agenttrace.Resolve(ctx)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}

	extra := make([]attribute.KeyValue, 0, len(cfg.Attributes))
	for k, v := range cfg.Attributes {
		extra = append(extra, agenttrace.Attribute(k, v))
	}
	return &Tracer{
		cfg:         cfg,
		tracer:      tracer,
		ctx:         ctx,
		extra:       extra,
		metricAttrs: []attribute.KeyValue{attribute.String("prompt_name", cfg.PromptName)},
		tc:          agenttrace.NewTraceContext(),
	}
}

// Hooks returns the callbacks to register with the runtime. With the Null
// tracer it returns an empty Config.
func (t *Tracer) Hooks() hooks.Config {
	if t.tracer.Null() {
		return hooks.Config{}
	}
	cb := func(fn hooks.Callback) []hooks.Matcher {
		return []hooks.Matcher{{Hooks: []hooks.Callback{fn}}}
	}
	return hooks.Config{
		hooks.SessionStart:       cb(t.onSessionStart),
		hooks.UserPromptSubmit:   cb(t.onUserPromptSubmit),
		hooks.PreToolUse:         cb(t.onPreToolUse),
		hooks.PostToolUse:        cb(t.onPostToolUse),
		hooks.PostToolUseFailure: cb(t.onPostToolUseFailure),
		hooks.SubagentStart:      cb(t.onSubagentStart),
		hooks.SubagentStop:       cb(t.onSubagentStop),
		hooks.Stop:               cb(t.onStop),
		hooks.SessionEnd:         cb(t.onSessionEnd),
	}
}

// Combine merges the tracer's hooks ahead of others.
func Combine(t *Tracer, others ...hooks.Config) hooks.Config {
	return hooks.Merge(append([]hooks.Config{t.Hooks()}, others...)...)
}

// TraceID returns the trace id of the session root, or the empty string
// before the root has opened.
func (t *Tracer) TraceID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.traceID
}

// Root returns the open root span, or nil.
func (t *Tracer) Root() *agenttrace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tc.Root()
}

// PendingToolIDs returns the call ids of open tool spans.
func (t *Tracer) PendingToolIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tc.PendingToolIDs()
}

// PendingSubagentIDs returns the agent ids of open subagent spans.
func (t *Tracer) PendingSubagentIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tc.PendingSubagentIDs()
}

// Finalize closes the session with Ok, recording the final output and usage.
// Open tool and subagent spans are closed with Error first. Only the first
// call has any effect, and hooks fired after it are ignored.
func (t *Tracer) Finalize(ctx context.Context, result string, usage *message.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root := t.closePending(ctx)
	if root == nil {
		return
	}
	if result != "" {
		root.SetAttribute(agenttrace.KeyResponseOutput, result)
	}
	if usage != nil {
		root.SetAttributes(
			attribute.Int64(agenttrace.KeyUsageInputTokens, usage.InputTokens),
			attribute.Int64(agenttrace.KeyUsageOutputTokens, usage.OutputTokens))
		t.cfg.Metrics.RecordTokens(ctx, t.model(), usage.InputTokens, usage.OutputTokens, t.metricAttrs...)
	}
	root.End(agenttrace.StatusOK())
	t.cfg.Metrics.RecordRun(ctx, "session", metrics.StatusOK, t.metricAttrs...)
	clog.FromContext(ctx).With("trace_id", t.traceID).Debug("Finalized session root span")
}

// Abort closes the session with Error. Like Finalize, only the first
// Finalize or Abort has any effect.
func (t *Tracer) Abort(ctx context.Context, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root := t.closePending(ctx)
	if root == nil {
		return
	}
	if err == nil {
		err = errors.New("session aborted")
	}
	root.RecordError(err)
	root.End(agenttrace.StatusError(err.Error()))
	t.cfg.Metrics.RecordRun(ctx, "session", metrics.StatusError, t.metricAttrs...)
}

// closePending ends the session, clears the root and force-closes pending
// children. It returns the root, or nil when none is open or the session
// already ended.
func (t *Tracer) closePending(ctx context.Context) *agenttrace.Span {
	if t.finalized {
		return nil
	}
	t.finalized = true
	root := t.tc.ClearRoot()
	if root == nil {
		return nil
	}
	status := agenttrace.StatusError(ReasonFinalizedPending)
	tools := t.tc.DrainTools(status)
	subagents := t.tc.DrainSubagents(status)
	t.cfg.Metrics.RecordForcedClose(ctx, "tool", tools, t.metricAttrs...)
	t.cfg.Metrics.RecordForcedClose(ctx, "subagent", subagents, t.metricAttrs...)
	if tools+subagents > 0 {
		clog.FromContext(ctx).With("tools", tools).With("subagents", subagents).
			Warn("Session finalized with open spans, closed them")
	}
	return root
}

// ended reports whether Finalize or Abort has run. Callbacks that arrive
// afterwards are acknowledged without touching any span.
func (t *Tracer) ended(ctx context.Context, ev hooks.Event) bool {
	if t.finalized {
		clog.FromContext(ctx).With("event", string(ev)).Debug("Ignoring hook after session finalized")
	}
	return t.finalized
}

func (t *Tracer) model() string {
	if m := t.tc.Model(); m != "" {
		return m
	}
	return t.cfg.Model
}

// ensureRoot opens the root span unless one is open. It reports whether it opened one.
func (t *Tracer) ensureRoot(in *hooks.Input, prompt string) bool {
	if t.tc.Root() != nil {
		return false
	}
	if in.SessionID != "" {
		t.sessionID = in.SessionID
	}

	attrs := []attribute.KeyValue{
		attribute.String(agenttrace.KeySystem, agenttrace.SystemAnthropic),
	}
	if t.cfg.PromptName != "" {
		attrs = append(attrs,
			attribute.String(agenttrace.KeyPromptName, t.cfg.PromptName),
			attribute.String(agenttrace.KeyAgentName, t.cfg.PromptName))
	}
	if t.cfg.Model != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyRequestModel, t.cfg.Model))
	}
	if t.sessionID != "" {
		attrs = append(attrs,
			attribute.String(agenttrace.KeySessionID, t.sessionID),
			attribute.String(agenttrace.KeyConversationID, t.sessionID))
	}
	if t.cfg.UserID != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyUserID, t.cfg.UserID))
	}
	if prompt == "" {
		prompt = t.cfg.UserPrompt
	}
	if prompt != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyRequestInput, prompt))
	}
	if t.cfg.Props != nil {
		attrs = append(attrs, agenttrace.Attribute(agenttrace.KeyProps, t.cfg.Props))
	}
	if t.cfg.Meta != nil {
		attrs = append(attrs, agenttrace.Attribute(agenttrace.KeyMeta, t.cfg.Meta))
	}

	root := t.start(agenttrace.SpanSession, nil, attrs...)
	t.tc.SetRoot(root)
	t.traceID = root.TraceID()
	return true
}

func (t *Tracer) start(name string, parent *agenttrace.Span, attrs ...attribute.KeyValue) *agenttrace.Span {
	return t.tracer.Start(t.ctx, name, parent, append(attrs, t.extra...)...)
}

func (t *Tracer) onSessionStart(ctx context.Context, in *hooks.Input, _ string) (hooks.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.SessionStart) {
		return hooks.Continue(), nil
	}
	if in.SessionID != "" {
		t.sessionID = in.SessionID
	}
	if root := t.tc.Root(); root != nil {
		root.AddEvent("session_start", attribute.String(agenttrace.KeySessionID, in.SessionID))
	}
	return hooks.Continue(), nil
}

func (t *Tracer) onUserPromptSubmit(ctx context.Context, in *hooks.Input, _ string) (hooks.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.UserPromptSubmit) {
		return hooks.Continue(), nil
	}
	if t.ensureRoot(in, in.Prompt) {
		clog.FromContext(ctx).With("trace_id", t.traceID).Debug("Opened session root span")
		return hooks.Continue(), nil
	}
	t.tc.Root().AddEvent("user_prompt_submit", attribute.String(agenttrace.KeyRequestInput, in.Prompt))
	return hooks.Continue(), nil
}

func (t *Tracer) onPreToolUse(ctx context.Context, in *hooks.Input, toolUseID string) (hooks.Output, error) {
	log := clog.FromContext(ctx).With("tool", in.ToolName).With("tool_use_id", toolUseID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.PreToolUse) {
		return hooks.Continue(), nil
	}
	if toolUseID == "" {
		log.Debug("Ignoring tool start without a call id")
		return hooks.Continue(), nil
	}
	if t.tc.HasTool(toolUseID) {
		log.Debug("Ignoring duplicate tool start")
		return hooks.Continue(), nil
	}
	if t.ensureRoot(in, "") {
		log.Debug("Opened session root span for a tool started before any prompt")
	}

	parent := t.tc.Root()
	attrs := []attribute.KeyValue{
		attribute.String(agenttrace.KeyToolName, in.ToolName),
		attribute.String(agenttrace.KeyToolCallID, toolUseID),
	}
	if in.AgentID != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyAgentID, in.AgentID))
		if sub, ok := t.tc.Subagent(in.AgentID); ok {
			parent = sub
		}
	}
	if in.ToolInput != nil {
		attrs = append(attrs, agenttrace.Attribute(agenttrace.KeyToolInput, in.ToolInput))
	}
	t.tc.AddTool(toolUseID, t.start(agenttrace.ToolName(in.ToolName), parent, attrs...))
	return hooks.Continue(), nil
}

func (t *Tracer) onPostToolUse(ctx context.Context, in *hooks.Input, toolUseID string) (hooks.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.PostToolUse) {
		return hooks.Continue(), nil
	}
	span, ok := t.tc.TakeTool(toolUseID)
	if !ok {
		clog.FromContext(ctx).With("tool_use_id", toolUseID).Debug("Ignoring tool end for unknown call id")
		return hooks.Continue(), nil
	}
	if in.ToolResponse != nil {
		span.SetAttribute(agenttrace.KeyToolOutput, in.ToolResponse)
	}
	span.End(agenttrace.StatusOK())
	t.cfg.Metrics.RecordToolCall(ctx, t.model(), in.ToolName, metrics.StatusOK, t.metricAttrs...)
	return hooks.Continue(), nil
}

func (t *Tracer) onPostToolUseFailure(ctx context.Context, in *hooks.Input, toolUseID string) (hooks.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.PostToolUseFailure) {
		return hooks.Continue(), nil
	}
	span, ok := t.tc.TakeTool(toolUseID)
	if !ok {
		clog.FromContext(ctx).With("tool_use_id", toolUseID).Debug("Ignoring tool error for unknown call id")
		return hooks.Continue(), nil
	}
	msg := in.Error
	if msg == "" {
		msg = "tool failed"
	}
	span.SetAttribute(agenttrace.KeyToolError, msg)
	span.RecordError(errors.New(msg))
	span.End(agenttrace.StatusError(msg))
	t.cfg.Metrics.RecordToolCall(ctx, t.model(), in.ToolName, metrics.StatusError, t.metricAttrs...)
	return hooks.Continue(), nil
}

func (t *Tracer) onSubagentStart(ctx context.Context, in *hooks.Input, _ string) (hooks.Output, error) {
	log := clog.FromContext(ctx).With("agent_id", in.AgentID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.SubagentStart) {
		return hooks.Continue(), nil
	}
	if in.AgentID == "" {
		log.Debug("Ignoring subagent start without an agent id")
		return hooks.Continue(), nil
	}
	if _, ok := t.tc.Subagent(in.AgentID); ok {
		log.Debug("Ignoring duplicate subagent start")
		return hooks.Continue(), nil
	}
	t.ensureRoot(in, "")

	agentType := in.SubagentType
	if agentType == "" {
		agentType = in.AgentType
	}
	attrs := []attribute.KeyValue{attribute.String(agenttrace.KeyAgentID, in.AgentID)}
	if agentType != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeySubagentType, agentType))
	}
	if in.SubagentPrompt != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeySubagentPrompt, in.SubagentPrompt))
	}
	t.tc.AddSubagent(in.AgentID, t.start(agenttrace.SubagentName(agentType), t.tc.Root(), attrs...))
	return hooks.Continue(), nil
}

func (t *Tracer) onSubagentStop(ctx context.Context, in *hooks.Input, _ string) (hooks.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.SubagentStop) {
		return hooks.Continue(), nil
	}
	span, ok := t.tc.TakeSubagent(in.AgentID)
	if !ok {
		clog.FromContext(ctx).With("agent_id", in.AgentID).Debug("Ignoring subagent stop for unknown agent id")
		return hooks.Continue(), nil
	}
	if in.SubagentResult != "" {
		span.SetAttribute(agenttrace.KeySubagentOutput, in.SubagentResult)
	}
	span.End(agenttrace.StatusOK())
	return hooks.Continue(), nil
}

// onStop annotates the root, synthesizing one if no prompt was seen. The root
// stays open for Finalize.
func (t *Tracer) onStop(ctx context.Context, in *hooks.Input, _ string) (hooks.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.Stop) {
		return hooks.Continue(), nil
	}
	if t.ensureRoot(in, "") {
		clog.FromContext(ctx).With("trace_id", t.traceID).Debug("Synthesized session root span at stop")
	}
	root := t.tc.Root()

	var attrs []attribute.KeyValue
	if in.InputTokens != nil {
		attrs = append(attrs, attribute.Int64(agenttrace.KeyUsageInputTokens, *in.InputTokens))
	}
	if in.OutputTokens != nil {
		attrs = append(attrs, attribute.Int64(agenttrace.KeyUsageOutputTokens, *in.OutputTokens))
	}
	if in.Reason != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyFinishReasons, agenttrace.FinishReasons(in.Reason)))
	}
	if in.Result != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyResponseOutput, in.Result))
	}
	root.SetAttributes(attrs...)
	return hooks.Continue(), nil
}

func (t *Tracer) onSessionEnd(ctx context.Context, in *hooks.Input, _ string) (hooks.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended(ctx, hooks.SessionEnd) {
		return hooks.Continue(), nil
	}
	if root := t.tc.Root(); root != nil {
		root.AddEvent("session_end", attribute.String("reason", in.Reason))
	}
	return hooks.Continue(), nil
}
