/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package invocation

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"chainguard.dev/agentspans/agents/agenttrace"
	"chainguard.dev/agentspans/agents/hooks"
	"chainguard.dev/agentspans/agents/message"
	"chainguard.dev/agentspans/agents/metrics"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
)

// Close reasons recorded on spans that end without their terminal event.
const (
	ReasonToolNotCompleted = "tool not completed"
	ReasonPendingState     = "iterator completed with pending state"
)

// ErrStreamConsumed is yielded when a traced stream is ranged over a second time.
var ErrStreamConsumed = errors.New("traced stream already consumed")

// Source starts the execution being traced. It is called once, before
// WithTracing returns, with a context carrying the root span and the hooks the
// execution must invoke; work should not start until the sequence is ranged.
type Source func(ctx context.Context, h hooks.Config) iter.Seq2[message.Message, error]

// Config describes a traced invocation.
type Config struct {
	// Enabled gates tracing for this invocation.
	Enabled bool

	PromptName   string
	Model        string
	SystemPrompt string
	UserPrompt   string
	UserID       string
	Props        map[string]any
	Metadata     map[string]any

	// Dataset defaults to the DatasetRun attached to the context.
	Dataset agenttrace.DatasetRun

	// Tracer defaults to agenttrace.Resolve.
	Tracer agenttrace.Tracer

	// Metrics defaults to metrics.Default.
	Metrics *metrics.GenAI
}

// Traced is a traced execution.
type Traced struct {
	// TraceID identifies the trace. It is the root span's trace id, or a
	// random 32 character hex id when tracing is off.
	TraceID string

	// Stream yields the source's elements unchanged. It must be ranged
	// over exactly once; the root span stays open until it is.
	Stream iter.Seq2[message.Message, error]
}

// WithTracing wraps source so that ranging over the returned Stream builds a
// span tree: a root span for the invocation, one span per Turn, and one span
// per tool call reported through the PreToolUse, PostToolUse and
// PostToolUseFailure hooks. Those hooks run ahead of callerHooks.
//
// When cfg.Enabled is false or the tracer is the Null tracer, source receives
// only callerHooks and its sequence is returned as is.
func WithTracing(ctx context.Context, cfg Config, source Source, callerHooks ...hooks.Config) *Traced {
	caller := hooks.Merge(callerHooks...)

	tracer := cfg.Tracer
	if cfg.Enabled && tracer == nil {
		tracer = agenttrace.Resolve(ctx)
	}
	if !cfg.Enabled || tracer.Null() {
		clog.FromContext(ctx).With("prompt", cfg.PromptName).Debug("Tracing off, passing stream through")
		return &Traced{
			TraceID: agenttrace.FallbackTraceID(),
			Stream:  source(ctx, caller),
		}
	}

	if cfg.Dataset.IsZero() {
		cfg.Dataset = agenttrace.GetDatasetRun(ctx)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}

	r := &run{
		cfg:    cfg,
		tracer: tracer,
		tc:     agenttrace.NewTraceContext(),
		metricAttrs: cfg.Dataset.EnrichAttributes([]attribute.KeyValue{
			attribute.String("prompt_name", cfg.PromptName),
		}),
	}
	r.tc.ObserveModel(cfg.Model)

	root := tracer.Start(ctx, agenttrace.InvokeAgentName(cfg.PromptName), nil, r.rootAttributes()...)
	r.ctx = root.Context()
	r.tc.SetRoot(root)

	traceID := root.TraceID()
	if traceID == "" {
		traceID = agenttrace.FallbackTraceID()
	}
	clog.FromContext(ctx).With("trace_id", traceID).With("prompt", cfg.PromptName).Debug("Opened invocation root span")

	return &Traced{
		TraceID: traceID,
		Stream:  r.wrap(source(r.ctx, hooks.Merge(r.hooks(), caller))),
	}
}

// run is the state of one traced invocation. mu serializes the stream
// consumer and hook callbacks, which may arrive on different goroutines.
type run struct {
	cfg         Config
	tracer      agenttrace.Tracer
	ctx         context.Context
	metricAttrs []attribute.KeyValue
	consumed    atomic.Bool

	mu   sync.Mutex
	tc   *agenttrace.TraceContext
	done bool
}

func (r *run) rootAttributes() []attribute.KeyValue {
	cfg := r.cfg
	attrs := []attribute.KeyValue{
		attribute.String(agenttrace.KeySystem, agenttrace.SystemAnthropic),
		attribute.String(agenttrace.KeyOperationName, agenttrace.SpanInvokeAgent),
	}
	if cfg.PromptName != "" {
		attrs = append(attrs,
			attribute.String(agenttrace.KeyPromptName, cfg.PromptName),
			attribute.String(agenttrace.KeyAgentName, cfg.PromptName))
	}
	if cfg.Model != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyRequestModel, cfg.Model))
	}
	if cfg.UserPrompt != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyRequestInput, cfg.UserPrompt))
	}
	if cfg.SystemPrompt != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeySystemPrompt, cfg.SystemPrompt))
	}
	if cfg.UserID != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyUserID, cfg.UserID))
	}
	if cfg.Props != nil {
		attrs = append(attrs, agenttrace.Attribute(agenttrace.KeyProps, cfg.Props))
	}
	if cfg.Metadata != nil {
		attrs = append(attrs, agenttrace.Attribute(agenttrace.KeyMeta, cfg.Metadata))
	}
	return append(attrs, cfg.Dataset.Attributes()...)
}

func (r *run) hooks() hooks.Config {
	return hooks.Config{
		hooks.PreToolUse:         {{Hooks: []hooks.Callback{r.onToolStart}}},
		hooks.PostToolUse:        {{Hooks: []hooks.Callback{r.onToolEnd}}},
		hooks.PostToolUseFailure: {{Hooks: []hooks.Callback{r.onToolError}}},
	}
}

func (r *run) wrap(inner iter.Seq2[message.Message, error]) iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		if !r.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrStreamConsumed)
			return
		}
		defer r.cleanup()

		for msg, err := range inner {
			if err != nil {
				r.fail(err)
				yield(nil, err)
				return
			}
			r.observe(msg)
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (r *run) observe(msg message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		clog.FromContext(r.ctx).With("kind", msg.Kind()).Debug("Ignoring message after root span closed")
		return
	}
	switch m := msg.(type) {
	case *message.Turn:
		r.onTurn(m)
	case *message.Result:
		r.onResult(m)
	}
}

// onTurn closes the open turn and opens the next one under the root.
func (r *run) onTurn(t *message.Turn) {
	n := r.tc.NextTurn(agenttrace.StatusOK())

	known := r.tc.Model()
	r.tc.ObserveModel(t.Model)
	model := r.tc.Model()
	if known == "" && model != "" {
		r.tc.Root().SetAttribute(agenttrace.KeyResponseModel, model)
	}

	attrs := []attribute.KeyValue{attribute.Int(agenttrace.KeyTurnNumber, n)}
	if model != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyResponseModel, model))
	}
	if text := t.Text(); text != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyResponseOutput, text))
	}
	if uses := t.ToolUses(); len(uses) > 0 {
		attrs = append(attrs, agenttrace.Attribute(agenttrace.KeyResponseToolUses, uses))
	}
	if t.Usage != nil {
		attrs = append(attrs,
			attribute.Int64(agenttrace.KeyUsageInputTokens, t.Usage.InputTokens),
			attribute.Int64(agenttrace.KeyUsageOutputTokens, t.Usage.OutputTokens))
		r.cfg.Metrics.RecordTokens(r.ctx, model, t.Usage.InputTokens, t.Usage.OutputTokens, r.metricAttrs...)
	}

	r.tc.SetTurn(r.tracer.Start(r.ctx, agenttrace.TurnName(n), r.tc.Root(), attrs...))
	r.cfg.Metrics.RecordTurn(r.ctx, model, r.metricAttrs...)
}

// onResult closes every open span; the root takes its status from the result.
func (r *run) onResult(res *message.Result) {
	r.tc.EndTurn(agenttrace.StatusOK())
	r.forceCloseTools(agenttrace.StatusError(ReasonToolNotCompleted))

	root := r.tc.Root()
	var attrs []attribute.KeyValue
	if res.Output != "" {
		attrs = append(attrs, attribute.String(agenttrace.KeyResponseOutput, res.Output))
	}
	if res.StructuredOutput != nil {
		attrs = append(attrs, agenttrace.Attribute(agenttrace.KeyResponseStructured, res.StructuredOutput))
	}
	if res.Usage != nil {
		attrs = append(attrs,
			attribute.Int64(agenttrace.KeyUsageInputTokens, res.Usage.InputTokens),
			attribute.Int64(agenttrace.KeyUsageOutputTokens, res.Usage.OutputTokens))
	}
	if res.TotalCostUSD != nil {
		attrs = append(attrs, attribute.Float64(agenttrace.KeyCostUSD, *res.TotalCostUSD))
	}
	if res.DurationMs != nil {
		attrs = append(attrs, attribute.Int64(agenttrace.KeyDurationMs, *res.DurationMs))
	}
	if res.SessionID != "" {
		attrs = append(attrs,
			attribute.String(agenttrace.KeySessionID, res.SessionID),
			attribute.String(agenttrace.KeyConversationID, res.SessionID))
	}
	root.SetAttributes(attrs...)

	status, outcome := agenttrace.StatusOK(), metrics.StatusOK
	if !res.Success() {
		msg := res.Output
		if msg == "" {
			msg = "agent execution failed"
		}
		status, outcome = agenttrace.StatusError(msg), metrics.StatusError
	}
	root.End(status)
	r.finish(outcome)
}

// fail closes every open span with Error after the source failed.
func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.tc.EndTurn(agenttrace.StatusError(err.Error()))
	r.forceCloseTools(agenttrace.StatusError(ReasonToolNotCompleted))

	root := r.tc.Root()
	root.RecordError(err)
	root.End(agenttrace.StatusError(err.Error()))
	r.finish(metrics.StatusError)
}

// cleanup force-closes whatever is still open when the stream stops early
// or ends without a Result.
func (r *run) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	status := agenttrace.StatusError(ReasonPendingState)

	turns := 0
	if turn := r.tc.CurrentTurn(); turn != nil {
		turn.SetAttribute(agenttrace.KeyForcedClose, true)
	}
	if r.tc.EndTurn(status) {
		turns = 1
	}
	tools := r.forceCloseTools(status)
	root := r.tc.Root()
	root.SetAttribute(agenttrace.KeyForcedClose, true)
	root.End(status)

	r.cfg.Metrics.RecordForcedClose(r.ctx, "turn", turns, r.metricAttrs...)
	r.cfg.Metrics.RecordForcedClose(r.ctx, "root", 1, r.metricAttrs...)
	clog.FromContext(r.ctx).With("turns", turns).With("tools", tools).
		Warn("Stream stopped before a result, closed pending spans")
	r.finish(metrics.StatusForced)
}

func (r *run) forceCloseTools(status agenttrace.Status) int {
	n := r.tc.DrainTools(status)
	r.cfg.Metrics.RecordForcedClose(r.ctx, "tool", n, r.metricAttrs...)
	return n
}

func (r *run) finish(outcome string) {
	r.done = true
	r.cfg.Metrics.RecordRun(r.ctx, "invocation", outcome, r.metricAttrs...)
}

func (r *run) onToolStart(ctx context.Context, in *hooks.Input, toolUseID string) (hooks.Output, error) {
	log := clog.FromContext(ctx).With("tool", in.ToolName).With("tool_use_id", toolUseID)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.done:
		log.Debug("Ignoring tool start after root span closed")
		return hooks.Continue(), nil
	case toolUseID == "":
		log.Debug("Ignoring tool start without a call id")
		return hooks.Continue(), nil
	case r.tc.HasTool(toolUseID):
		log.Debug("Ignoring duplicate tool start")
		return hooks.Continue(), nil
	}

	attrs := []attribute.KeyValue{
		attribute.String(agenttrace.KeyToolName, in.ToolName),
		attribute.String(agenttrace.KeyToolCallID, toolUseID),
	}
	if in.ToolInput != nil {
		attrs = append(attrs, agenttrace.Attribute(agenttrace.KeyToolInput, in.ToolInput))
	}
	r.tc.AddTool(toolUseID, r.tracer.Start(r.ctx, agenttrace.ToolName(in.ToolName), r.tc.ToolParent(), attrs...))
	return hooks.Continue(), nil
}

func (r *run) onToolEnd(ctx context.Context, in *hooks.Input, toolUseID string) (hooks.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span, ok := r.tc.TakeTool(toolUseID)
	if !ok {
		clog.FromContext(ctx).With("tool_use_id", toolUseID).Debug("Ignoring tool end for unknown call id")
		return hooks.Continue(), nil
	}
	if in.ToolResponse != nil {
		span.SetAttribute(agenttrace.KeyToolOutput, in.ToolResponse)
	}
	span.End(agenttrace.StatusOK())
	r.cfg.Metrics.RecordToolCall(r.ctx, r.tc.Model(), in.ToolName, metrics.StatusOK, r.metricAttrs...)
	return hooks.Continue(), nil
}

func (r *run) onToolError(ctx context.Context, in *hooks.Input, toolUseID string) (hooks.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span, ok := r.tc.TakeTool(toolUseID)
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
	r.cfg.Metrics.RecordToolCall(r.ctx, r.tc.Model(), in.ToolName, metrics.StatusError, r.metricAttrs...)
	return hooks.Continue(), nil
}
