/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeexecutor

import (
	"context"
	"fmt"
	"iter"
	"time"

	"chainguard.dev/agentspans/agents/executor/retry"
	"chainguard.dev/agentspans/agents/hooks"
	"chainguard.dev/agentspans/agents/invocation"
	"chainguard.dev/agentspans/agents/message"
	"chainguard.dev/agentspans/agents/result"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
)

// DefaultModel is the model used unless WithModel is given.
const DefaultModel = "claude-sonnet-4-5"

// Stop reasons reported to the Stop hooks besides the API's own.
const (
	StopReasonMaxTurns    = "max_turns"
	StopReasonHookStopped = "hook_stopped"
)

// Executor runs the Claude tool-use loop for a prompt.
type Executor struct {
	client       anthropic.Client
	model        string
	systemPrompt string
	maxTokens    int64
	temperature  float64
	maxTurns     int
	tools        map[string]Tool
	toolOrder    []string
	retry        retry.Config
	structured   bool
}

// New returns an Executor using client.
func New(client anthropic.Client, opts ...Option) (*Executor, error) {
	e := &Executor{
		client:      client,
		model:       DefaultModel,
		maxTokens:   8192,
		temperature: 0.1,
		tools:       map[string]Tool{},
		retry:       retry.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return e, nil
}

// Model returns the configured model.
func (e *Executor) Model() string { return e.model }

// SystemPrompt returns the configured system prompt.
func (e *Executor) SystemPrompt() string { return e.systemPrompt }

// Source adapts the executor for invocation.WithTracing.
func (e *Executor) Source(prompt string) invocation.Source {
	return func(ctx context.Context, h hooks.Config) iter.Seq2[message.Message, error] {
		return e.Stream(ctx, prompt, h)
	}
}

// Stream runs prompt when ranged over. It yields a Turn for every model
// response and ends with a Result, or with a single error if the API call
// fails. Along the way it invokes h for UserPromptSubmit, PreToolUse,
// PostToolUse, PostToolUseFailure and Stop.
func (e *Executor) Stream(ctx context.Context, prompt string, h hooks.Config) iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		r := &run{
			e:         e,
			h:         h,
			sessionID: uuid.NewString(),
			start:     time.Now(),
		}
		r.loop(ctx, prompt, yield)
	}
}

type run struct {
	e         *Executor
	h         hooks.Config
	sessionID string
	start     time.Time
	usage     message.Usage
}

func (r *run) loop(ctx context.Context, prompt string, yield func(message.Message, error) bool) {
	log := clog.FromContext(ctx).With("session_id", r.sessionID).With("model", r.e.model)

	out, err := r.h.Dispatch(ctx, &hooks.Input{
		Event:     hooks.UserPromptSubmit,
		SessionID: r.sessionID,
		Prompt:    prompt,
	}, "")
	if err != nil {
		yield(nil, fmt.Errorf("user prompt hook: %w", err))
		return
	}
	if !out.Continue {
		log.With("reason", out.StopReason).Info("Prompt rejected by hook")
		yield(r.finish(ctx, message.SubtypeError, out.StopReason, StopReasonHookStopped), nil)
		return
	}

	params := r.e.params(prompt)
	log.With("prompt_length", len(prompt)).Info("Starting Claude agent execution")

	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		if r.e.maxTurns > 0 && turn > r.e.maxTurns {
			output := fmt.Sprintf("reached max turns (%d)", r.e.maxTurns)
			yield(r.finish(ctx, message.SubtypeError, output, StopReasonMaxTurns), nil)
			return
		}

		resp, err := retry.Do(ctx, r.e.retry, "messages.new", isRetryableClaudeError,
			func(ctx context.Context, _ int) (*anthropic.Message, error) {
				return r.e.client.Messages.New(ctx, params)
			})
		if err != nil {
			yield(nil, fmt.Errorf("calling Claude: %w", err))
			return
		}

		used := message.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
		r.usage.Add(used)
		t := &message.Turn{
			Content: convertContent(resp.Content),
			Model:   string(resp.Model),
			Usage:   &used,
		}
		if !yield(t, nil) {
			return
		}

		uses := t.ToolUses()
		if len(uses) == 0 {
			log.With("turns", turn).Info("Claude agent execution completed")
			yield(r.finish(ctx, message.SubtypeSuccess, t.Text(), string(resp.StopReason)), nil)
			return
		}

		params.Messages = append(params.Messages, resp.ToParam())
		results := make([]anthropic.ContentBlockParamUnion, 0, len(uses))
		for _, use := range uses {
			content, isError := r.callTool(ctx, use)
			results = append(results, anthropic.NewToolResultBlock(use.ID, content, isError))
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))
	}
}

func (e *Executor) params(prompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(e.model),
		MaxTokens:   e.maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(e.temperature),
	}
	if e.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: e.systemPrompt}}
	}
	for _, name := range e.toolOrder {
		def := e.tools[name].Definition
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &def})
	}
	return params
}

// callTool runs one tool call between its Pre and Post hooks and returns the
// tool_result content.
func (r *run) callTool(ctx context.Context, use message.ContentBlock) (string, bool) {
	log := clog.FromContext(ctx).With("tool", use.Name).With("tool_use_id", use.ID)
	base := hooks.Input{
		SessionID: r.sessionID,
		ToolName:  use.Name,
		ToolInput: decodeInput(use.Input),
	}

	fail := func(msg string) (string, bool) {
		in := base
		in.Event = hooks.PostToolUseFailure
		in.Error = msg
		if _, err := r.h.Dispatch(ctx, &in, use.ID); err != nil {
			log.With("error", err).Warn("PostToolUseFailure hook failed")
		}
		return encodeResult(map[string]any{"error": msg}), true
	}

	pre := base
	pre.Event = hooks.PreToolUse
	out, err := r.h.Dispatch(ctx, &pre, use.ID)
	switch {
	case err != nil:
		return fail(fmt.Sprintf("blocked by hook: %v", err))
	case !out.Continue:
		return fail("blocked by hook: " + out.StopReason)
	}

	tool, ok := r.e.tools[use.Name]
	if !ok {
		log.Warn("Unknown tool requested")
		return fail(fmt.Sprintf("unknown tool: %q", use.Name))
	}

	log.Info("Executing tool call")
	res, err := tool.Handler(ctx, use.Input)
	if err != nil {
		return fail(err.Error())
	}

	post := base
	post.Event = hooks.PostToolUse
	post.ToolResponse = res
	if _, err := r.h.Dispatch(ctx, &post, use.ID); err != nil {
		log.With("error", err).Warn("PostToolUse hook failed")
	}
	return encodeResult(res), false
}

// finish fires the Stop hooks and builds the terminal Result.
func (r *run) finish(ctx context.Context, subtype message.Subtype, output, reason string) *message.Result {
	usage := r.usage
	if _, err := r.h.Dispatch(ctx, &hooks.Input{
		Event:        hooks.Stop,
		SessionID:    r.sessionID,
		Reason:       reason,
		Result:       output,
		InputTokens:  &usage.InputTokens,
		OutputTokens: &usage.OutputTokens,
	}, ""); err != nil {
		clog.FromContext(ctx).With("error", err).Warn("Stop hook failed")
	}

	duration := time.Since(r.start).Milliseconds()
	res := &message.Result{
		Subtype:    subtype,
		Output:     output,
		Usage:      &usage,
		DurationMs: &duration,
		SessionID:  r.sessionID,
	}
	if r.e.structured && subtype == message.SubtypeSuccess {
		if v, ok := result.Structured(output); ok {
			res.StructuredOutput = v
		}
	}
	return res
}

func convertContent(blocks []anthropic.ContentBlockUnion) []message.ContentBlock {
	out := make([]message.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case message.BlockText:
			out = append(out, message.TextBlock(b.Text))
		case message.BlockToolUse:
			out = append(out, message.ToolUseBlock(b.ID, b.Name, b.Input))
		}
	}
	return out
}
