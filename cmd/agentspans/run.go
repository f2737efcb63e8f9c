/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"fmt"

	"chainguard.dev/agentspans/agents/executor/claudeexecutor"
	"chainguard.dev/agentspans/agents/hooks"
	"chainguard.dev/agentspans/agents/invocation"
	"chainguard.dev/agentspans/agents/message"
	"chainguard.dev/agentspans/agents/metrics"
	"chainguard.dev/agentspans/agents/session"
	"github.com/chainguard-dev/clog"
)

// runner executes one run file against an executor.
type runner struct {
	rf      *RunFile
	exec    *claudeexecutor.Executor
	metrics *metrics.GenAI
}

// run dispatches on the run file's mode and returns the final output and trace id.
func (r *runner) run(ctx context.Context) (string, string, error) {
	switch r.rf.Mode {
	case ModeSession:
		return r.session(ctx)
	default:
		return r.invocation(ctx)
	}
}

// invocation traces the run from its message stream.
func (r *runner) invocation(ctx context.Context) (string, string, error) {
	traced := invocation.WithTracing(ctx, invocation.Config{
		Enabled:      true,
		PromptName:   r.rf.Name,
		Model:        r.exec.Model(),
		SystemPrompt: r.exec.SystemPrompt(),
		UserPrompt:   r.rf.Prompt,
		UserID:       r.rf.UserID,
		Props:        r.rf.Props,
		Metadata:     r.rf.Metadata,
		Metrics:      r.metrics,
	}, r.exec.Source(r.rf.Prompt), r.logHooks())

	output, err := consume(traced.Stream)
	return output, traced.TraceID, err
}

// session traces the run from lifecycle hooks alone.
func (r *runner) session(ctx context.Context) (string, string, error) {
	var output string
	traceID, err := session.Run(ctx, session.Config{
		PromptName: r.rf.Name,
		Model:      r.exec.Model(),
		UserID:     r.rf.UserID,
		UserPrompt: r.rf.Prompt,
		Props:      r.rf.Props,
		Meta:       r.rf.Metadata,
		Attributes: r.rf.Attributes,
		Metrics:    r.metrics,
	}, func(ctx context.Context, h hooks.Config) (session.Outcome, error) {
		var usage *message.Usage
		for msg, err := range r.exec.Stream(ctx, r.rf.Prompt, h) {
			if err != nil {
				return session.Outcome{}, err
			}
			if res, ok := msg.(*message.Result); ok {
				output, usage = res.Output, res.Usage
				if !res.Success() {
					return session.Outcome{}, fmt.Errorf("run ended with %s: %s", res.Subtype, res.Output)
				}
			}
		}
		return session.Outcome{Result: output, Usage: usage}, nil
	}, r.logHooks())
	return output, traceID, err
}

// consume drains a message stream and returns the Result's output.
func consume(stream func(func(message.Message, error) bool)) (string, error) {
	var output string
	for msg, err := range stream {
		if err != nil {
			return output, err
		}
		if res, ok := msg.(*message.Result); ok {
			output = res.Output
			if !res.Success() {
				return output, fmt.Errorf("run ended with %s: %s", res.Subtype, res.Output)
			}
		}
	}
	return output, nil
}

// logHooks logs lifecycle events as the runtime reports them.
func (r *runner) logHooks() hooks.Config {
	return hooks.NewTelemetryHooks(hooks.TelemetryConfig{
		Enabled:    true,
		PromptName: r.rf.Name,
		Props:      r.rf.Props,
		Metadata:   r.rf.Metadata,
	}, func(ctx context.Context, ev hooks.TelemetryEvent) error {
		log := clog.FromContext(ctx).With("event", ev.EventName).With("session_id", ev.SessionID)
		if tool, ok := ev.Data["tool_name"]; ok {
			log = log.With("tool", tool)
		}
		if msg, ok := ev.Data["error"]; ok {
			log.With("error", msg).Warn("Agent event")
			return nil
		}
		log.Info("Agent event")
		return nil
	})
}
