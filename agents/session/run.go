/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"fmt"

	"chainguard.dev/agentspans/agents/agenttrace"
	"chainguard.dev/agentspans/agents/hooks"
	"chainguard.dev/agentspans/agents/message"
)

// Outcome is what a session body reports for Finalize.
type Outcome struct {
	Result string
	Usage  *message.Usage
}

// Body runs the session, registering h with the agent runtime.
type Body func(ctx context.Context, h hooks.Config) (Outcome, error)

// Run traces body as one session and guarantees the root span is closed:
// Finalize when body succeeds, Abort when it fails or panics. extra hooks
// run after the tracer's. The returned trace id falls back to a random id
// when no root span was opened.
func Run(ctx context.Context, cfg Config, body Body, extra ...hooks.Config) (traceID string, err error) {
	t := New(ctx, cfg)

	var outcome Outcome
	defer func() {
		if r := recover(); r != nil {
			t.Abort(ctx, fmt.Errorf("session panicked: %v", r))
			panic(r)
		}
		if err != nil {
			t.Abort(ctx, err)
		} else {
			t.Finalize(ctx, outcome.Result, outcome.Usage)
		}
	}()

	outcome, err = body(ctx, Combine(t, extra...))
	if traceID = t.TraceID(); traceID == "" {
		traceID = agenttrace.FallbackTraceID()
	}
	return traceID, err
}
