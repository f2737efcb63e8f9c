/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package session traces an agent runtime that only exposes lifecycle hooks.

The span tree is built from hook callbacks alone:

	gen_ai.session
	├── gen_ai.tool.call Read
	└── gen_ai.subagent researcher
	    └── gen_ai.tool.call Search

The root opens on the first UserPromptSubmit. Tool spans hang off the root,
or off the subagent whose agent id the tool event carries. Subagent spans are
keyed by agent id and never collide with tool call ids. Stop records usage and
the finish reason on the root but leaves it open, since the final output may
only be known afterwards; if Stop arrives before any prompt, a root is
synthesized so its data is not lost.

The root closes on Finalize (Ok) or Abort (Error). Run wraps a session body
so that exactly one of them always runs:

	traceID, err := session.Run(ctx, session.Config{PromptName: "triage"},
		func(ctx context.Context, h hooks.Config) (session.Outcome, error) {
			out, err := runtime.Query(ctx, prompt, h)
			if err != nil {
				return session.Outcome{}, err
			}
			return session.Outcome{Result: out.Text, Usage: out.Usage}, nil
		})

With the Null tracer, Hooks returns no callbacks and Finalize does nothing.
*/
package session
