/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package invocation traces an agent execution that reports progress as a
stream of messages.

WithTracing opens a root span immediately, so the trace id is known before
the first message arrives, then annotates the span tree as the caller ranges
over the stream:

	invoke_agent <prompt name>
	├── gen_ai.turn 1
	│   └── gen_ai.tool.call Search
	└── gen_ai.turn 2

Tool spans come from the PreToolUse, PostToolUse and PostToolUseFailure hooks
that WithTracing hands to the source. The stream and the hooks are not
ordered with respect to each other; a tool end for a call id that is unknown
or already closed is ignored.

Every span is closed exactly once. A Result closes the tree with the root
status taken from the result; a source error closes it with Error and is then
yielded unchanged; a consumer that stops ranging early, or a source that ends
without a Result, leaves spans that are closed with Error on the way out.

	traced := invocation.WithTracing(ctx, invocation.Config{
		Enabled:    true,
		PromptName: "summarize",
		Model:      "claude-sonnet-4-5",
	}, executor.Source(prompt))

	log.Printf("trace %s", traced.TraceID)
	for msg, err := range traced.Stream {
		if err != nil {
			return err
		}
		// handle msg
	}
*/
package invocation
