/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package claudeexecutor runs the Claude tool-use loop as a stream of
// progress messages, invoking lifecycle hooks as it goes.
//
// Each model response is yielded as a message.Turn. Tool calls in a response
// are run between PreToolUse and PostToolUse (or PostToolUseFailure) hooks and
// their results sent back to the model. When a response carries no tool call
// the Stop hooks fire and a message.Result ends the stream.
//
// # Basic Usage
//
//	client := anthropic.NewClient(option.WithAPIKey(key))
//
//	readFile, err := claudeexecutor.NewTool("read_file", "Read a file",
//	    func(ctx context.Context, in struct {
//	        Path string `json:"path" jsonschema:"required"`
//	    }) (any, error) {
//	        return os.ReadFile(in.Path)
//	    })
//	if err != nil {
//	    return err
//	}
//
//	exec, err := claudeexecutor.New(client,
//	    claudeexecutor.WithModel("claude-sonnet-4-5"),
//	    claudeexecutor.WithTools(readFile),
//	)
//	if err != nil {
//	    return err
//	}
//
//	traced := invocation.WithTracing(ctx, invocation.Config{Enabled: true, PromptName: "reader"},
//	    exec.Source("Summarize README.md"))
//	for msg, err := range traced.Stream {
//	    ...
//	}
//
// # Options
//
//   - WithModel: override the default model (claude-sonnet-4-5)
//   - WithMaxTokens: per-response token limit (defaults to 8192)
//   - WithTemperature: sampling temperature (defaults to 0.1)
//   - WithSystemPrompt: system prompt
//   - WithMaxTurns: bound on model responses per run
//   - WithTools: tools the model may call
//   - WithRetryConfig: backoff for 429, 503, 504 and 529 responses
package claudeexecutor
