/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeexecutor

import (
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/agentspans/agents/executor/retry"
)

// Option configures an Executor.
type Option func(*Executor) error

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(e *Executor) error {
		if !strings.HasPrefix(model, "claude-") {
			return fmt.Errorf("model %q does not appear to be a Claude model (expected claude-* format)", model)
		}
		e.model = model
		return nil
	}
}

// WithMaxTokens sets the per-response token limit.
func WithMaxTokens(tokens int64) Option {
	return func(e *Executor) error {
		if tokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", tokens)
		}
		if tokens > 64000 {
			return fmt.Errorf("max tokens %d exceeds maximum of 64000", tokens)
		}
		e.maxTokens = tokens
		return nil
	}
}

// WithTemperature sets the sampling temperature, between 0.0 and 1.0.
func WithTemperature(temp float64) Option {
	return func(e *Executor) error {
		if temp < 0.0 || temp > 1.0 {
			return fmt.Errorf("temperature must be between 0.0 and 1.0, got %f", temp)
		}
		e.temperature = temp
		return nil
	}
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(e *Executor) error {
		if strings.TrimSpace(prompt) == "" {
			return errors.New("system prompt cannot be empty")
		}
		e.systemPrompt = prompt
		return nil
	}
}

// WithMaxTurns bounds the number of model responses per run. A run that
// reaches the bound ends with an error Result.
func WithMaxTurns(turns int) Option {
	return func(e *Executor) error {
		if turns <= 0 {
			return fmt.Errorf("max turns must be positive, got %d", turns)
		}
		e.maxTurns = turns
		return nil
	}
}

// WithTools registers tools the model may call. Names must be unique.
func WithTools(tools ...Tool) Option {
	return func(e *Executor) error {
		for _, t := range tools {
			name := t.Definition.Name
			switch {
			case name == "":
				return errors.New("tool name cannot be empty")
			case t.Handler == nil:
				return fmt.Errorf("tool %q has no handler", name)
			}
			if _, dup := e.tools[name]; dup {
				return fmt.Errorf("tool %q registered twice", name)
			}
			e.tools[name] = t
			e.toolOrder = append(e.toolOrder, name)
		}
		return nil
	}
}

// WithRetryConfig sets how transient API errors (429, 503, 504, 529) are retried.
func WithRetryConfig(cfg retry.Config) Option {
	return func(e *Executor) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		e.retry = cfg
		return nil
	}
}

// WithStructuredOutput decodes a final answer that is a JSON object or array
// (optionally fenced) into Result.StructuredOutput.
func WithStructuredOutput() Option {
	return func(e *Executor) error {
		e.structured = true
		return nil
	}
}
