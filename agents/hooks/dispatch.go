/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package hooks

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// matchers caches compiled Matcher expressions by pattern. Invalid
// patterns are stored as a nil *regexp.Regexp.
var matchers sync.Map

// Matches reports whether the group applies to a call of the named tool.
// An invalid expression matches only the identical tool name.
func (m Matcher) Matches(toolName string) bool {
	if m.Matcher == "" || m.Matcher == "*" {
		return true
	}
	re := compileMatcher(m.Matcher)
	if re == nil {
		return m.Matcher == toolName
	}
	return re.MatchString(toolName)
}

func compileMatcher(pattern string) *regexp.Regexp {
	if v, ok := matchers.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		re = nil
	}
	v, _ := matchers.LoadOrStore(pattern, re)
	return v.(*regexp.Regexp)
}

// Dispatch runs the callbacks registered for in.Event in order. Tool events
// only reach groups whose Matcher selects in.ToolName. Dispatch stops at the
// first callback that errors or answers Continue=false and returns its
// Output; otherwise it returns Continue with the last SystemMessage seen.
func (c Config) Dispatch(ctx context.Context, in *Input, toolUseID string) (Output, error) {
	out := Continue()
	for _, m := range c[in.Event] {
		if in.Event.IsToolEvent() && !m.Matches(in.ToolName) {
			continue
		}
		for _, h := range m.Hooks {
			res, err := call(ctx, m.Timeout, h, in, toolUseID)
			if err != nil {
				return res, fmt.Errorf("%s hook: %w", in.Event, err)
			}
			if !res.Continue {
				return res, nil
			}
			if res.SystemMessage != "" {
				out.SystemMessage = res.SystemMessage
			}
			out.SuppressOutput = out.SuppressOutput || res.SuppressOutput
		}
	}
	return out, nil
}

func call(ctx context.Context, timeout time.Duration, h Callback, in *Input, toolUseID string) (Output, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return h(ctx, in, toolUseID)
}
