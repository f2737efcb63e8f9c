/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"slices"
)

// TraceContext is the mutable span state of one traced run.
//
// It is not safe for concurrent use; the tracer driving a run serializes
// every call.
type TraceContext struct {
	root             *Span
	currentTurn      *Span
	pendingTools     map[string]*Span
	pendingSubagents map[string]*Span
	turnNumber       int
	model            string
}

// NewTraceContext returns an empty TraceContext.
func NewTraceContext() *TraceContext {
	return &TraceContext{
		pendingTools:     make(map[string]*Span),
		pendingSubagents: make(map[string]*Span),
	}
}

// Root returns the root span, or nil.
func (c *TraceContext) Root() *Span { return c.root }

// SetRoot installs the root span.
func (c *TraceContext) SetRoot(s *Span) { c.root = s }

// ClearRoot removes and returns the root span.
func (c *TraceContext) ClearRoot() *Span {
	s := c.root
	c.root = nil
	return s
}

// CurrentTurn returns the open turn span, or nil.
func (c *TraceContext) CurrentTurn() *Span { return c.currentTurn }

// TurnNumber returns the number of the most recently opened turn.
func (c *TraceContext) TurnNumber() int { return c.turnNumber }

// NextTurn ends the current turn with status and returns the next turn number.
func (c *TraceContext) NextTurn(status Status) int {
	c.EndTurn(status)
	c.turnNumber++
	return c.turnNumber
}

// SetTurn installs s as the current turn span.
func (c *TraceContext) SetTurn(s *Span) { c.currentTurn = s }

// EndTurn ends and clears the current turn span. It reports whether one was open.
func (c *TraceContext) EndTurn(status Status) bool {
	s := c.currentTurn
	c.currentTurn = nil
	return s != nil && s.End(status)
}

// Model returns the resolved model name.
func (c *TraceContext) Model() string { return c.model }

// ObserveModel records m as the model unless one is already known.
func (c *TraceContext) ObserveModel(m string) {
	if c.model == "" {
		c.model = m
	}
}

// ToolParent returns the span new tool spans attach to: the open turn, else the root.
func (c *TraceContext) ToolParent() *Span {
	if c.currentTurn != nil && !c.currentTurn.Ended() {
		return c.currentTurn
	}
	return c.root
}

// AddTool registers a pending tool span. It reports false, leaving the
// existing entry in place, when id is already pending.
func (c *TraceContext) AddTool(id string, s *Span) bool {
	if _, ok := c.pendingTools[id]; ok {
		return false
	}
	c.pendingTools[id] = s
	return true
}

// TakeTool removes and returns the pending tool span for id.
func (c *TraceContext) TakeTool(id string) (*Span, bool) {
	s, ok := c.pendingTools[id]
	if ok {
		delete(c.pendingTools, id)
	}
	return s, ok
}

// HasTool reports whether id is pending.
func (c *TraceContext) HasTool(id string) bool {
	_, ok := c.pendingTools[id]
	return ok
}

// AddSubagent registers a pending subagent span. It reports false when id is already pending.
func (c *TraceContext) AddSubagent(id string, s *Span) bool {
	if _, ok := c.pendingSubagents[id]; ok {
		return false
	}
	c.pendingSubagents[id] = s
	return true
}

// TakeSubagent removes and returns the pending subagent span for id.
func (c *TraceContext) TakeSubagent(id string) (*Span, bool) {
	s, ok := c.pendingSubagents[id]
	if ok {
		delete(c.pendingSubagents, id)
	}
	return s, ok
}

// Subagent returns the pending subagent span for id without removing it.
func (c *TraceContext) Subagent(id string) (*Span, bool) {
	s, ok := c.pendingSubagents[id]
	return s, ok
}

// PendingToolIDs returns the sorted ids of pending tool spans.
func (c *TraceContext) PendingToolIDs() []string {
	return sortedKeys(c.pendingTools)
}

// PendingSubagentIDs returns the sorted ids of pending subagent spans.
func (c *TraceContext) PendingSubagentIDs() []string {
	return sortedKeys(c.pendingSubagents)
}

// DrainTools ends every pending tool span with status and returns how many it ended.
func (c *TraceContext) DrainTools(status Status) int {
	return drain(c.pendingTools, status)
}

// DrainSubagents ends every pending subagent span with status and returns how many it ended.
func (c *TraceContext) DrainSubagents(status Status) int {
	return drain(c.pendingSubagents, status)
}

func drain(m map[string]*Span, status Status) int {
	n := 0
	for _, id := range sortedKeys(m) {
		s := m[id]
		delete(m, id)
		s.SetAttribute(KeyForcedClose, true)
		if s.End(status) {
			n++
		}
	}
	return n
}

func sortedKeys(m map[string]*Span) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
