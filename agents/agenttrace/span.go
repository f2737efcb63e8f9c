/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// SpanState is the lifecycle position of a Span.
type SpanState int

const (
	SpanPending SpanState = iota
	SpanActive
	SpanEnded
)

func (s SpanState) String() string {
	switch s {
	case SpanPending:
		return "pending"
	case SpanActive:
		return "active"
	case SpanEnded:
		return "ended"
	default:
		return fmt.Sprintf("SpanState(%d)", int(s))
	}
}

// Status is the terminal status passed to Span.End.
type Status struct {
	Code        codes.Code
	Description string
}

// StatusOK returns an Ok status.
func StatusOK() Status { return Status{Code: codes.Ok} }

// StatusError returns an Error status carrying msg.
func StatusError(msg string) Status { return Status{Code: codes.Error, Description: msg} }

// Span is a handle on a backend span. It may be annotated while Active and
// is ended exactly once; every later End is a no-op.
type Span struct {
	name string
	ctx  context.Context

	mu    sync.Mutex
	state SpanState
	span  oteltrace.Span
}

func newSpan(ctx context.Context, name string) *Span {
	return &Span{name: name, ctx: ctx, state: SpanPending}
}

// activate binds the backend span and moves the handle to Active.
func (s *Span) activate(ctx context.Context, span oteltrace.Span) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.span = span
	s.state = SpanActive
	return s
}

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// Context returns a context carrying this span, for parenting children.
func (s *Span) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Span) State() SpanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ended reports whether End has been called.
func (s *Span) Ended() bool { return s.State() == SpanEnded }

// TraceID returns the backend trace id as 32 lowercase hex characters,
// or the empty string when the backend assigned none.
func (s *Span) TraceID() string {
	sc := s.spanContext()
	if !sc.TraceID().IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the backend span id, or the empty string.
func (s *Span) SpanID() string {
	sc := s.spanContext()
	if !sc.SpanID().IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

func (s *Span) spanContext() oteltrace.SpanContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.span == nil {
		return oteltrace.SpanContext{}
	}
	return s.span.SpanContext()
}

// SetAttribute records key=value. Non-scalar values are JSON-encoded.
// It is a no-op unless the span is Active.
func (s *Span) SetAttribute(key string, value any) {
	s.SetAttributes(Attribute(key, value))
}

// SetAttributes records kvs. It is a no-op unless the span is Active.
func (s *Span) SetAttributes(kvs ...attribute.KeyValue) {
	if len(kvs) == 0 {
		return
	}
	s.whileActive("set_attributes", func(span oteltrace.Span) {
		span.SetAttributes(kvs...)
	})
}

// AddEvent records a named event. It is a no-op unless the span is Active.
func (s *Span) AddEvent(name string, kvs ...attribute.KeyValue) {
	s.whileActive("add_event", func(span oteltrace.Span) {
		span.AddEvent(name, oteltrace.WithAttributes(kvs...))
	})
}

// RecordError records err as an exception event. It does not set the status.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.whileActive("record_error", func(span oteltrace.Span) {
		span.RecordError(err)
	})
}

// End sets the status and ends the span. It reports whether this call ended
// the span; calls on a span that is not Active return false.
func (s *Span) End(status Status) bool {
	s.mu.Lock()
	if s.state != SpanActive {
		s.mu.Unlock()
		return false
	}
	s.state = SpanEnded
	span := s.span
	s.mu.Unlock()

	contain(s.ctx, s.name, "end", func() {
		span.SetStatus(status.Code, status.Description)
		span.End()
	})
	return true
}

func (s *Span) whileActive(op string, fn func(oteltrace.Span)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SpanActive {
		return
	}
	contain(s.ctx, s.name, op, func() { fn(s.span) })
}

// contain runs a backend call and swallows any panic it raises.
func contain(ctx context.Context, name, op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			clog.FromContext(ctx).With("span", name).With("op", op).
				Warnf("Tracing backend call panicked, dropping: %v", r)
		}
	}()
	fn()
}
