/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer is the tracing capability handed to the invocation and session tracers.
type Tracer interface {
	// Start opens a span. The span is a child of parent when parent is
	// non-nil, otherwise of whatever span ctx carries.
	Start(ctx context.Context, name string, parent *Span, attrs ...attribute.KeyValue) *Span

	// Null reports whether spans from this tracer are discarded.
	Null() bool
}

// NewTracer returns a Tracer that records spans on tp.
func NewTracer(tp oteltrace.TracerProvider) Tracer {
	return &otelTracer{
		tracer: tp.Tracer(ScopeName, oteltrace.WithInstrumentationVersion("1.0.0")),
	}
}

type otelTracer struct {
	tracer oteltrace.Tracer
}

var _ Tracer = (*otelTracer)(nil)

func (t *otelTracer) Start(ctx context.Context, name string, parent *Span, attrs ...attribute.KeyValue) *Span {
	if parent != nil {
		ctx = parent.Context()
	}
	s := newSpan(ctx, name)

	spanCtx, span := ctx, oteltrace.Span(noop.Span{})
	contain(ctx, name, "start", func() {
		spanCtx, span = t.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
	})
	return s.activate(spanCtx, span)
}

func (t *otelTracer) Null() bool { return false }

// Null returns the tracer used when no backend is available.
// Its spans follow the normal lifecycle but record nothing.
func Null() Tracer { return nullTracer{} }

type nullTracer struct{}

var _ Tracer = nullTracer{}

func (nullTracer) Start(ctx context.Context, name string, parent *Span, _ ...attribute.KeyValue) *Span {
	if parent != nil {
		ctx = parent.Context()
	}
	return newSpan(ctx, name).activate(ctx, noop.Span{})
}

func (nullTracer) Null() bool { return true }
