/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// FilteredAttributeKeys mark framework-internal spans that are never exported.
var FilteredAttributeKeys = []attribute.Key{
	"next.span_name",
	"next.clientComponentLoadCount",
}

// FilteringSampler drops spans that carry any FilteredAttributeKeys and
// defers every other decision to next.
func FilteringSampler(next sdktrace.Sampler) sdktrace.Sampler {
	return filteringSampler{next: next}
}

type filteringSampler struct {
	next sdktrace.Sampler
}

func (s filteringSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		for _, k := range FilteredAttributeKeys {
			if kv.Key == k {
				return sdktrace.SamplingResult{
					Decision:   sdktrace.Drop,
					Tracestate: oteltrace.SpanContextFromContext(p.ParentContext).TraceState(),
				}
			}
		}
	}
	return s.next.ShouldSample(p)
}

func (s filteringSampler) Description() string {
	return "FilteringSampler{" + s.next.Description() + "}"
}
