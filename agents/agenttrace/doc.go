/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package agenttrace provides the span primitives used to trace AI agent runs.

# Overview

This package contains the foundational types shared by the stream-driven
(invocation) and hook-driven (session) tracers:

  - Tracer: the tracing capability, backed by OpenTelemetry or a Null implementation
  - Span: a handle obeying the Pending -> Active -> Ended lifecycle
  - TraceContext: per-run state (root, current turn, pending tool and subagent spans)
  - DatasetRun: dataset correlation fields carried as span attributes

# Resolution

Resolve returns the process-wide Tracer. The first call loads EnvConfig and
asks the registered ProviderFactory for a TracerProvider; concurrent callers
share one in-flight attempt. When telemetry is disabled, or the backend cannot
be built, the Null tracer is cached instead and every span it hands out is a
no-op.

	tracer := agenttrace.Resolve(ctx)
	root := tracer.Start(ctx, "invoke_agent summarize", nil,
		attribute.String(agenttrace.KeyPromptName, "summarize"))
	defer root.End(agenttrace.StatusOK())

# Containment

Every backend call a Span makes is wrapped so that a panic inside the tracing
backend is logged and dropped. Instrumentation never aborts the traced work.

# Testing

Tests can construct a Tracer directly over an SDK provider:

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := agenttrace.NewTracer(tp)

ResetForTesting clears the cached resolution so that a test can exercise
Resolve under a different environment.
*/
package agenttrace
