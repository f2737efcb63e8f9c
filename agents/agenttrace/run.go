/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// FallbackTraceID returns a random 32 character lowercase hex id for runs
// that have no backend trace id.
func FallbackTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// TraceOptions configures Run.
type TraceOptions struct {
	// Name is the root span name.
	Name       string
	SessionID  string
	UserID     string
	Metadata   map[string]string
	Dataset    DatasetRun
	Attributes []attribute.KeyValue

	// Tracer overrides the resolved tracer.
	Tracer Tracer
}

// Run calls fn inside a root span named opts.Name and returns fn's result
// together with the trace id. The span ends Ok when fn succeeds and Error
// otherwise; a panic in fn ends it with Error before propagating.
func Run[T any](ctx context.Context, opts TraceOptions, fn func(context.Context, *Span) (T, error)) (T, string, error) {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = Resolve(ctx)
	}

	if opts.Dataset.IsZero() {
		opts.Dataset = GetDatasetRun(ctx)
	}
	attrs := append([]attribute.KeyValue{}, opts.Attributes...)
	if opts.SessionID != "" {
		attrs = append(attrs, attribute.String(KeySessionID, opts.SessionID))
	}
	if opts.UserID != "" {
		attrs = append(attrs, attribute.String(KeyUserID, opts.UserID))
	}
	attrs = append(attrs, MetadataAttributes(opts.Metadata)...)
	attrs = append(attrs, opts.Dataset.Attributes()...)

	span := tracer.Start(ctx, opts.Name, nil, attrs...)
	traceID := span.TraceID()
	if tracer.Null() || traceID == "" {
		traceID = FallbackTraceID()
	}

	ended := false
	defer func() {
		if !ended {
			span.End(StatusError("panic"))
		}
	}()

	result, err := fn(span.Context(), span)
	ended = true
	if err != nil {
		span.RecordError(err)
		span.End(StatusError(err.Error()))
		return result, traceID, err
	}
	span.End(StatusOK())
	return result, traceID, nil
}
