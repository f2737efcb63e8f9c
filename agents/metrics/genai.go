/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"sync"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// DefaultMeterName is the meter used by Default.
const DefaultMeterName = "agentspans"

// Tool call statuses.
const (
	StatusOK     = "ok"
	StatusError  = "error"
	StatusForced = "forced"
)

// GenAI records counters for traced agent runs: token usage, tool calls,
// turns, finished runs and spans that had to be force-closed.
// Counters that fail to initialize degrade to no-ops.
type GenAI struct {
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	toolCalls        metric.Int64Counter
	turns            metric.Int64Counter
	runs             metric.Int64Counter
	forcedCloses     metric.Int64Counter
	attrEnricher     AttributeEnricher
}

// Option configures NewGenAI.
type Option func(*options)

type options struct {
	provider metric.MeterProvider
	enricher AttributeEnricher
}

// WithMeterProvider records on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.provider = mp }
}

// WithAttributeEnricher sets the enricher applied before every recording.
func WithAttributeEnricher(e AttributeEnricher) Option {
	return func(o *options) { o.enricher = e }
}

// NewGenAI creates the counters on the named meter.
func NewGenAI(ctx context.Context, meterName string, opts ...Option) *GenAI {
	o := options{provider: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.provider.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			clog.WarnContextf(ctx, "Failed to create %s counter on meter %s, metric disabled: %v", name, meterName, err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &GenAI{
		promptTokens:     counter("genai.token.prompt", "The number of prompt tokens used", "{tokens}"),
		completionTokens: counter("genai.token.completion", "The number of completion tokens used", "{tokens}"),
		toolCalls:        counter("genai.tool.calls", "The number of tool calls traced", "{calls}"),
		turns:            counter("genai.turns", "The number of conversational turns traced", "{turns}"),
		runs:             counter("agentspans.runs", "The number of traced runs that finished", "{runs}"),
		forcedCloses:     counter("agentspans.spans.forced_closed", "The number of spans closed because no terminal event arrived", "{spans}"),
		attrEnricher:     o.enricher,
	}
}

var defaultGenAI = sync.OnceValue(func() *GenAI {
	return NewGenAI(context.Background(), DefaultMeterName)
})

// Default returns a process-wide GenAI recording on the global meter provider.
func Default() *GenAI { return defaultGenAI() }

func (m *GenAI) attributes(ctx context.Context, base []attribute.KeyValue, extra []attribute.KeyValue) metric.MeasurementOption {
	if m.attrEnricher != nil {
		base = m.attrEnricher(ctx, base)
	}
	return metric.WithAttributes(append(base, extra...)...)
}

// RecordTokens records prompt and completion token usage.
func (m *GenAI) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64, attrs ...attribute.KeyValue) {
	opt := m.attributes(ctx, []attribute.KeyValue{attribute.String("model", model)}, attrs)
	m.promptTokens.Add(ctx, promptTokens, opt)
	m.completionTokens.Add(ctx, completionTokens, opt)
}

// RecordToolCall records one finished tool call with its status.
func (m *GenAI) RecordToolCall(ctx context.Context, model, toolName, status string, attrs ...attribute.KeyValue) {
	m.toolCalls.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("tool", toolName),
		attribute.String("status", status),
	}, attrs))
}

// RecordTurn records one opened turn.
func (m *GenAI) RecordTurn(ctx context.Context, model string, attrs ...attribute.KeyValue) {
	m.turns.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{attribute.String("model", model)}, attrs))
}

// RecordRun records a finished run. kind is "invocation" or "session".
func (m *GenAI) RecordRun(ctx context.Context, kind, status string, attrs ...attribute.KeyValue) {
	m.runs.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("status", status),
	}, attrs))
}

// RecordForcedClose records n spans of the given kind ("turn", "tool",
// "subagent" or "root") closed without their terminal event.
func (m *GenAI) RecordForcedClose(ctx context.Context, kind string, n int, attrs ...attribute.KeyValue) {
	if n <= 0 {
		return
	}
	m.forcedCloses.Add(ctx, int64(n), m.attributes(ctx, []attribute.KeyValue{attribute.String("kind", kind)}, attrs))
}
