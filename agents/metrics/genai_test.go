/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// sum returns the total of the named counter over data points carrying every kv in match.
func sum(rm metricdata.ResourceMetrics, name string, match ...attribute.KeyValue) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
		points:
			for _, dp := range data.DataPoints {
				for _, kv := range match {
					if v, ok := dp.Attributes.Value(kv.Key); !ok || v != kv.Value {
						continue points
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func newTestGenAI(t *testing.T, opts ...Option) (*GenAI, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return NewGenAI(context.Background(), "test", append(opts, WithMeterProvider(mp))...), reader
}

func TestRecordTokens(t *testing.T) {
	m, reader := newTestGenAI(t)
	ctx := context.Background()

	m.RecordTokens(ctx, "claude-sonnet-4-5", 10, 5)
	m.RecordTokens(ctx, "claude-sonnet-4-5", 3, 1, attribute.String("prompt_name", "summarize"))

	rm := collect(t, reader)
	model := attribute.String("model", "claude-sonnet-4-5")
	if got, wanted := sum(rm, "genai.token.prompt", model), int64(13); got != wanted {
		t.Errorf("prompt tokens: got = %d, wanted = %d", got, wanted)
	}
	if got, wanted := sum(rm, "genai.token.completion", model), int64(6); got != wanted {
		t.Errorf("completion tokens: got = %d, wanted = %d", got, wanted)
	}
	if got, wanted := sum(rm, "genai.token.prompt", attribute.String("prompt_name", "summarize")), int64(3); got != wanted {
		t.Errorf("prompt tokens for summarize: got = %d, wanted = %d", got, wanted)
	}
}

func TestRecordToolCallAndTurns(t *testing.T) {
	m, reader := newTestGenAI(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "m", "Search", StatusOK)
	m.RecordToolCall(ctx, "m", "Search", StatusError)
	m.RecordToolCall(ctx, "m", "Read", StatusForced)
	m.RecordTurn(ctx, "m")
	m.RecordTurn(ctx, "m")
	m.RecordRun(ctx, "invocation", StatusOK)
	m.RecordForcedClose(ctx, "tool", 2)
	m.RecordForcedClose(ctx, "turn", 0)

	rm := collect(t, reader)
	for _, tt := range []struct {
		name  string
		match []attribute.KeyValue
		want  int64
	}{
		{"genai.tool.calls", nil, 3},
		{"genai.tool.calls", []attribute.KeyValue{attribute.String("tool", "Search")}, 2},
		{"genai.tool.calls", []attribute.KeyValue{attribute.String("status", StatusForced)}, 1},
		{"genai.turns", nil, 2},
		{"agentspans.runs", []attribute.KeyValue{attribute.String("kind", "invocation")}, 1},
		{"agentspans.spans.forced_closed", []attribute.KeyValue{attribute.String("kind", "tool")}, 2},
		{"agentspans.spans.forced_closed", []attribute.KeyValue{attribute.String("kind", "turn")}, 0},
	} {
		if got := sum(rm, tt.name, tt.match...); got != tt.want {
			t.Errorf("%s %v: got = %d, wanted = %d", tt.name, tt.match, got, tt.want)
		}
	}
}

func TestAttributeEnricher(t *testing.T) {
	type key struct{}
	enricher := func(ctx context.Context, base []attribute.KeyValue) []attribute.KeyValue {
		if run, ok := ctx.Value(key{}).(string); ok {
			return append(base, attribute.String("dataset_run", run))
		}
		return base
	}
	m, reader := newTestGenAI(t, WithAttributeEnricher(enricher))

	m.RecordTurn(context.WithValue(context.Background(), key{}, "nightly"), "m")
	m.RecordTurn(context.Background(), "m")

	rm := collect(t, reader)
	if got, wanted := sum(rm, "genai.turns", attribute.String("dataset_run", "nightly")), int64(1); got != wanted {
		t.Errorf("enriched turns: got = %d, wanted = %d", got, wanted)
	}
	if got, wanted := sum(rm, "genai.turns"), int64(2); got != wanted {
		t.Errorf("all turns: got = %d, wanted = %d", got, wanted)
	}
}

func TestDefault(t *testing.T) {
	if Default() != Default() {
		t.Error("Default: got different instances")
	}
	// Recording on the global provider must not panic.
	Default().RecordTurn(context.Background(), "m")
}
