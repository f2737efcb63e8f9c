/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestResolveDisabled(t *testing.T) {
	t.Cleanup(ResetForTesting)
	ResetForTesting()
	t.Setenv("AGENTSPANS_TELEMETRY_DISABLED", "true")

	called := false
	SetProviderFactory(func(context.Context, EnvConfig) (oteltrace.TracerProvider, func(context.Context) error, error) {
		called = true
		return sdktrace.NewTracerProvider(), nil, nil
	})

	if !Resolve(context.Background()).Null() {
		t.Error("Resolve: got real tracer, wanted Null")
	}
	if called {
		t.Error("provider factory called while telemetry disabled")
	}
}

func TestResolveNoEndpoint(t *testing.T) {
	t.Cleanup(ResetForTesting)
	ResetForTesting()
	t.Setenv("AGENTSPANS_OTLP_ENDPOINT", "")

	if !Resolve(context.Background()).Null() {
		t.Error("Resolve: got real tracer, wanted Null")
	}
}

func TestResolveFactoryError(t *testing.T) {
	t.Cleanup(ResetForTesting)
	ResetForTesting()
	SetProviderFactory(func(context.Context, EnvConfig) (oteltrace.TracerProvider, func(context.Context) error, error) {
		return nil, nil, errors.New("no collector")
	})

	if !Resolve(context.Background()).Null() {
		t.Error("Resolve: got real tracer, wanted Null")
	}
}

func TestResolveOnce(t *testing.T) {
	t.Cleanup(ResetForTesting)
	ResetForTesting()

	exporter := tracetest.NewInMemoryExporter()
	var calls atomic.Int32
	var shutdowns atomic.Int32
	SetProviderFactory(func(_ context.Context, cfg EnvConfig) (oteltrace.TracerProvider, func(context.Context) error, error) {
		calls.Add(1)
		if got, wanted := cfg.ServiceName, "agentspans"; got != wanted {
			t.Errorf("ServiceName: got = %q, wanted = %q", got, wanted)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		return tp, func(ctx context.Context) error {
			shutdowns.Add(1)
			return tp.Shutdown(ctx)
		}, nil
	})

	var wg sync.WaitGroup
	tracers := make([]Tracer, 16)
	for i := range tracers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracers[i] = Resolve(context.Background())
		}()
	}
	wg.Wait()

	if got, wanted := calls.Load(), int32(1); got != wanted {
		t.Errorf("factory calls: got = %d, wanted = %d", got, wanted)
	}
	for i, tr := range tracers {
		if tr != tracers[0] {
			t.Errorf("tracer %d: got a different instance", i)
		}
		if tr.Null() {
			t.Errorf("tracer %d: got Null, wanted real", i)
		}
	}

	// Later factory changes do not re-resolve.
	SetProviderFactory(func(context.Context, EnvConfig) (oteltrace.TracerProvider, func(context.Context) error, error) {
		calls.Add(1)
		return nil, nil, ErrBackendUnavailable
	})
	if Resolve(context.Background()).Null() {
		t.Error("Resolve after factory change: got Null, wanted cached real tracer")
	}

	span := Resolve(context.Background()).Start(context.Background(), "resolved", nil)
	span.End(StatusOK())
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got, wanted := shutdowns.Load(), int32(1); got != wanted {
		t.Errorf("shutdowns: got = %d, wanted = %d", got, wanted)
	}
	if got, wanted := len(exporter.GetSpans()), 1; got != wanted {
		t.Errorf("exported spans: got = %d, wanted = %d", got, wanted)
	}
}

func TestShutdownUnresolved(t *testing.T) {
	t.Cleanup(ResetForTesting)
	ResetForTesting()
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: got = %v, wanted nil", err)
	}
}

func TestOTLPProviderRequiresEndpoint(t *testing.T) {
	_, _, err := OTLPProvider(context.Background(), EnvConfig{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("OTLPProvider: got = %v, wanted ErrBackendUnavailable", err)
	}
}

func TestOTLPProvider(t *testing.T) {
	tp, shutdown, err := OTLPProvider(context.Background(), EnvConfig{
		OTLPEndpoint: "http://127.0.0.1:4318/v1/traces",
		Insecure:     true,
		ServiceName:  "test",
		OTLPHeaders:  map[string]string{"x-app": "agentspans"},
	})
	if err != nil {
		t.Fatalf("OTLPProvider: %v", err)
	}
	if tp == nil || shutdown == nil {
		t.Fatal("OTLPProvider: got nil provider or shutdown")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
