/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrBackendUnavailable is returned by a ProviderFactory that has no backend to offer.
	ErrBackendUnavailable = errors.New("tracing backend unavailable")

	// ErrTelemetryDisabled is logged when EnvConfig disables telemetry.
	ErrTelemetryDisabled = errors.New("telemetry disabled by configuration")
)

// EnvConfig is the process environment consulted on first resolution.
type EnvConfig struct {
	Disabled     bool              `env:"AGENTSPANS_TELEMETRY_DISABLED,default=false"`
	OTLPEndpoint string            `env:"AGENTSPANS_OTLP_ENDPOINT"`
	OTLPHeaders  map[string]string `env:"AGENTSPANS_OTLP_HEADERS"`
	Insecure     bool              `env:"AGENTSPANS_OTLP_INSECURE,default=false"`
	ServiceName  string            `env:"AGENTSPANS_SERVICE_NAME,default=agentspans"`
	BatchExport  bool              `env:"AGENTSPANS_BATCH_EXPORT,default=true"`
}

// ProviderFactory builds the TracerProvider behind the resolved Tracer.
// The returned shutdown func flushes and releases it; it may be nil.
type ProviderFactory func(ctx context.Context, cfg EnvConfig) (oteltrace.TracerProvider, func(context.Context) error, error)

type resolution struct {
	tracer   Tracer
	shutdown func(context.Context) error
}

var (
	resolved     atomic.Pointer[resolution]
	resolveGroup singleflight.Group

	factoryMu sync.Mutex
	factory   ProviderFactory = OTLPProvider
)

// SetProviderFactory replaces the factory consulted on first resolution.
// It has no effect once Resolve has cached a Tracer.
func SetProviderFactory(f ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factory = f
}

func currentFactory() ProviderFactory {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	return factory
}

// Resolve returns the process-wide Tracer, resolving it on first use.
// Concurrent first calls share one resolution attempt.
func Resolve(ctx context.Context) Tracer {
	if r := resolved.Load(); r != nil {
		return r.tracer
	}
	v, _, _ := resolveGroup.Do("tracer", func() (any, error) {
		if r := resolved.Load(); r != nil {
			return r, nil
		}
		r := load(ctx)
		resolved.Store(r)
		return r, nil
	})
	return v.(*resolution).tracer
}

func load(ctx context.Context) *resolution {
	log := clog.FromContext(ctx)

	var cfg EnvConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Warnf("Failed to process telemetry environment, tracing disabled: %v", err)
		return &resolution{tracer: Null()}
	}
	if cfg.Disabled {
		log.Debugf("Using null tracer: %v", ErrTelemetryDisabled)
		return &resolution{tracer: Null()}
	}

	tp, shutdown, err := currentFactory()(ctx, cfg)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			log.Debugf("Using null tracer: %v", err)
		} else {
			log.Warnf("Failed to build tracing backend, tracing disabled: %v", err)
		}
		return &resolution{tracer: Null()}
	}
	if tp == nil {
		return &resolution{tracer: Null()}
	}
	log.With("service", cfg.ServiceName).Info("Tracing backend resolved")
	return &resolution{tracer: NewTracer(tp), shutdown: shutdown}
}

// Shutdown flushes the resolved backend, if any.
func Shutdown(ctx context.Context) error {
	r := resolved.Load()
	if r == nil || r.shutdown == nil {
		return nil
	}
	if err := r.shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down tracer provider: %w", err)
	}
	return nil
}

// ResetForTesting clears the cached resolution and restores the default factory.
func ResetForTesting() {
	resolved.Store(nil)
	SetProviderFactory(OTLPProvider)
}

// GlobalProvider is a ProviderFactory that uses the provider installed with
// otel.SetTracerProvider.
func GlobalProvider(context.Context, EnvConfig) (oteltrace.TracerProvider, func(context.Context) error, error) {
	return otel.GetTracerProvider(), nil, nil
}

// OTLPProvider is the default ProviderFactory. It exports spans over OTLP/HTTP
// to cfg.OTLPEndpoint and returns ErrBackendUnavailable when none is configured.
func OTLPProvider(ctx context.Context, cfg EnvConfig) (oteltrace.TracerProvider, func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil, fmt.Errorf("%w: AGENTSPANS_OTLP_ENDPOINT not set", ErrBackendUnavailable)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint)}
	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	processor := sdktrace.WithBatcher(exporter)
	if !cfg.BatchExport {
		processor = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithSampler(FilteringSampler(sdktrace.ParentBased(sdktrace.AlwaysSample()))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	return tp, tp.Shutdown, nil
}
