/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs one Claude agent described by a YAML run file, exporting
// its span tree through the configured tracing backend and its token and tool
// metrics for Prometheus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"chainguard.dev/agentspans/agents/agenttrace"
	"chainguard.dev/agentspans/agents/executor/claudeexecutor"
	"chainguard.dev/agentspans/agents/executor/retry"
	"chainguard.dev/agentspans/agents/metrics"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type config struct {
	APIKey      string     `env:"ANTHROPIC_API_KEY,required"`
	BaseURL     string     `env:"ANTHROPIC_BASE_URL"`
	Model       string     `env:"MODEL,default=claude-sonnet-4-5"`
	MetricsPort int        `env:"METRICS_PORT,default=2112"`
	RunFile     string     `env:"RUN_FILE,required"`
	LogLevel    slog.Level `env:"LOG_LEVEL,default=info"`

	Retry retry.Config `env:",prefix=RETRY_"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}
	ctx = clog.WithLogger(ctx, clog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	rf, err := LoadRunFile(cfg.RunFile)
	if err != nil {
		clog.FatalContextf(ctx, "loading run file: %v", err)
	}
	if rf.Model == "" {
		rf.Model = cfg.Model
	}
	ctx = agenttrace.WithDatasetRun(ctx, rf.Dataset)

	mp, handler, err := metricsPipeline()
	if err != nil {
		clog.FatalContextf(ctx, "setting up metrics: %v", err)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.ErrorContextf(ctx, "metrics server: %v", err)
		}
	}()

	exec, err := newExecutor(cfg, rf)
	if err != nil {
		clog.FatalContextf(ctx, "creating executor: %v", err)
	}

	r := &runner{
		rf:   rf,
		exec: exec,
		metrics: metrics.NewGenAI(ctx, metrics.DefaultMeterName,
			metrics.WithMeterProvider(mp),
			metrics.WithAttributeEnricher(runNameEnricher(rf.Name))),
	}
	output, traceID, runErr := r.run(ctx)

	// The run context may already be cancelled; flushing must still happen.
	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer done()
	if err := agenttrace.Shutdown(shutdownCtx); err != nil {
		clog.WarnContextf(ctx, "flushing spans: %v", err)
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		clog.WarnContextf(ctx, "flushing metrics: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		clog.WarnContextf(ctx, "stopping metrics server: %v", err)
	}

	clog.FromContext(ctx).With("trace_id", traceID).With("mode", rf.Mode).Info("Run finished")
	if runErr != nil {
		clog.FatalContextf(ctx, "run %s (trace %s): %v", rf.Name, traceID, runErr)
	}
	fmt.Println(output)
}

// metricsPipeline returns a meter provider whose readings are served by the
// returned /metrics handler.
func metricsPipeline() (*sdkmetric.MeterProvider, http.Handler, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), mux, nil
}

func newExecutor(cfg config, rf *RunFile) (*claudeexecutor.Executor, error) {
	root, err := os.OpenRoot(rf.Workdir)
	if err != nil {
		return nil, fmt.Errorf("opening workdir: %w", err)
	}
	tools, err := workdirTools(root)
	if err != nil {
		return nil, err
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled by the executor's own backoff.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}

	opts := []claudeexecutor.Option{
		claudeexecutor.WithModel(rf.Model),
		claudeexecutor.WithTools(tools...),
		claudeexecutor.WithRetryConfig(cfg.Retry),
	}
	if rf.SystemPrompt != "" {
		opts = append(opts, claudeexecutor.WithSystemPrompt(rf.SystemPrompt))
	}
	if rf.MaxTurns > 0 {
		opts = append(opts, claudeexecutor.WithMaxTurns(rf.MaxTurns))
	}
	return claudeexecutor.New(anthropic.NewClient(clientOpts...), opts...)
}

// runNameEnricher labels every measurement with the run file's name.
func runNameEnricher(name string) metrics.AttributeEnricher {
	return func(_ context.Context, base []attribute.KeyValue) []attribute.KeyValue {
		return append(slices.Clip(base), attribute.String("run_name", name))
	}
}
