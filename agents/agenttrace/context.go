/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// DatasetRun correlates a traced run with a dataset evaluation item.
type DatasetRun struct {
	RunID          string `json:"dataset_run_id,omitempty" yaml:"runId,omitempty"`
	RunName        string `json:"dataset_run_name,omitempty" yaml:"runName,omitempty"`
	ItemName       string `json:"dataset_item_name,omitempty" yaml:"itemName,omitempty"`
	ExpectedOutput string `json:"dataset_expected_output,omitempty" yaml:"expectedOutput,omitempty"`
	Path           string `json:"dataset_path,omitempty" yaml:"path,omitempty"`
}

// IsZero reports whether no dataset field is set.
func (d DatasetRun) IsZero() bool {
	return d == DatasetRun{}
}

// Attributes returns span attributes for the populated fields.
func (d DatasetRun) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	add := func(k, v string) {
		if v != "" {
			attrs = append(attrs, attribute.String(k, v))
		}
	}
	add(KeyDatasetRunID, d.RunID)
	add(KeyDatasetRunName, d.RunName)
	add(KeyDatasetItemName, d.ItemName)
	add(KeyDatasetExpected, d.ExpectedOutput)
	add(KeyDatasetPath, d.Path)
	return attrs
}

// EnrichAttributes appends the bounded dataset labels to baseAttrs for metrics.
// Item names and expected outputs stay on spans only.
func (d DatasetRun) EnrichAttributes(baseAttrs []attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, len(baseAttrs), len(baseAttrs)+1)
	copy(attrs, baseAttrs)
	if d.RunName != "" {
		attrs = append(attrs, attribute.String("dataset_run", d.RunName))
	}
	return attrs
}

type contextKey string

const datasetRunKey contextKey = "dataset_run"

// WithDatasetRun attaches dataset correlation to ctx.
func WithDatasetRun(ctx context.Context, d DatasetRun) context.Context {
	return context.WithValue(ctx, datasetRunKey, d)
}

// GetDatasetRun returns the dataset correlation attached to ctx, if any.
func GetDatasetRun(ctx context.Context) DatasetRun {
	if d, ok := ctx.Value(datasetRunKey).(DatasetRun); ok {
		return d
	}
	return DatasetRun{}
}

// MetadataAttributes renders each metadata entry as its own attribute under
// KeyTraceMetadataPrefix.
func MetadataAttributes(md map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(md))
	for k, v := range md {
		attrs = append(attrs, attribute.String(KeyTraceMetadataPrefix+k, v))
	}
	return attrs
}
