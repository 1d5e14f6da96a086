// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func initPrometheusMetrics(t *testing.T) {
	t.Helper()
	clearTelemetryEnv(t)

	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })
}

func TestNewMetrics(t *testing.T) {
	initPrometheusMetrics(t)

	meter := otel.Meter("test_metrics")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	instruments := []struct {
		name string
		v    any
	}{
		{"ComponentInitsTotal", metrics.ComponentInitsTotal},
		{"ComponentInitDuration", metrics.ComponentInitDuration},
		{"ComponentFallbacksTotal", metrics.ComponentFallbacksTotal},
		{"LLMRequestsTotal", metrics.LLMRequestsTotal},
		{"LLMRequestDuration", metrics.LLMRequestDuration},
		{"LLMFirstTokenDuration", metrics.LLMFirstTokenDuration},
		{"LLMTokensTotal", metrics.LLMTokensTotal},
		{"ConversationTurnsTotal", metrics.ConversationTurnsTotal},
		{"ProjectScansTotal", metrics.ProjectScansTotal},
		{"ProjectScanDuration", metrics.ProjectScanDuration},
		{"ProjectFilesIndexed", metrics.ProjectFilesIndexed},
		{"WatcherEventsTotal", metrics.WatcherEventsTotal},
		{"HTTPRequestsTotal", metrics.HTTPRequestsTotal},
		{"HTTPRequestDuration", metrics.HTTPRequestDuration},
		{"HTTPActiveRequests", metrics.HTTPActiveRequests},
		{"ErrorsTotal", metrics.ErrorsTotal},
	}

	for _, inst := range instruments {
		if inst.v == nil {
			t.Errorf("%s is nil", inst.name)
		}
	}
}

func TestMetrics_RecordInstruments(t *testing.T) {
	initPrometheusMetrics(t)

	meter := otel.Meter("test_metrics_record")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()

	metrics.ComponentInitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", "aiClient"),
		attribute.String("status", "ready"),
	))
	metrics.ComponentInitDuration.Record(ctx, 0.42, metric.WithAttributes(
		attribute.String("component", "aiClient"),
	))
	metrics.LLMRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", "ollama"),
		attribute.String("model", "qwen2.5-coder"),
		attribute.String("status", "ok"),
	))
	metrics.LLMTokensTotal.Add(ctx, 128, metric.WithAttributes(
		attribute.String("provider", "ollama"),
		attribute.String("kind", "completion"),
	))
	metrics.ProjectScansTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", "ok"),
	))
	metrics.HTTPActiveRequests.Add(ctx, 1)
	metrics.HTTPActiveRequests.Add(ctx, -1)
	metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", "aiClient"),
		attribute.String("category", "connection"),
	))
}

func TestMetrics_RegisterComponentStates(t *testing.T) {
	initPrometheusMetrics(t)

	meter := otel.Meter("test_metrics_states")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	reg, err := metrics.RegisterComponentStates(meter, func() map[string]int64 {
		return map[string]int64{
			"ready":    5,
			"degraded": 1,
			"failed":   0,
		}
	})
	if err != nil {
		t.Fatalf("RegisterComponentStates() error = %v", err)
	}
	if metrics.ComponentsByState == nil {
		t.Error("ComponentsByState is nil after registration")
	}

	if err := reg.Unregister(); err != nil {
		t.Errorf("Unregister() error = %v", err)
	}
}
