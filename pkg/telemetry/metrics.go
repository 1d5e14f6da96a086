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
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the Kodiak CLI.
//
// Description:
//
//	Provides standard counters, histograms, and gauges for component
//	lifecycle, LLM requests, project scanning, and the diagnostics
//	server. All metrics use the "kodiak_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Component Lifecycle Metrics ---

	// ComponentInitsTotal counts component initializations by component and status.
	ComponentInitsTotal metric.Int64Counter

	// ComponentInitDuration records component initialization duration in seconds.
	ComponentInitDuration metric.Float64Histogram

	// ComponentFallbacksTotal counts fallback activations by component.
	ComponentFallbacksTotal metric.Int64Counter

	// --- LLM Metrics ---

	// LLMRequestsTotal counts LLM requests by provider, model, and status.
	LLMRequestsTotal metric.Int64Counter

	// LLMRequestDuration records LLM request duration in seconds.
	LLMRequestDuration metric.Float64Histogram

	// LLMFirstTokenDuration records time to first streamed token in seconds.
	LLMFirstTokenDuration metric.Float64Histogram

	// LLMTokensTotal counts tokens by provider and kind (prompt, completion, thinking).
	LLMTokensTotal metric.Int64Counter

	// --- Conversation Metrics ---

	// ConversationTurnsTotal counts conversation turns by role.
	ConversationTurnsTotal metric.Int64Counter

	// --- Project Metrics ---

	// ProjectScansTotal counts project scans by status.
	ProjectScansTotal metric.Int64Counter

	// ProjectScanDuration records project scan duration in seconds.
	ProjectScanDuration metric.Float64Histogram

	// ProjectFilesIndexed counts files indexed by language.
	ProjectFilesIndexed metric.Int64Counter

	// WatcherEventsTotal counts file watcher events by operation.
	WatcherEventsTotal metric.Int64Counter

	// --- Diagnostics Server Metrics ---

	// HTTPRequestsTotal counts diagnostics requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records diagnostics request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active diagnostics requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Error Metrics ---

	// ErrorsTotal counts errors by component and category.
	ErrorsTotal metric.Int64Counter

	// ComponentsByState is an observable gauge of component counts per state.
	// Registered via RegisterComponentStates.
	ComponentsByState metric.Int64ObservableGauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("kodiak")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.LLMRequestsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- Component Lifecycle Metrics ---
	m.ComponentInitsTotal, err = meter.Int64Counter(
		"kodiak_component_inits_total",
		metric.WithDescription("Total component initializations"),
		metric.WithUnit("{init}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create component_inits_total: %w", err)
	}

	m.ComponentInitDuration, err = meter.Float64Histogram(
		"kodiak_component_init_duration_seconds",
		metric.WithDescription("Component initialization duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create component_init_duration: %w", err)
	}

	m.ComponentFallbacksTotal, err = meter.Int64Counter(
		"kodiak_component_fallbacks_total",
		metric.WithDescription("Total fallback activations"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create component_fallbacks_total: %w", err)
	}

	// --- LLM Metrics ---
	m.LLMRequestsTotal, err = meter.Int64Counter(
		"kodiak_llm_requests_total",
		metric.WithDescription("Total LLM requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_requests_total: %w", err)
	}

	m.LLMRequestDuration, err = meter.Float64Histogram(
		"kodiak_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_request_duration: %w", err)
	}

	m.LLMFirstTokenDuration, err = meter.Float64Histogram(
		"kodiak_llm_first_token_seconds",
		metric.WithDescription("Time to first streamed token in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_first_token_seconds: %w", err)
	}

	m.LLMTokensTotal, err = meter.Int64Counter(
		"kodiak_llm_tokens_total",
		metric.WithDescription("Total tokens exchanged with LLM providers"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_tokens_total: %w", err)
	}

	// --- Conversation Metrics ---
	m.ConversationTurnsTotal, err = meter.Int64Counter(
		"kodiak_conversation_turns_total",
		metric.WithDescription("Total conversation turns"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation_turns_total: %w", err)
	}

	// --- Project Metrics ---
	m.ProjectScansTotal, err = meter.Int64Counter(
		"kodiak_project_scans_total",
		metric.WithDescription("Total project scans"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create project_scans_total: %w", err)
	}

	m.ProjectScanDuration, err = meter.Float64Histogram(
		"kodiak_project_scan_duration_seconds",
		metric.WithDescription("Project scan duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create project_scan_duration: %w", err)
	}

	m.ProjectFilesIndexed, err = meter.Int64Counter(
		"kodiak_project_files_indexed_total",
		metric.WithDescription("Total files indexed"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create project_files_indexed: %w", err)
	}

	m.WatcherEventsTotal, err = meter.Int64Counter(
		"kodiak_watcher_events_total",
		metric.WithDescription("Total file watcher events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create watcher_events_total: %w", err)
	}

	// --- Diagnostics Server Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"kodiak_http_requests_total",
		metric.WithDescription("Total diagnostics HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"kodiak_http_request_duration_seconds",
		metric.WithDescription("Diagnostics HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"kodiak_http_active_requests",
		metric.WithDescription("Currently active diagnostics HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"kodiak_errors_total",
		metric.WithDescription("Total errors by component and category"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	// Note: ComponentsByState requires a callback registration, handled separately

	return m, nil
}

// RegisterComponentStates registers a callback for the component state gauge.
//
// Description:
//
//	Sets up an observable gauge that reports how many components sit in
//	each lifecycle state. The callback is invoked on each scrape and the
//	returned map keys become the "state" attribute.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	statesFunc - A function returning component counts keyed by state name.
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
//
// Example:
//
//	reg, err := metrics.RegisterComponentStates(meter, func() map[string]int64 {
//	    return tracker.StateCounts()
//	})
//
// Thread Safety: Safe for concurrent use.
func (m *Metrics) RegisterComponentStates(meter metric.Meter, statesFunc func() map[string]int64) (metric.Registration, error) {
	var err error
	m.ComponentsByState, err = meter.Int64ObservableGauge(
		"kodiak_components",
		metric.WithDescription("Component count per lifecycle state"),
		metric.WithUnit("{component}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create components gauge: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for state, count := range statesFunc() {
			o.ObserveInt64(m.ComponentsByState, count,
				metric.WithAttributes(attribute.String("state", state)))
		}
		return nil
	}, m.ComponentsByState)
}
