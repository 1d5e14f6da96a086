// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Component Lifecycle
// =============================================================================

var (
	// initDuration measures wall-clock duration of component construction.
	// Labels: component, status (ready, failed)
	initDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kodiak",
		Subsystem: "lifecycle",
		Name:      "init_duration_seconds",
		Help:      "Component construction duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"component", "status"})

	// initRetries counts construction retry attempts.
	// Labels: component
	initRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kodiak",
		Subsystem: "lifecycle",
		Name:      "init_retries_total",
		Help:      "Total component construction retries",
	}, []string{"component"})

	// initTimeouts counts construction attempts that hit their timeout.
	// Labels: component
	initTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kodiak",
		Subsystem: "lifecycle",
		Name:      "init_timeouts_total",
		Help:      "Total component construction timeouts",
	}, []string{"component"})

	// fallbackSubstitutions counts degraded fallback substitutions.
	// Labels: component, reason (cycle, construction_failure)
	fallbackSubstitutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kodiak",
		Subsystem: "lifecycle",
		Name:      "fallbacks_total",
		Help:      "Total fallback substitutions for failed or cyclic construction",
	}, []string{"component", "reason"})

	// stateTransitions counts state machine transitions by target state.
	// Labels: component, to
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kodiak",
		Subsystem: "lifecycle",
		Name:      "state_transitions_total",
		Help:      "Total component state transitions by target state",
	}, []string{"component", "to"})

	// cacheHits counts registry reads served from the resolved-value cache.
	// Labels: component
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kodiak",
		Subsystem: "lifecycle",
		Name:      "cache_hits_total",
		Help:      "Total registry reads served from cache",
	}, []string{"component"})

	// healthDegradations counts READY components demoted by the tracker.
	// Labels: component
	healthDegradations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kodiak",
		Subsystem: "health",
		Name:      "degradations_total",
		Help:      "Total health-threshold degradations of ready components",
	}, []string{"component"})

	// healthChecks counts completed background health-check sweeps.
	healthChecks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kodiak",
		Subsystem: "health",
		Name:      "checks_total",
		Help:      "Total completed background health-check sweeps",
	})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordInitDuration records the duration of a settled construction.
//
// Inputs:
//
//	component - The component or step name.
//	status - "ready" or "failed".
//	durationSec - Duration in seconds.
func RecordInitDuration(component, status string, durationSec float64) {
	initDuration.WithLabelValues(component, status).Observe(durationSec)
}

// RecordInitRetry records one construction retry.
func RecordInitRetry(component string) {
	initRetries.WithLabelValues(component).Inc()
}

// RecordInitTimeout records one construction attempt hitting its timeout.
func RecordInitTimeout(component string) {
	initTimeouts.WithLabelValues(component).Inc()
}

// RecordFallback records a fallback substitution.
//
// Inputs:
//
//	component - The component name.
//	reason - "cycle" or "construction_failure".
func RecordFallback(component, reason string) {
	fallbackSubstitutions.WithLabelValues(component, reason).Inc()
}

// RecordStateTransition records a state machine transition.
func RecordStateTransition(component string, to ComponentState) {
	stateTransitions.WithLabelValues(component, string(to)).Inc()
}

// RecordCacheHit records a registry read served from cache.
func RecordCacheHit(component string) {
	cacheHits.WithLabelValues(component).Inc()
}

// RecordDegradation records a health-threshold demotion.
func RecordDegradation(component string) {
	healthDegradations.WithLabelValues(component).Inc()
}

// RecordHealthCheck records one completed health-check sweep.
func RecordHealthCheck() {
	healthChecks.Inc()
}
