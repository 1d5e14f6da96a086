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
	"context"
	"time"
)

// Timeout and retry constants for component construction.
//
// Every construction attempt is bounded: if a caller supplies no timeout
// and a component type has no entry in the default table, the global
// default applies. Minimums prevent misconfiguration from producing
// effectively unbounded or busy-spinning waits.
const (
	// DefaultComponentTimeout bounds a single construction attempt when
	// no per-type default or per-call override applies.
	DefaultComponentTimeout = 30 * time.Second

	// MinComponentTimeout is the absolute minimum construction timeout.
	MinComponentTimeout = 100 * time.Millisecond

	// DefaultComponentRetries is the retry count applied when a component
	// type has no entry in the default table. Attempts = retries + 1.
	DefaultComponentRetries = 1

	// RetryBackoffBase is the delay before the first retry. The delay
	// doubles on each subsequent retry.
	RetryBackoffBase = 200 * time.Millisecond

	// RetryBackoffMax caps the doubled backoff delay.
	RetryBackoffMax = 5 * time.Second

	// DependencyPollInterval is how often the enhanced factory and the
	// streaming initializer re-check a pending dependency's state.
	DependencyPollInterval = 100 * time.Millisecond

	// DefaultDependencyWait bounds how long a single dependency may stay
	// unsatisfied before the waiter gives up.
	DefaultDependencyWait = 30 * time.Second
)

// Per-component default construction timeouts. The AI client and project
// context get larger budgets: the first may pull model metadata from a
// cold Ollama daemon, the second walks the workspace tree.
const (
	AIClientInitTimeout               = 15 * time.Second
	ProjectContextInitTimeout         = 20 * time.Second
	TaskPlannerInitTimeout            = 10 * time.Second
	IntentAnalyzerInitTimeout         = 10 * time.Second
	ConversationManagerInitTimeout    = 10 * time.Second
	AdvancedContextManagerInitTimeout = 10 * time.Second
	NaturalLanguageRouterInitTimeout  = 10 * time.Second
)

// Per-component default retry counts.
const (
	AIClientInitRetries               = 2
	ProjectContextInitRetries         = 2
	TaskPlannerInitRetries            = 1
	IntentAnalyzerInitRetries         = 1
	ConversationManagerInitRetries    = 1
	AdvancedContextManagerInitRetries = 1
	NaturalLanguageRouterInitRetries  = 1
)

var defaultTimeouts = map[ComponentType]time.Duration{
	ComponentAIClient:               AIClientInitTimeout,
	ComponentProjectContext:         ProjectContextInitTimeout,
	ComponentTaskPlanner:            TaskPlannerInitTimeout,
	ComponentIntentAnalyzer:         IntentAnalyzerInitTimeout,
	ComponentConversationManager:    ConversationManagerInitTimeout,
	ComponentAdvancedContextManager: AdvancedContextManagerInitTimeout,
	ComponentNaturalLanguageRouter:  NaturalLanguageRouterInitTimeout,
}

var defaultRetries = map[ComponentType]int{
	ComponentAIClient:               AIClientInitRetries,
	ComponentProjectContext:         ProjectContextInitRetries,
	ComponentTaskPlanner:            TaskPlannerInitRetries,
	ComponentIntentAnalyzer:         IntentAnalyzerInitRetries,
	ComponentConversationManager:    ConversationManagerInitRetries,
	ComponentAdvancedContextManager: AdvancedContextManagerInitRetries,
	ComponentNaturalLanguageRouter:  NaturalLanguageRouterInitRetries,
}

// DefaultTimeoutFor returns the default construction timeout for a
// component type, falling back to DefaultComponentTimeout for types
// without a table entry.
func DefaultTimeoutFor(t ComponentType) time.Duration {
	if d, ok := defaultTimeouts[t]; ok {
		return d
	}
	return DefaultComponentTimeout
}

// DefaultRetriesFor returns the default retry count for a component type,
// falling back to DefaultComponentRetries for types without a table entry.
func DefaultRetriesFor(t ComponentType) int {
	if n, ok := defaultRetries[t]; ok {
		return n
	}
	return DefaultComponentRetries
}

// EnforceMinTimeout raises zero, negative, or sub-minimum timeouts to the
// minimum. Prevents a misconfigured timeout from hanging construction.
func EnforceMinTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return DefaultComponentTimeout
	}
	if requested < MinComponentTimeout {
		return MinComponentTimeout
	}
	return requested
}

// nextBackoff doubles the delay, capped at RetryBackoffMax.
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > RetryBackoffMax {
		return RetryBackoffMax
	}
	return next
}

// sleepWithContext sleeps for d unless the context is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
