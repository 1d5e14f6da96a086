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

import "time"

// ComponentType identifies a managed component. The set is closed: every
// type the factories can construct is declared here, and the identifiers
// are stable for the lifetime of the process.
type ComponentType string

const (
	// ComponentAIClient is the LLM backend client (Ollama or an
	// OpenAI-compatible endpoint).
	ComponentAIClient ComponentType = "aiClient"

	// ComponentProjectContext is the workspace file index.
	ComponentProjectContext ComponentType = "projectContext"

	// ComponentTaskPlanner synthesizes multi-step plans for a request.
	ComponentTaskPlanner ComponentType = "taskPlanner"

	// ComponentIntentAnalyzer classifies user input into intents.
	ComponentIntentAnalyzer ComponentType = "intentAnalyzer"

	// ComponentConversationManager persists and recalls chat history.
	ComponentConversationManager ComponentType = "conversationManager"

	// ComponentAdvancedContextManager assembles token-budgeted prompt
	// context from the project index and conversation history.
	ComponentAdvancedContextManager ComponentType = "advancedContextManager"

	// ComponentNaturalLanguageRouter dispatches classified intents to
	// their handlers.
	ComponentNaturalLanguageRouter ComponentType = "naturalLanguageRouter"
)

// AllComponentTypes returns every declared component type.
func AllComponentTypes() []ComponentType {
	return []ComponentType{
		ComponentAIClient,
		ComponentProjectContext,
		ComponentTaskPlanner,
		ComponentIntentAnalyzer,
		ComponentConversationManager,
		ComponentAdvancedContextManager,
		ComponentNaturalLanguageRouter,
	}
}

// Valid reports whether t is one of the declared component types.
func (t ComponentType) Valid() bool {
	switch t {
	case ComponentAIClient, ComponentProjectContext, ComponentTaskPlanner,
		ComponentIntentAnalyzer, ComponentConversationManager,
		ComponentAdvancedContextManager, ComponentNaturalLanguageRouter:
		return true
	}
	return false
}

// String returns the stable identifier for the component type.
func (t ComponentType) String() string {
	return string(t)
}

// ComponentState is the lifecycle state of a component as tracked by the
// StateMachine.
type ComponentState string

const (
	// StateNotStarted is the initial state before any request.
	StateNotStarted ComponentState = "NOT_STARTED"

	// StatePendingDependencies is a hint state: every dependency is
	// satisfied and the component could start now. It does not imply an
	// automatic start; construction remains demand-driven.
	StatePendingDependencies ComponentState = "PENDING_DEPENDENCIES"

	// StateInitializing means a construction attempt is in flight.
	StateInitializing ComponentState = "INITIALIZING"

	// StateReady means construction succeeded and the instance is cached.
	StateReady ComponentState = "READY"

	// StateFailed means construction exhausted its retries. A Reset (or a
	// fresh request after the registry drops the failed attempt) returns
	// the component to NOT_STARTED.
	StateFailed ComponentState = "FAILED"

	// StateDegraded means a fallback was substituted for the real
	// component, or the health tracker demoted it after repeated
	// operational failures. Degraded components remain usable and satisfy
	// their dependents.
	StateDegraded ComponentState = "DEGRADED"
)

// AllComponentStates returns every lifecycle state.
func AllComponentStates() []ComponentState {
	return []ComponentState{
		StateNotStarted,
		StatePendingDependencies,
		StateInitializing,
		StateReady,
		StateFailed,
		StateDegraded,
	}
}

// String returns the state name.
func (s ComponentState) String() string {
	return string(s)
}

// Usable reports whether a component in this state can serve its
// dependents. DEGRADED deliberately counts: a partially working
// dependency should not block downstream work indefinitely.
func (s ComponentState) Usable() bool {
	return s == StateReady || s == StateDegraded
}

// StateRecord is the StateMachine's bookkeeping for one component. Records
// are owned by the StateMachine and handed out by value; mutate state only
// through the StateMachine API.
type StateRecord struct {
	Component    ComponentType
	State        ComponentState
	Dependencies []ComponentType
	Dependents   []ComponentType
	LastError    error
	StartedAt    time.Time
	CompletedAt  time.Time
	RetryCount   int
	ChangedAt    time.Time
}

// Elapsed returns the duration of the last completed initialization, or
// zero if the component never completed one.
func (r StateRecord) Elapsed() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
