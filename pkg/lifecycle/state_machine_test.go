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
	"errors"
	"testing"
)

func newTestMachine() *ComponentStateMachine {
	return NewComponentStateMachine(WithMachineLogger(testLogger()))
}

// =============================================================================
// Transition Table Tests
// =============================================================================

func TestComponentStateMachine_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ComponentState
		to   ComponentState
		want bool
	}{
		{"not started to initializing", StateNotStarted, StateInitializing, true},
		{"not started to pending", StateNotStarted, StatePendingDependencies, true},
		{"not started to ready", StateNotStarted, StateReady, false},
		{"pending to initializing", StatePendingDependencies, StateInitializing, true},
		{"initializing self loop", StateInitializing, StateInitializing, true},
		{"initializing to ready", StateInitializing, StateReady, true},
		{"initializing to failed", StateInitializing, StateFailed, true},
		{"initializing to degraded", StateInitializing, StateDegraded, true},
		{"ready to degraded", StateReady, StateDegraded, true},
		{"ready to initializing", StateReady, StateInitializing, false},
		{"degraded to ready", StateDegraded, StateReady, true},
		{"failed to initializing", StateFailed, StateInitializing, true},
		{"failed to degraded", StateFailed, StateDegraded, true},
		{"failed to ready", StateFailed, StateReady, false},
	}

	m := newTestMachine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// =============================================================================
// CanInitialize / Gating Tests
// =============================================================================

func TestComponentStateMachine_CanInitialize_NoDependencies(t *testing.T) {
	m := newTestMachine()
	if !m.CanInitialize(ComponentAIClient) {
		t.Error("CanInitialize(aiClient) = false, want true for dependency-free component")
	}
}

func TestComponentStateMachine_CanInitialize_UnknownComponent(t *testing.T) {
	m := newTestMachine()
	if m.CanInitialize(ComponentType("bogus")) {
		t.Error("CanInitialize(bogus) = true, want false")
	}
}

func TestComponentStateMachine_CanInitialize_BlockedByDependency(t *testing.T) {
	m := newTestMachine()
	// intentAnalyzer depends on aiClient, which is NOT_STARTED.
	if m.CanInitialize(ComponentIntentAnalyzer) {
		t.Error("CanInitialize(intentAnalyzer) = true with aiClient NOT_STARTED, want false")
	}

	if !m.StartInitialization(ComponentAIClient) {
		t.Fatal("StartInitialization(aiClient) = false, want true")
	}
	// Still blocked: INITIALIZING is not usable.
	if m.CanInitialize(ComponentIntentAnalyzer) {
		t.Error("CanInitialize(intentAnalyzer) = true with aiClient INITIALIZING, want false")
	}

	m.CompleteInitialization(ComponentAIClient)
	if !m.CanInitialize(ComponentIntentAnalyzer) {
		t.Error("CanInitialize(intentAnalyzer) = false with aiClient READY, want true")
	}
}

func TestComponentStateMachine_CanInitialize_DegradedDependencySatisfies(t *testing.T) {
	m := newTestMachine()
	m.StartInitialization(ComponentAIClient)
	m.DegradeComponent(ComponentAIClient, errors.New("fallback in use"))

	if !m.CanInitialize(ComponentIntentAnalyzer) {
		t.Error("CanInitialize(intentAnalyzer) = false with aiClient DEGRADED, want true")
	}
}

func TestComponentStateMachine_CanInitialize_ReadyAndFailedRefuse(t *testing.T) {
	m := newTestMachine()
	m.StartInitialization(ComponentAIClient)
	m.CompleteInitialization(ComponentAIClient)
	if m.CanInitialize(ComponentAIClient) {
		t.Error("CanInitialize = true for READY component, want false")
	}

	m.StartInitialization(ComponentProjectContext)
	m.FailInitialization(ComponentProjectContext, errors.New("nope"))
	if m.CanInitialize(ComponentProjectContext) {
		t.Error("CanInitialize = true for FAILED component, want false")
	}
}

func TestComponentStateMachine_StartInitialization_RefusedWithoutSideEffects(t *testing.T) {
	m := newTestMachine()

	// taskPlanner needs aiClient and projectContext; neither is usable.
	if m.StartInitialization(ComponentTaskPlanner) {
		t.Fatal("StartInitialization(taskPlanner) = true, want false while blocked")
	}
	rec, ok := m.Record(ComponentTaskPlanner)
	if !ok {
		t.Fatal("Record(taskPlanner) missing")
	}
	if rec.State != StateNotStarted {
		t.Errorf("State after refused start = %v, want %v", rec.State, StateNotStarted)
	}
	if !rec.StartedAt.IsZero() {
		t.Error("StartedAt set after refused start, want zero")
	}
}

// A dependent can never reach INITIALIZING while a dependency sits in
// NOT_STARTED or FAILED.
func TestComponentStateMachine_DependentNeverInitializesOverDeadDependency(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(m *ComponentStateMachine)
	}{
		{"dependency not started", func(m *ComponentStateMachine) {}},
		{"dependency failed", func(m *ComponentStateMachine) {
			m.StartInitialization(ComponentAIClient)
			m.FailInitialization(ComponentAIClient, errors.New("down"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine()
			tt.prepare(m)
			if m.StartInitialization(ComponentIntentAnalyzer) {
				t.Fatal("StartInitialization(intentAnalyzer) = true, want false")
			}
			state, _ := m.State(ComponentIntentAnalyzer)
			if state == StateInitializing {
				t.Errorf("intentAnalyzer reached INITIALIZING over a dead dependency")
			}
		})
	}
}

// =============================================================================
// Lifecycle Mutation Tests
// =============================================================================

func TestComponentStateMachine_FailInitialization_RecordsErrorAndRetry(t *testing.T) {
	m := newTestMachine()
	boom := errors.New("boom")

	m.StartInitialization(ComponentAIClient)
	if !m.FailInitialization(ComponentAIClient, boom) {
		t.Fatal("FailInitialization() = false, want true")
	}

	rec, _ := m.Record(ComponentAIClient)
	if rec.State != StateFailed {
		t.Errorf("State = %v, want %v", rec.State, StateFailed)
	}
	if !errors.Is(rec.LastError, boom) {
		t.Errorf("LastError = %v, want %v", rec.LastError, boom)
	}
	if rec.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", rec.RetryCount)
	}
	if rec.CompletedAt.IsZero() {
		t.Error("CompletedAt not stamped on failure")
	}

	// A retry attempt is a fresh INITIALIZING transition from FAILED.
	if !m.StartInitialization(ComponentAIClient) {
		t.Fatal("StartInitialization() after failure = false, want true")
	}
	m.FailInitialization(ComponentAIClient, boom)
	rec, _ = m.Record(ComponentAIClient)
	if rec.RetryCount != 2 {
		t.Errorf("RetryCount after second failure = %d, want 2", rec.RetryCount)
	}
}

func TestComponentStateMachine_Reset_ClearsRecord(t *testing.T) {
	m := newTestMachine()
	m.StartInitialization(ComponentAIClient)
	m.FailInitialization(ComponentAIClient, errors.New("boom"))

	if !m.Reset(ComponentAIClient) {
		t.Fatal("Reset() = false, want true")
	}
	rec, _ := m.Record(ComponentAIClient)
	if rec.State != StateNotStarted {
		t.Errorf("State after reset = %v, want %v", rec.State, StateNotStarted)
	}
	if rec.LastError != nil || rec.RetryCount != 0 || !rec.StartedAt.IsZero() || !rec.CompletedAt.IsZero() {
		t.Errorf("Reset left residue: %+v", rec)
	}
}

// =============================================================================
// Dependent Nudging Tests
// =============================================================================

func TestComponentStateMachine_NudgesDependentsOnReady(t *testing.T) {
	m := newTestMachine()

	m.StartInitialization(ComponentAIClient)
	m.CompleteInitialization(ComponentAIClient)

	// intentAnalyzer depends only on aiClient: nudged.
	state, _ := m.State(ComponentIntentAnalyzer)
	if state != StatePendingDependencies {
		t.Errorf("intentAnalyzer = %v, want %v", state, StatePendingDependencies)
	}

	// taskPlanner also needs projectContext, still NOT_STARTED: no nudge.
	state, _ = m.State(ComponentTaskPlanner)
	if state != StateNotStarted {
		t.Errorf("taskPlanner = %v, want %v", state, StateNotStarted)
	}

	m.StartInitialization(ComponentProjectContext)
	m.CompleteInitialization(ComponentProjectContext)
	state, _ = m.State(ComponentTaskPlanner)
	if state != StatePendingDependencies {
		t.Errorf("taskPlanner after projectContext ready = %v, want %v", state, StatePendingDependencies)
	}
}

func TestComponentStateMachine_NudgeOnDegradedDependency(t *testing.T) {
	m := newTestMachine()

	m.StartInitialization(ComponentAIClient)
	m.DegradeComponent(ComponentAIClient, errors.New("stub"))

	state, _ := m.State(ComponentIntentAnalyzer)
	if state != StatePendingDependencies {
		t.Errorf("intentAnalyzer with DEGRADED dependency = %v, want %v", state, StatePendingDependencies)
	}
}

// =============================================================================
// Listener Tests
// =============================================================================

func TestComponentStateMachine_Listeners(t *testing.T) {
	m := newTestMachine()

	var perType []TransitionEvent
	var global []TransitionEvent
	cancelType := m.OnTransition(ComponentAIClient, func(ev TransitionEvent) {
		perType = append(perType, ev)
	})
	cancelGlobal := m.OnAnyTransition(func(ev TransitionEvent) {
		global = append(global, ev)
	})

	m.StartInitialization(ComponentAIClient)
	m.CompleteInitialization(ComponentAIClient)
	m.StartInitialization(ComponentConversationManager)

	if len(perType) != 2 {
		t.Errorf("per-type listener saw %d events, want 2", len(perType))
	}
	if len(perType) > 0 && perType[0].To != StateInitializing {
		t.Errorf("first per-type event To = %v, want %v", perType[0].To, StateInitializing)
	}
	// Global listener also sees the intentAnalyzer nudge after aiClient
	// became ready, plus conversationManager's start.
	if len(global) < 3 {
		t.Errorf("global listener saw %d events, want >= 3", len(global))
	}

	cancelType()
	cancelGlobal()
	m.DegradeComponent(ComponentAIClient, nil)
	if len(perType) != 2 {
		t.Errorf("per-type listener saw %d events after cancel, want 2", len(perType))
	}
}

func TestComponentStateMachine_ListenerPanicDoesNotBreakTransition(t *testing.T) {
	m := newTestMachine()

	m.OnTransition(ComponentAIClient, func(ev TransitionEvent) {
		panic("listener bug")
	})
	var after []ComponentState
	m.OnAnyTransition(func(ev TransitionEvent) {
		if ev.Component == ComponentAIClient {
			after = append(after, ev.To)
		}
	})

	if !m.StartInitialization(ComponentAIClient) {
		t.Fatal("StartInitialization() = false despite panicking listener")
	}
	state, _ := m.State(ComponentAIClient)
	if state != StateInitializing {
		t.Errorf("State = %v, want %v with panicking listener", state, StateInitializing)
	}
	if len(after) != 1 {
		t.Errorf("later listener saw %d events, want 1", len(after))
	}
}

// =============================================================================
// Graph Validation Tests
// =============================================================================

func TestComponentStateMachine_ValidateDependencyGraph_Clean(t *testing.T) {
	m := newTestMachine()
	if cycles := m.ValidateDependencyGraph(); len(cycles) != 0 {
		t.Errorf("ValidateDependencyGraph() = %v, want none", cycles)
	}
}

func TestComponentStateMachine_ValidateDependencyGraph_DetectsCycle(t *testing.T) {
	g := DependencyGraph{
		ComponentType("a"): {ComponentType("b")},
		ComponentType("b"): {ComponentType("c")},
		ComponentType("c"): {ComponentType("a")},
	}
	m := NewComponentStateMachine(WithMachineLogger(testLogger()), WithMachineGraph(g))

	cycles := m.ValidateDependencyGraph()
	if len(cycles) != 1 {
		t.Fatalf("ValidateDependencyGraph() found %d cycles, want 1: %v", len(cycles), cycles)
	}
	if got := len(cycles[0]); got != 3 {
		t.Errorf("cycle length = %d, want 3: %v", got, cycles[0])
	}
}

func TestComponentStateMachine_Snapshot(t *testing.T) {
	m := newTestMachine()
	snap := m.Snapshot()
	if len(snap) != len(AllComponentTypes()) {
		t.Errorf("Snapshot() has %d records, want %d", len(snap), len(AllComponentTypes()))
	}
	for typ, rec := range snap {
		if rec.State != StateNotStarted {
			t.Errorf("Snapshot()[%s].State = %v, want %v", typ, rec.State, StateNotStarted)
		}
	}

	// Mutating the snapshot must not touch the machine.
	rec := snap[ComponentAIClient]
	rec.State = StateReady
	snap[ComponentAIClient] = rec
	state, _ := m.State(ComponentAIClient)
	if state != StateNotStarted {
		t.Error("Snapshot mutation leaked into the machine")
	}
}
