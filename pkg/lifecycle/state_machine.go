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
	"log/slog"
	"sync"
	"time"
)

// TransitionEvent is delivered to listeners after a state change commits.
// Record is a snapshot taken at commit time.
type TransitionEvent struct {
	Component ComponentType
	From      ComponentState
	To        ComponentState
	Record    StateRecord
}

// TransitionListener observes committed transitions. Listeners run
// synchronously on the transitioning goroutine; panics are recovered and
// logged so one bad listener cannot poison a transition.
type TransitionListener func(TransitionEvent)

// ComponentStateMachine tracks per-component lifecycle state against a
// declared dependency graph.
//
// Description:
//
//	Every component in the graph gets a state record at construction,
//	starting in NOT_STARTED. Transitions are validated against a fixed
//	table; invalid requests are rejected without side effects. After a
//	component becomes usable its dependents are re-examined, and any
//	dependent still in NOT_STARTED whose dependencies are now all usable
//	is moved to PENDING_DEPENDENCIES. That is a hint only: construction
//	stays demand-driven, nothing starts a component automatically.
//
// Thread Safety: all methods are safe for concurrent use. Listener
// callbacks run outside the internal lock, so listeners may call back
// into the machine.
type ComponentStateMachine struct {
	logger *slog.Logger
	graph  DependencyGraph

	mu            sync.RWMutex
	records       map[ComponentType]*StateRecord
	typeListeners map[ComponentType]map[int]TransitionListener
	anyListeners  map[int]TransitionListener
	nextListener  int
}

// transitionTable defines which state changes are legal. INITIALIZING
// self-loops so a retry attempt does not need an intermediate state.
var transitionTable = map[ComponentState]map[ComponentState]bool{
	StateNotStarted: {
		StatePendingDependencies: true,
		StateInitializing:        true,
	},
	StatePendingDependencies: {
		StateInitializing: true,
		StateNotStarted:   true,
	},
	StateInitializing: {
		StateInitializing: true,
		StateReady:        true,
		StateFailed:       true,
		StateDegraded:     true,
	},
	StateReady: {
		StateDegraded: true,
	},
	StateDegraded: {
		StateReady: true,
	},
	StateFailed: {
		StateNotStarted:   true,
		StateInitializing: true,
		StateDegraded:     true,
	},
}

// MachineOption configures a ComponentStateMachine.
type MachineOption func(*ComponentStateMachine)

// WithMachineLogger sets the logger. Defaults to slog.Default().
func WithMachineLogger(logger *slog.Logger) MachineOption {
	return func(m *ComponentStateMachine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMachineGraph replaces the dependency graph. Defaults to
// DefaultDependencyGraph().
func WithMachineGraph(g DependencyGraph) MachineOption {
	return func(m *ComponentStateMachine) {
		if g != nil {
			m.graph = g.Clone()
		}
	}
}

// NewComponentStateMachine creates a machine with a record for every
// component the graph declares.
func NewComponentStateMachine(opts ...MachineOption) *ComponentStateMachine {
	m := &ComponentStateMachine{
		logger:        slog.Default(),
		graph:         DefaultDependencyGraph(),
		records:       make(map[ComponentType]*StateRecord),
		typeListeners: make(map[ComponentType]map[int]TransitionListener),
		anyListeners:  make(map[int]TransitionListener),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, typ := range m.graph.Declared() {
		m.records[typ] = &StateRecord{
			Component:    typ,
			State:        StateNotStarted,
			Dependencies: m.graph.DependenciesOf(typ),
			Dependents:   m.graph.DependentsOf(typ),
			ChangedAt:    time.Now(),
		}
	}
	return m
}

// State returns the current state for typ.
func (m *ComponentStateMachine) State(typ ComponentType) (ComponentState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[typ]
	if !ok {
		return "", false
	}
	return rec.State, true
}

// Record returns a snapshot of the state record for typ.
func (m *ComponentStateMachine) Record(typ ComponentType) (StateRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[typ]
	if !ok {
		return StateRecord{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every state record.
func (m *ComponentStateMachine) Snapshot() map[ComponentType]StateRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[ComponentType]StateRecord, len(m.records))
	for typ, rec := range m.records {
		out[typ] = *rec
	}
	return out
}

// CanTransition reports whether from -> to is legal, independent of any
// component's current state.
func (m *ComponentStateMachine) CanTransition(from, to ComponentState) bool {
	return transitionTable[from][to]
}

// CanInitialize reports whether typ may start initializing now: it must
// be known, not already READY or FAILED, and every declared dependency
// must be usable (READY or DEGRADED).
func (m *ComponentStateMachine) CanInitialize(typ ComponentType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canInitializeLocked(typ)
}

func (m *ComponentStateMachine) canInitializeLocked(typ ComponentType) bool {
	rec, ok := m.records[typ]
	if !ok {
		return false
	}
	switch rec.State {
	case StateReady, StateFailed:
		return false
	}
	for _, dep := range rec.Dependencies {
		depRec, ok := m.records[dep]
		if !ok || !depRec.State.Usable() {
			return false
		}
	}
	return true
}

// StartInitialization moves typ into INITIALIZING and stamps StartedAt.
// Returns false, with no side effects, when CanInitialize is false or
// the transition is not legal from the current state.
func (m *ComponentStateMachine) StartInitialization(typ ComponentType) bool {
	now := time.Now()
	return m.applyGuarded(typ, StateInitializing, m.canInitializeLocked, func(rec *StateRecord) {
		if rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
		rec.CompletedAt = time.Time{}
		rec.LastError = nil
	})
}

// CompleteInitialization moves typ to READY and stamps CompletedAt.
func (m *ComponentStateMachine) CompleteInitialization(typ ComponentType) bool {
	now := time.Now()
	return m.apply(typ, StateReady, func(rec *StateRecord) {
		rec.CompletedAt = now
		rec.LastError = nil
	})
}

// FailInitialization moves typ to FAILED, records err, and bumps the
// retry count.
func (m *ComponentStateMachine) FailInitialization(typ ComponentType, err error) bool {
	now := time.Now()
	return m.apply(typ, StateFailed, func(rec *StateRecord) {
		rec.CompletedAt = now
		rec.LastError = err
		rec.RetryCount++
	})
}

// DegradeComponent moves typ to DEGRADED. err may be nil when the
// degradation is health-driven rather than failure-driven.
func (m *ComponentStateMachine) DegradeComponent(typ ComponentType, err error) bool {
	now := time.Now()
	return m.apply(typ, StateDegraded, func(rec *StateRecord) {
		if rec.CompletedAt.IsZero() {
			rec.CompletedAt = now
		}
		if err != nil {
			rec.LastError = err
		}
	})
}

// RestoreComponent moves a DEGRADED component back to READY.
func (m *ComponentStateMachine) RestoreComponent(typ ComponentType) bool {
	return m.apply(typ, StateReady, func(rec *StateRecord) {
		rec.LastError = nil
	})
}

// MarkPending moves typ to PENDING_DEPENDENCIES. Mostly internal; the
// machine applies it itself when dependencies become usable.
func (m *ComponentStateMachine) MarkPending(typ ComponentType) bool {
	return m.apply(typ, StatePendingDependencies, nil)
}

// Reset returns typ to NOT_STARTED from any state and zeroes the
// per-attempt fields, so the next initialization starts clean.
func (m *ComponentStateMachine) Reset(typ ComponentType) bool {
	m.mu.Lock()
	rec, ok := m.records[typ]
	if !ok {
		m.mu.Unlock()
		return false
	}
	from := rec.State
	rec.State = StateNotStarted
	rec.LastError = nil
	rec.StartedAt = time.Time{}
	rec.CompletedAt = time.Time{}
	rec.RetryCount = 0
	rec.ChangedAt = time.Now()
	snapshot := *rec
	listeners := m.listenersLocked(typ)
	m.mu.Unlock()

	if from != StateNotStarted {
		RecordStateTransition(string(typ), StateNotStarted)
		m.notify(TransitionEvent{Component: typ, From: from, To: StateNotStarted, Record: snapshot}, listeners)
	}
	return true
}

// OnTransition registers a listener for one component's transitions. The
// returned function cancels the registration.
func (m *ComponentStateMachine) OnTransition(typ ComponentType, fn TransitionListener) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	set, ok := m.typeListeners[typ]
	if !ok {
		set = make(map[int]TransitionListener)
		m.typeListeners[typ] = set
	}
	set[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.typeListeners[typ], id)
		m.mu.Unlock()
	}
}

// OnAnyTransition registers a listener for every component's transitions.
func (m *ComponentStateMachine) OnAnyTransition(fn TransitionListener) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.anyListeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.anyListeners, id)
		m.mu.Unlock()
	}
}

// ValidateDependencyGraph returns every dependency cycle in the declared
// graph. An empty slice means the graph is sound.
func (m *ComponentStateMachine) ValidateDependencyGraph() []Cycle {
	return m.graph.FindCycles()
}

// DependenciesOf returns the declared dependencies of typ.
func (m *ComponentStateMachine) DependenciesOf(typ ComponentType) []ComponentType {
	return m.graph.DependenciesOf(typ)
}

// DependentsOf returns the components that depend on typ.
func (m *ComponentStateMachine) DependentsOf(typ ComponentType) []ComponentType {
	return m.graph.DependentsOf(typ)
}

// apply validates and commits one transition, then notifies listeners and
// re-examines dependents outside the lock.
func (m *ComponentStateMachine) apply(typ ComponentType, to ComponentState, mutate func(*StateRecord)) bool {
	return m.applyGuarded(typ, to, nil, mutate)
}

// applyGuarded is apply with an extra precondition evaluated under the
// lock. A false guard rejects the transition with no side effects.
func (m *ComponentStateMachine) applyGuarded(typ ComponentType, to ComponentState, guard func(ComponentType) bool, mutate func(*StateRecord)) bool {
	m.mu.Lock()
	rec, ok := m.records[typ]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("transition requested for unknown component", "component", typ, "to", to)
		return false
	}
	if guard != nil && !guard(typ) {
		m.mu.Unlock()
		m.logger.Debug("transition precondition not met",
			"component", typ,
			"to", to,
		)
		return false
	}
	from := rec.State
	if !transitionTable[from][to] {
		m.mu.Unlock()
		m.logger.Debug("invalid state transition rejected",
			"component", typ,
			"from", from,
			"to", to,
		)
		return false
	}
	rec.State = to
	rec.ChangedAt = time.Now()
	if mutate != nil {
		mutate(rec)
	}
	snapshot := *rec

	listeners := m.listenersLocked(typ)

	// Re-examine dependents while the lock still reflects this commit.
	var pending []ComponentType
	for _, dep := range rec.Dependents {
		depRec, ok := m.records[dep]
		if !ok || depRec.State != StateNotStarted {
			continue
		}
		if m.canInitializeLocked(dep) {
			pending = append(pending, dep)
		}
	}
	m.mu.Unlock()

	RecordStateTransition(string(typ), to)
	m.notify(TransitionEvent{Component: typ, From: from, To: to, Record: snapshot}, listeners)

	for _, dep := range pending {
		m.MarkPending(dep)
	}
	return true
}

// listenersLocked snapshots the listeners for typ plus the global set.
// Caller must hold mu.
func (m *ComponentStateMachine) listenersLocked(typ ComponentType) []TransitionListener {
	out := make([]TransitionListener, 0, len(m.typeListeners[typ])+len(m.anyListeners))
	for _, fn := range m.typeListeners[typ] {
		out = append(out, fn)
	}
	for _, fn := range m.anyListeners {
		out = append(out, fn)
	}
	return out
}

func (m *ComponentStateMachine) notify(ev TransitionEvent, listeners []TransitionListener) {
	for _, fn := range listeners {
		m.invoke(ev, fn)
	}
}

func (m *ComponentStateMachine) invoke(ev TransitionEvent, fn TransitionListener) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Warn("state transition listener panicked",
				"component", ev.Component,
				"to", ev.To,
				"panic", rec,
			)
		}
	}()
	fn(ev)
}
