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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EnhancedFactory constructs components through the ServiceRegistry and
// ComponentStateMachine.
//
// Description:
//
//	Dependencies are pre-resolved in declared order before a component's
//	own construction starts, which fixes the fetch order for components
//	with wide fan-in and keeps potential cycles from ever reaching the
//	registry. The registry supplies timeout, retry, and coalescing; the
//	state machine supplies gating (a component cannot start while a
//	dependency is unusable) and the authoritative state record. A failed
//	component with a registered fallback is seeded into the registry
//	cache as DEGRADED, so later requests see the stub like a real
//	instance.
//
// Thread Safety: safe for concurrent use.
type EnhancedFactory struct {
	logger     *slog.Logger
	registry   *ServiceRegistry
	machine    *ComponentStateMachine
	dispatcher *Dispatcher
	regs       Registrations

	ownsRegistry bool
	ownsDisp     bool

	// DependencyWait bounds how long a request polls for a dependency
	// to become usable before giving up.
	dependencyWait time.Duration

	mu       sync.Mutex
	disposed bool
}

var _ Factory = (*EnhancedFactory)(nil)

// EnhancedFactoryOption configures an EnhancedFactory.
type EnhancedFactoryOption func(*EnhancedFactory)

// WithEnhancedLogger sets the logger. Defaults to slog.Default().
func WithEnhancedLogger(logger *slog.Logger) EnhancedFactoryOption {
	return func(f *EnhancedFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnhancedRegistry shares an existing registry instead of creating
// one. A shared registry is not disposed by Dispose.
func WithEnhancedRegistry(r *ServiceRegistry) EnhancedFactoryOption {
	return func(f *EnhancedFactory) {
		if r != nil {
			f.registry = r
			f.ownsRegistry = false
		}
	}
}

// WithEnhancedMachine shares an existing state machine. The machine's
// graph defines which components exist and in what order dependencies
// are fetched.
func WithEnhancedMachine(m *ComponentStateMachine) EnhancedFactoryOption {
	return func(f *EnhancedFactory) {
		if m != nil {
			f.machine = m
		}
	}
}

// WithEnhancedDispatcher shares an existing dispatcher. A shared
// dispatcher is not closed by Dispose.
func WithEnhancedDispatcher(d *Dispatcher) EnhancedFactoryOption {
	return func(f *EnhancedFactory) {
		if d != nil {
			f.dispatcher = d
			f.ownsDisp = false
		}
	}
}

// WithDependencyWait overrides how long Get waits for dependencies to
// become usable. Defaults to DefaultDependencyWait.
func WithDependencyWait(d time.Duration) EnhancedFactoryOption {
	return func(f *EnhancedFactory) {
		if d > 0 {
			f.dependencyWait = d
		}
	}
}

// NewEnhancedFactory creates a factory serving the given catalog.
// Collaborators not supplied through options are created and owned by
// the factory, and torn down by its Dispose.
func NewEnhancedFactory(regs Registrations, opts ...EnhancedFactoryOption) *EnhancedFactory {
	f := &EnhancedFactory{
		logger:         slog.Default(),
		regs:           regs,
		dependencyWait: DefaultDependencyWait,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.dispatcher == nil {
		f.dispatcher = NewDispatcher(f.logger)
		f.ownsDisp = true
	}
	if f.registry == nil {
		f.registry = NewServiceRegistry(
			WithRegistryLogger(f.logger),
			WithRegistryDispatcher(f.dispatcher),
		)
		f.ownsRegistry = true
	}
	if f.machine == nil {
		f.machine = NewComponentStateMachine(WithMachineLogger(f.logger))
	}
	return f
}

// Get implements Factory.
func (f *EnhancedFactory) Get(ctx context.Context, typ ComponentType, cfg *ComponentConfig) (any, error) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return nil, ErrFactoryDisposed
	}
	f.mu.Unlock()
	return f.resolve(ctx, typ, cfg, nil)
}

func (f *EnhancedFactory) resolve(ctx context.Context, typ ComponentType, cfg *ComponentConfig, path resolvePath) (any, error) {
	reg, known := f.regs[typ]
	if !known {
		return nil, unknownComponentError(typ)
	}
	effective := reg.Config
	if cfg != nil {
		effective = *cfg
	}
	if effective.Fallback == nil {
		effective.Fallback = reg.Config.Fallback
	}

	if path.contains(typ) {
		if effective.Fallback == nil {
			return nil, cyclicRequestError(typ, path)
		}
		RecordFallback(string(typ), "cycle")
		f.logger.Warn("circular component request, substituting fallback",
			"component", typ,
			"stack", path.String(),
		)
		return effective.Fallback(), nil
	}

	name := string(typ)
	if v, ok := f.registry.Cached(name); ok {
		return v, nil
	}

	// Fetch dependencies in declared order before touching the registry
	// for typ itself. The fixed order keeps wide fan-in deterministic.
	childPath := path.push(typ)
	for _, dep := range f.machine.DependenciesOf(typ) {
		if _, err := f.resolve(ctx, dep, nil, childPath); err != nil {
			return nil, &DependencyError{Component: typ, Dependency: dep, Err: err}
		}
	}

	if err := f.awaitInitializable(ctx, typ); err != nil {
		return nil, err
	}

	opts := f.serviceOptions(typ, effective)
	value, err := f.registry.GetService(ctx, name, f.buildFunc(typ, reg.Build, childPath), &opts)
	if err == nil {
		return value, nil
	}

	if effective.Fallback != nil {
		RecordFallback(name, "construction_failure")
		f.logger.Warn("component construction failed, substituting fallback",
			"component", typ,
			"error", err,
		)
		stub := effective.Fallback()
		f.registry.Put(name, stub)
		f.machine.DegradeComponent(typ, err)
		return stub, nil
	}
	return nil, err
}

// buildFunc wraps a component builder into a registry factory that keeps
// the state machine in step with each attempt.
func (f *EnhancedFactory) buildFunc(typ ComponentType, builder Builder, path resolvePath) ServiceFactory {
	return func(ctx context.Context) (any, error) {
		if !f.machine.StartInitialization(typ) {
			if dep, ok := f.blockedDependency(typ); ok {
				return nil, &DependencyError{
					Component:  typ,
					Dependency: dep,
					Err:        fmt.Errorf("dependency %q not usable", string(dep)),
				}
			}
			return nil, fmt.Errorf("component %q cannot start initializing", string(typ))
		}
		v, err := builder(ctx, &enhancedResolver{factory: f, path: path})
		if err != nil {
			f.machine.FailInitialization(typ, err)
			return nil, err
		}
		f.machine.CompleteInitialization(typ)
		return v, nil
	}
}

// awaitInitializable polls until the state machine clears typ to start.
// A FAILED component is reset first so a fresh request retries from a
// clean slate instead of being refused forever.
func (f *EnhancedFactory) awaitInitializable(ctx context.Context, typ ComponentType) error {
	deadline := time.Now().Add(f.dependencyWait)
	for {
		state, ok := f.machine.State(typ)
		if !ok {
			return unknownComponentError(typ)
		}
		switch state {
		case StateFailed:
			f.machine.Reset(typ)
			continue
		case StateReady, StateDegraded:
			// Usable but absent from the cache (cleared out of band).
			// Reset so construction is legal again.
			if _, cached := f.registry.Cached(string(typ)); !cached {
				f.machine.Reset(typ)
			}
			return nil
		}
		if f.machine.CanInitialize(typ) {
			return nil
		}
		if dep, blocked := f.blockedDependency(typ); blocked && time.Now().After(deadline) {
			return &DependencyError{
				Component:  typ,
				Dependency: dep,
				Err:        fmt.Errorf("dependency %q not usable within %s", string(dep), f.dependencyWait),
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("component %q not initializable within %s", string(typ), f.dependencyWait)
		}
		if err := sleepWithContext(ctx, DependencyPollInterval); err != nil {
			return err
		}
	}
}

// blockedDependency returns the first declared dependency of typ that is
// not currently usable.
func (f *EnhancedFactory) blockedDependency(typ ComponentType) (ComponentType, bool) {
	for _, dep := range f.machine.DependenciesOf(typ) {
		state, ok := f.machine.State(dep)
		if !ok || !state.Usable() {
			return dep, true
		}
	}
	return "", false
}

func (f *EnhancedFactory) serviceOptions(typ ComponentType, cfg ComponentConfig) ServiceOptions {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeoutFor(typ)
	}
	retries := DefaultRetriesFor(typ)
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}
	return ServiceOptions{
		Timeout:     timeout,
		Retries:     retries,
		Description: fmt.Sprintf("component %s", string(typ)),
	}
}

// enhancedResolver resolves builder dependencies through the factory
// while carrying the creation stack forward.
type enhancedResolver struct {
	factory *EnhancedFactory
	path    resolvePath
}

func (r *enhancedResolver) Resolve(ctx context.Context, typ ComponentType) (any, error) {
	return r.factory.resolve(ctx, typ, nil, r.path)
}

// IsReady implements Factory.
func (f *EnhancedFactory) IsReady(typ ComponentType) bool {
	_, ok := f.registry.Cached(string(typ))
	return ok
}

// State exposes the machine's view of typ.
func (f *EnhancedFactory) State(typ ComponentType) (ComponentState, bool) {
	return f.machine.State(typ)
}

// OnProgress implements Factory.
func (f *EnhancedFactory) OnProgress(fn ProgressListener) func() {
	return f.dispatcher.Subscribe(fn)
}

// Clear implements Factory. Cached instances are dropped from the
// registry and every component record returns to NOT_STARTED.
func (f *EnhancedFactory) Clear(ctx context.Context) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return ErrFactoryDisposed
	}
	f.mu.Unlock()

	err := f.registry.ClearAll(ctx)
	if err != nil && errors.Is(err, ErrRegistryDisposed) {
		err = nil
	}
	for typ := range f.machine.Snapshot() {
		f.machine.Reset(typ)
	}
	return err
}

// Dispose implements Factory. Idempotent. Collaborators created by the
// factory are torn down; shared ones are left to their owner.
func (f *EnhancedFactory) Dispose(ctx context.Context) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return nil
	}
	f.disposed = true
	f.mu.Unlock()

	var errs []error
	if f.ownsRegistry {
		if err := f.registry.Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if err := f.registry.ClearAll(ctx); err != nil && !errors.Is(err, ErrRegistryDisposed) {
		errs = append(errs, err)
	}
	for typ := range f.machine.Snapshot() {
		f.machine.Reset(typ)
	}
	if f.ownsDisp {
		f.dispatcher.Close()
	}
	return errors.Join(errs...)
}
