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
	"log/slog"
	"sync"
)

// Core wires the five lifecycle pieces into one assembly: a shared
// progress dispatcher, the service registry, the state machine, a
// factory over both, the streaming initializer, and the status tracker.
//
// Construction order and ownership live here so callers hold one value
// and one Shutdown. Individual pieces remain usable on their own; Core
// is convenience, not a requirement.
type Core struct {
	Registry    *ServiceRegistry
	Machine     *ComponentStateMachine
	Factory     Factory
	Initializer *StreamingInitializer
	Tracker     *StatusTracker
	Dispatcher  *Dispatcher

	logger       *slog.Logger
	machineUnsub func()

	mu   sync.Mutex
	down bool
}

type coreConfig struct {
	logger      *slog.Logger
	graph       DependencyGraph
	trackerOpts []TrackerOption
	useBasic    bool
}

// CoreOption configures NewCore.
type CoreOption func(*coreConfig)

// WithCoreLogger sets the logger shared by every piece. Defaults to
// slog.Default().
func WithCoreLogger(logger *slog.Logger) CoreOption {
	return func(c *coreConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCoreGraph replaces the dependency graph. Defaults to
// DefaultDependencyGraph().
func WithCoreGraph(g DependencyGraph) CoreOption {
	return func(c *coreConfig) {
		if g != nil {
			c.graph = g
		}
	}
}

// WithCoreTrackerOptions forwards options to the status tracker.
func WithCoreTrackerOptions(opts ...TrackerOption) CoreOption {
	return func(c *coreConfig) {
		c.trackerOpts = append(c.trackerOpts, opts...)
	}
}

// WithBasicConstruction swaps the enhanced factory for the basic one.
// The registry and state machine are still created, but construction
// bypasses them.
func WithBasicConstruction() CoreOption {
	return func(c *coreConfig) {
		c.useBasic = true
	}
}

// NewCore assembles a lifecycle core around a component catalog.
//
// The dependency graph is validated on the way up: cycles are logged as
// warnings, not errors, because the creation-stack guard and fallback
// substitution keep a cyclic graph serviceable at reduced function.
func NewCore(regs Registrations, opts ...CoreOption) *Core {
	cfg := coreConfig{
		logger: slog.Default(),
		graph:  DefaultDependencyGraph(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dispatcher := NewDispatcher(cfg.logger)
	registry := NewServiceRegistry(
		WithRegistryLogger(cfg.logger),
		WithRegistryDispatcher(dispatcher),
	)
	machine := NewComponentStateMachine(
		WithMachineLogger(cfg.logger),
		WithMachineGraph(cfg.graph),
	)

	var factory Factory
	if cfg.useBasic {
		factory = NewBasicFactory(regs,
			WithBasicLogger(cfg.logger),
			WithBasicDispatcher(dispatcher),
		)
	} else {
		factory = NewEnhancedFactory(regs,
			WithEnhancedLogger(cfg.logger),
			WithEnhancedRegistry(registry),
			WithEnhancedMachine(machine),
			WithEnhancedDispatcher(dispatcher),
		)
	}

	initializer := NewStreamingInitializer(
		WithInitializerLogger(cfg.logger),
		WithInitializerDispatcher(dispatcher),
		WithReadyChecker(func(name string) bool {
			return factory.IsReady(ComponentType(name))
		}),
	)

	tracker := NewStatusTracker(append([]TrackerOption{
		WithTrackerLogger(cfg.logger),
	}, cfg.trackerOpts...)...)
	tracker.Attach(dispatcher)
	for _, typ := range cfg.graph.Declared() {
		deps := cfg.graph.DependenciesOf(typ)
		names := make([]string, len(deps))
		for i, dep := range deps {
			names[i] = string(dep)
		}
		tracker.Track(string(typ), names, nil)
	}

	// The tracker hears about construction through progress events, but
	// fallback substitution degrades a component through the state
	// machine. Bridge that path.
	machineUnsub := machine.OnAnyTransition(func(ev TransitionEvent) {
		if ev.To != StateDegraded {
			return
		}
		reason := ""
		if ev.Record.LastError != nil {
			reason = ev.Record.LastError.Error()
		}
		tracker.MarkDegraded(string(ev.Component), reason)
	})

	if cycles := machine.ValidateDependencyGraph(); len(cycles) > 0 {
		for _, cycle := range cycles {
			cfg.logger.Warn("dependency cycle declared", "cycle", cycle.String())
		}
	}

	tracker.Start()

	return &Core{
		Registry:     registry,
		Machine:      machine,
		Factory:      factory,
		Initializer:  initializer,
		Tracker:      tracker,
		Dispatcher:   dispatcher,
		logger:       cfg.logger,
		machineUnsub: machineUnsub,
	}
}

// Get resolves a component with its registered defaults.
func (c *Core) Get(ctx context.Context, typ ComponentType) (any, error) {
	return c.Factory.Get(ctx, typ, nil)
}

// Status renders the tracker's view in the given mode.
func (c *Core) Status(mode string) (string, error) {
	return c.Tracker.Format(mode)
}

// Shutdown tears the assembly down in reverse dependency order:
// initializer first so no step is mid-flight, then factory and
// registry, then the tracker and the shared dispatcher. Idempotent.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return nil
	}
	c.down = true
	c.mu.Unlock()

	c.machineUnsub()

	var errs []error
	if err := c.Initializer.Dispose(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.Factory.Dispose(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.Registry.Dispose(ctx); err != nil && !errors.Is(err, ErrRegistryDisposed) {
		errs = append(errs, err)
	}
	if err := c.Tracker.Dispose(); err != nil {
		errs = append(errs, err)
	}
	c.Dispatcher.Close()
	return errors.Join(errs...)
}
