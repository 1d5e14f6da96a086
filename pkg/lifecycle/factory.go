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
	"fmt"
	"time"
)

// FallbackFactory produces a degraded stand-in for a component whose
// real construction failed or would recurse. It must be synchronous and
// must not fail.
type FallbackFactory func() any

// FallbackTable maps component types to their fallback producers.
type FallbackTable map[ComponentType]FallbackFactory

// Resolver hands a component builder its dependencies. Implementations
// carry the resolution path internally, so recursive resolution through
// a Resolver is how cycles get detected.
type Resolver interface {
	Resolve(ctx context.Context, typ ComponentType) (any, error)
}

// Builder constructs one component, resolving dependencies through deps.
type Builder func(ctx context.Context, deps Resolver) (any, error)

// ComponentConfig overrides construction behavior for one request.
type ComponentConfig struct {
	// Timeout bounds one construction attempt. Zero means the per-type
	// default from DefaultTimeoutFor.
	Timeout time.Duration

	// Retries overrides the per-type retry default when non-nil.
	Retries *int

	// Essential marks the component as required for interactive use.
	// Informational: it changes logging, never control flow here.
	Essential bool

	// Fallback substitutes a degraded stub when construction fails or a
	// cyclic request is detected.
	Fallback FallbackFactory
}

// Registration binds a component type to its builder and default config.
type Registration struct {
	Build  Builder
	Config ComponentConfig
}

// Registrations is the component catalog a factory serves from.
type Registrations map[ComponentType]Registration

// Factory is the shared contract for component construction. Two
// implementations exist: BasicFactory resolves dependencies by direct
// recursion with a creation-stack guard, EnhancedFactory delegates
// timeout/retry and gating to the ServiceRegistry and state machine.
type Factory interface {
	// Get returns the component, constructing it on first request. cfg
	// may be nil to use the registered defaults. Unknown types fail
	// synchronously with ErrUnknownComponent.
	Get(ctx context.Context, typ ComponentType, cfg *ComponentConfig) (any, error)

	// IsReady reports whether the component is already constructed.
	IsReady(typ ComponentType) bool

	// OnProgress subscribes to load progress events. Delivery is
	// asynchronous: a listener is never invoked from inside the Get
	// call that caused the event, so listeners may call back into the
	// factory. The returned function cancels the subscription.
	OnProgress(fn ProgressListener) func()

	// Clear drops cached instances and in-flight work.
	Clear(ctx context.Context) error

	// Dispose clears and marks the factory unusable. Idempotent.
	Dispose(ctx context.Context) error
}

// resolvePath is the creation stack for one resolution chain. It travels
// with the request, not the factory, so concurrent chains never see each
// other's stacks.
type resolvePath []ComponentType

func (p resolvePath) contains(typ ComponentType) bool {
	for _, t := range p {
		if t == typ {
			return true
		}
	}
	return false
}

func (p resolvePath) push(typ ComponentType) resolvePath {
	next := make(resolvePath, len(p), len(p)+1)
	copy(next, p)
	return append(next, typ)
}

func (p resolvePath) String() string {
	s := ""
	for i, t := range p {
		if i > 0 {
			s += " -> "
		}
		s += string(t)
	}
	return s
}

func unknownComponentError(typ ComponentType) error {
	return fmt.Errorf("%w: %q", ErrUnknownComponent, string(typ))
}

func cyclicRequestError(typ ComponentType, path resolvePath) error {
	return fmt.Errorf("%w: %q requested again while on creation stack [%s]", ErrCyclicRequest, string(typ), path.String())
}
