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
	"fmt"
	"time"
)

var (
	// ErrRegistryDisposed indicates an operation on a disposed ServiceRegistry.
	ErrRegistryDisposed = errors.New("service registry disposed")

	// ErrFactoryDisposed indicates an operation on a disposed component factory.
	ErrFactoryDisposed = errors.New("component factory disposed")

	// ErrInitializerDisposed indicates an operation on a disposed
	// StreamingInitializer.
	ErrInitializerDisposed = errors.New("streaming initializer disposed")

	// ErrUnknownComponent indicates a request for a component type outside
	// the declared set. This is a programming error, reported synchronously.
	ErrUnknownComponent = errors.New("unknown component type")

	// ErrNilFactory indicates a GetService call without a factory function.
	ErrNilFactory = errors.New("nil service factory")

	// ErrInvalidTransition indicates an invalid component state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCyclicRequest indicates a component was requested while already
	// under construction on the same resolution chain and no fallback was
	// available to break the cycle.
	ErrCyclicRequest = errors.New("cyclic component request")

	// ErrInitializationRunning indicates InitializeStreaming was called
	// while a previous bring-up is still in progress.
	ErrInitializationRunning = errors.New("initialization already running")
)

// TimeoutError reports that a construction attempt or wait exceeded its
// allotted time. The message carries the component name and the elapsed
// milliseconds so operators can match it against the timeout table.
type TimeoutError struct {
	Name    string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("component %q timed out after %dms", e.Name, e.Elapsed.Milliseconds())
}

// DependencyError reports that a component's declared dependency never
// reached a usable state within the wait window, or failed to construct.
type DependencyError struct {
	Component  ComponentType
	Dependency ComponentType
	Err        error
}

func (e *DependencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("component %q: dependency %q unavailable: %v", e.Component, e.Dependency, e.Err)
	}
	return fmt.Sprintf("component %q: dependency %q unavailable", e.Component, e.Dependency)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// ConstructionError wraps a failure from a component factory function,
// attaching the component name for diagnostics. Recovered panics are
// normalized into the wrapped error before they cross a component
// boundary.
type ConstructionError struct {
	Name string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct %q: %v", e.Name, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// asError normalizes a recovered panic value into an error.
func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", v)
}
