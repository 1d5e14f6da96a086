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
	"sort"
	"sync"
	"time"
)

// ServiceFactory constructs the value for a named service. Factories must
// honor ctx cancellation: when an attempt times out, ctx is cancelled and
// the result of the abandoned attempt is discarded.
type ServiceFactory func(ctx context.Context) (any, error)

// ServiceOptions tune one named service's construction and teardown.
type ServiceOptions struct {
	// Timeout bounds a single construction attempt. Zero means
	// DefaultComponentTimeout; sub-minimum values are raised to
	// MinComponentTimeout.
	Timeout time.Duration

	// Retries is how many times a failed attempt is repeated with
	// exponential backoff. Attempts = Retries + 1. Negative means zero.
	Retries int

	// Description is attached to logs for diagnostics.
	Description string

	// Destroy, when set, is invoked with the cached value during
	// ClearService. Its error is reported but never blocks the clear.
	Destroy func(value any) error
}

// ServiceMetrics is the registry's per-service bookkeeping. Returned by
// value; the registry owns the live record.
type ServiceMetrics struct {
	InitTime    time.Duration
	RetryCount  int
	AccessCount int64
	LastAccess  time.Time
	State       ComponentState
}

// inflightInit is a single outstanding construction. Waiters block on
// done; value and err are written exactly once before done is closed.
type inflightInit struct {
	done  chan struct{}
	value any
	err   error
}

// ServiceRegistry guarantees that a named asynchronous resource is
// constructed at most once, with bounded-time construction and automatic
// retry.
//
// Description:
//
//	Concurrent GetService calls for the same name coalesce onto one
//	construction. Cleanup serializes against in-flight construction so a
//	value can never land in the cache after the clear that meant to
//	remove it. Timeout expiry and factory failure are indistinguishable
//	to callers: both surface as an error after retries are exhausted.
//
// Thread Safety: all methods are safe for concurrent use.
type ServiceRegistry struct {
	logger     *slog.Logger
	dispatcher *Dispatcher

	mu       sync.Mutex
	values   map[string]any
	inflight map[string]*inflightInit
	cleanups map[string]chan struct{}
	options  map[string]ServiceOptions
	metrics  map[string]*ServiceMetrics
	disposed bool
}

// RegistryOption configures a ServiceRegistry.
type RegistryOption func(*ServiceRegistry)

// WithRegistryLogger sets the logger. Defaults to slog.Default().
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *ServiceRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryDispatcher attaches a progress dispatcher. When set, the
// registry publishes a loading event when construction starts and a
// ready/failed event when it settles.
func WithRegistryDispatcher(d *Dispatcher) RegistryOption {
	return func(r *ServiceRegistry) {
		r.dispatcher = d
	}
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry(opts ...RegistryOption) *ServiceRegistry {
	r := &ServiceRegistry{
		logger:   slog.Default(),
		values:   make(map[string]any),
		inflight: make(map[string]*inflightInit),
		cleanups: make(map[string]chan struct{}),
		options:  make(map[string]ServiceOptions),
		metrics:  make(map[string]*ServiceMetrics),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetService returns the named service, constructing it on first request.
//
// Description:
//
//	If the value is cached it is returned immediately. If a construction
//	is in flight the call joins it and shares its outcome. Otherwise the
//	factory runs, raced against a cancellable timeout and retried with
//	exponential backoff (base delay doubling per retry, capped at
//	RetryBackoffMax). On final failure the in-flight record is dropped so
//	a later call retries from a clean slate.
//
// Inputs:
//
//	ctx - Cancels waits and in-progress construction.
//	name - Service identity; the at-most-once guarantee is per name.
//	factory - Construction function. Must be non-nil.
//	opts - Optional per-call options; nil applies the global defaults.
//
// Outputs:
//
//	any - The constructed (or cached, or joined) value.
//	error - ErrRegistryDisposed, ErrNilFactory, ctx error, or the last
//	construction error after retries.
//
// Thread Safety: safe for concurrent use.
func (r *ServiceRegistry) GetService(ctx context.Context, name string, factory ServiceFactory, opts *ServiceOptions) (any, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	for {
		r.mu.Lock()
		if r.disposed {
			r.mu.Unlock()
			return nil, ErrRegistryDisposed
		}

		// A cleanup owns the name until it finishes; serialize behind it.
		if cleanup, ok := r.cleanups[name]; ok {
			r.mu.Unlock()
			select {
			case <-cleanup:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		m := r.metricsLocked(name)
		m.AccessCount++
		m.LastAccess = time.Now()

		if v, ok := r.values[name]; ok {
			r.mu.Unlock()
			RecordCacheHit(name)
			return v, nil
		}

		if inf, ok := r.inflight[name]; ok {
			r.mu.Unlock()
			select {
			case <-inf.done:
				return inf.value, inf.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// This call owns the construction.
		inf := &inflightInit{done: make(chan struct{})}
		r.inflight[name] = inf
		o := normalizeOptions(opts)
		r.options[name] = o
		m.State = StateInitializing
		r.mu.Unlock()

		start := time.Now()
		r.publish(ProgressEvent{Name: name, Status: ProgressLoading, StartedAt: start})

		value, retriesUsed, err := r.construct(ctx, name, factory, o)
		elapsed := time.Since(start)

		r.mu.Lock()
		m = r.metricsLocked(name)
		m.RetryCount = retriesUsed
		if err != nil {
			m.State = StateFailed
			// Clean slate: the next access constructs again.
			delete(r.inflight, name)
		} else {
			m.State = StateReady
			m.InitTime = elapsed
			r.values[name] = value
			delete(r.inflight, name)
		}
		r.mu.Unlock()

		inf.value = value
		inf.err = err
		close(inf.done)

		if err != nil {
			RecordInitDuration(name, "failed", elapsed.Seconds())
			r.logger.Warn("service construction failed",
				"service", name,
				"retries", retriesUsed,
				"elapsed", elapsed,
				"error", err,
			)
			r.publish(ProgressEvent{Name: name, Status: ProgressFailed, StartedAt: start, EndedAt: time.Now(), Err: err})
			return nil, err
		}

		RecordInitDuration(name, "ready", elapsed.Seconds())
		r.logger.Debug("service constructed",
			"service", name,
			"retries", retriesUsed,
			"elapsed", elapsed,
		)
		r.publish(ProgressEvent{Name: name, Status: ProgressReady, StartedAt: start, EndedAt: time.Now()})
		return value, nil
	}
}

// construct runs the factory with timeout and retry. It returns the number
// of retries consumed: 0 when the first attempt wins.
func (r *ServiceRegistry) construct(ctx context.Context, name string, factory ServiceFactory, o ServiceOptions) (any, int, error) {
	attempts := o.Retries + 1
	delay := RetryBackoffBase
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			RecordInitRetry(name)
			r.logger.Debug("retrying service construction",
				"service", name,
				"attempt", attempt+1,
				"backoff", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, attempt - 1, lastErr
			}
			delay = nextBackoff(delay)
		}

		value, err := r.runAttempt(ctx, name, factory, o.Timeout)
		if err == nil {
			return value, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, lastErr
		}
	}
	return nil, attempts - 1, lastErr
}

// runAttempt races one factory invocation against a cancellable timeout.
// The timer is stopped explicitly when the factory wins so it cannot fire
// late; the attempt context is cancelled either way so an abandoned
// factory can stop early.
func (r *ServiceRegistry) runAttempt(ctx context.Context, name string, factory ServiceFactory, timeout time.Duration) (any, error) {
	timeout = EnforceMinTimeout(timeout)
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	resCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resCh <- outcome{err: asError(rec)}
			}
		}()
		v, err := factory(attemptCtx)
		resCh <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	select {
	case res := <-resCh:
		timer.Stop()
		if res.err != nil {
			return nil, &ConstructionError{Name: name, Err: res.err}
		}
		return res.value, nil
	case <-timer.C:
		RecordInitTimeout(name)
		return nil, &TimeoutError{Name: name, Elapsed: timeout}
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	}
}

// Cached returns the resolved value without triggering construction.
func (r *ServiceRegistry) Cached(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[name]
	return v, ok
}

// Put caches an externally constructed value for name, replacing any
// previous value. Used for fallback substitution, where a degraded stub
// is cached as if it were the real component.
func (r *ServiceRegistry) Put(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	r.values[name] = value
	m := r.metricsLocked(name)
	m.State = StateReady
}

// ClearService tears down one named service.
//
// Description:
//
//	If a cleanup for the name is already running, the call waits for it
//	instead of double-clearing. Any in-flight construction is awaited
//	first with its error swallowed, so a settled promise never outlives
//	its cache entry, then the entry (value, options, metrics) is removed
//	and the destructor, if any, runs.
//
// Outputs:
//
//	error - ErrRegistryDisposed, ctx error, or the destructor's error.
//
// Thread Safety: safe for concurrent use.
func (r *ServiceRegistry) ClearService(ctx context.Context, name string) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return ErrRegistryDisposed
	}

	if cleanup, ok := r.cleanups[name]; ok {
		r.mu.Unlock()
		select {
		case <-cleanup:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cleanup := make(chan struct{})
	r.cleanups[name] = cleanup
	inf := r.inflight[name]
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.cleanups, name)
		r.mu.Unlock()
		close(cleanup)
	}

	if inf != nil {
		// Construction failure must not fail the cleanup.
		select {
		case <-inf.done:
		case <-ctx.Done():
			release()
			return ctx.Err()
		}
	}

	r.mu.Lock()
	value, hadValue := r.values[name]
	o := r.options[name]
	delete(r.values, name)
	delete(r.inflight, name)
	delete(r.options, name)
	delete(r.metrics, name)
	r.mu.Unlock()

	var derr error
	if hadValue && o.Destroy != nil {
		derr = r.safeDestroy(name, o.Destroy, value)
	}

	release()
	return derr
}

// ClearAll tears down every service, tolerating individual failures.
// Destructor errors are joined and returned after every entry is cleared.
func (r *ServiceRegistry) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return ErrRegistryDisposed
	}
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	// Names present only as in-flight or cleanup still need waiting on.
	for name := range r.inflight {
		names = appendMissing(names, name)
	}
	for name := range r.cleanups {
		names = appendMissing(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := r.ClearService(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispose clears everything and marks the registry unusable. Idempotent:
// a second call returns nil without side effects.
func (r *ServiceRegistry) Dispose(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	err := r.ClearAll(ctx)

	r.mu.Lock()
	r.disposed = true
	r.mu.Unlock()
	return err
}

// Metrics returns a copy of the per-service metrics for name.
func (r *ServiceRegistry) Metrics(name string) (ServiceMetrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[name]
	if !ok {
		return ServiceMetrics{}, false
	}
	return *m, true
}

// ServiceNames returns the names the registry has seen, sorted.
func (r *ServiceRegistry) ServiceNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ServiceRegistry) metricsLocked(name string) *ServiceMetrics {
	m, ok := r.metrics[name]
	if !ok {
		m = &ServiceMetrics{State: StateNotStarted}
		r.metrics[name] = m
	}
	return m
}

func (r *ServiceRegistry) publish(ev ProgressEvent) {
	if r.dispatcher != nil {
		r.dispatcher.Publish(ev)
	}
}

// safeDestroy runs a destructor, converting panics into errors.
func (r *ServiceRegistry) safeDestroy(name string, destroy func(any) error, value any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = asError(rec)
			r.logger.Warn("service destructor panicked", "service", name, "panic", rec)
		}
	}()
	if derr := destroy(value); derr != nil {
		r.logger.Warn("service destructor failed", "service", name, "error", derr)
		return derr
	}
	return nil
}

func normalizeOptions(opts *ServiceOptions) ServiceOptions {
	var o ServiceOptions
	if opts != nil {
		o = *opts
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultComponentTimeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	return o
}

func appendMissing(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}
