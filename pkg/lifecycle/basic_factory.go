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
	"log/slog"
	"sync"
	"time"
)

// BasicFactory constructs components by direct recursive resolution.
//
// Description:
//
//	Each resolution chain carries a creation stack. A component requested
//	again while already on its own chain's stack is served a fallback
//	stub instead of recursing forever; the stub is returned to that
//	caller only, uncached, so the real construction still completes and
//	wins the cache. A component whose construction fails outright is
//	served its fallback too, but that one is cached and the component
//	marked degraded, matching what callers would see from a partially
//	working system.
//
// Thread Safety: safe for concurrent use. Concurrent requests for the
// same component coalesce onto one construction.
type BasicFactory struct {
	logger     *slog.Logger
	dispatcher *Dispatcher
	ownsDisp   bool
	regs       Registrations

	mu        sync.Mutex
	instances map[ComponentType]any
	inflight  map[ComponentType]*inflightInit
	status    map[ComponentType]ProgressStatus
	degraded  map[ComponentType]bool
	disposed  bool
}

var _ Factory = (*BasicFactory)(nil)

// BasicFactoryOption configures a BasicFactory.
type BasicFactoryOption func(*BasicFactory)

// WithBasicLogger sets the logger. Defaults to slog.Default().
func WithBasicLogger(logger *slog.Logger) BasicFactoryOption {
	return func(f *BasicFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithBasicDispatcher shares an existing dispatcher instead of creating
// one. A shared dispatcher is not closed by Dispose.
func WithBasicDispatcher(d *Dispatcher) BasicFactoryOption {
	return func(f *BasicFactory) {
		if d != nil {
			f.dispatcher = d
			f.ownsDisp = false
		}
	}
}

// NewBasicFactory creates a factory serving the given catalog.
func NewBasicFactory(regs Registrations, opts ...BasicFactoryOption) *BasicFactory {
	f := &BasicFactory{
		logger:    slog.Default(),
		regs:      regs,
		instances: make(map[ComponentType]any),
		inflight:  make(map[ComponentType]*inflightInit),
		status:    make(map[ComponentType]ProgressStatus),
		degraded:  make(map[ComponentType]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.dispatcher == nil {
		f.dispatcher = NewDispatcher(f.logger)
		f.ownsDisp = true
	}
	return f
}

// Get implements Factory.
func (f *BasicFactory) Get(ctx context.Context, typ ComponentType, cfg *ComponentConfig) (any, error) {
	return f.resolve(ctx, typ, cfg, nil)
}

func (f *BasicFactory) resolve(ctx context.Context, typ ComponentType, cfg *ComponentConfig, path resolvePath) (any, error) {
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

	// Creation-stack guard: a component requested while already on its
	// own chain's stack gets the fallback, uncached, and the chain is
	// cut. The original construction keeps going and owns the cache.
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

	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return nil, ErrFactoryDisposed
	}
	if v, ok := f.instances[typ]; ok {
		f.mu.Unlock()
		RecordCacheHit(string(typ))
		return v, nil
	}
	if inf, ok := f.inflight[typ]; ok {
		f.mu.Unlock()
		select {
		case <-inf.done:
			if inf.err != nil {
				return nil, inf.err
			}
			return inf.value, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	inf := &inflightInit{done: make(chan struct{})}
	f.inflight[typ] = inf
	f.status[typ] = ProgressLoading
	f.mu.Unlock()

	start := time.Now()
	f.dispatcher.Publish(ProgressEvent{Name: string(typ), Status: ProgressLoading, StartedAt: start})

	value, err := f.build(ctx, typ, reg.Build, effective, path.push(typ))

	if err != nil && effective.Fallback != nil {
		RecordFallback(string(typ), "construction_failure")
		f.logger.Warn("component construction failed, substituting fallback",
			"component", typ,
			"error", err,
		)
		value = effective.Fallback()
		f.mu.Lock()
		f.instances[typ] = value
		f.degraded[typ] = true
		f.status[typ] = ProgressReady
		delete(f.inflight, typ)
		f.mu.Unlock()

		inf.value = value
		close(inf.done)
		f.dispatcher.Publish(ProgressEvent{Name: string(typ), Status: ProgressReady, StartedAt: start, EndedAt: time.Now(), Err: err})
		RecordInitDuration(string(typ), "degraded", time.Since(start).Seconds())
		return value, nil
	}

	f.mu.Lock()
	if err != nil {
		f.status[typ] = ProgressFailed
	} else {
		f.instances[typ] = value
		f.status[typ] = ProgressReady
	}
	delete(f.inflight, typ)
	f.mu.Unlock()

	inf.value = value
	inf.err = err
	close(inf.done)

	if err != nil {
		f.dispatcher.Publish(ProgressEvent{Name: string(typ), Status: ProgressFailed, StartedAt: start, EndedAt: time.Now(), Err: err})
		RecordInitDuration(string(typ), "failed", time.Since(start).Seconds())
		return nil, err
	}
	f.dispatcher.Publish(ProgressEvent{Name: string(typ), Status: ProgressReady, StartedAt: start, EndedAt: time.Now()})
	RecordInitDuration(string(typ), "ready", time.Since(start).Seconds())
	return value, nil
}

// build races one builder invocation against its timeout. Dependencies
// requested by the builder re-enter resolve with the extended path.
func (f *BasicFactory) build(ctx context.Context, typ ComponentType, builder Builder, cfg ComponentConfig, path resolvePath) (any, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeoutFor(typ)
	}
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
		v, err := builder(attemptCtx, &pathResolver{factory: f, path: path})
		resCh <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	select {
	case res := <-resCh:
		timer.Stop()
		if res.err != nil {
			return nil, &ConstructionError{Name: string(typ), Err: res.err}
		}
		return res.value, nil
	case <-timer.C:
		RecordInitTimeout(string(typ))
		return nil, &TimeoutError{Name: string(typ), Elapsed: timeout}
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	}
}

// pathResolver lets a builder resolve dependencies while carrying the
// creation stack forward.
type pathResolver struct {
	factory *BasicFactory
	path    resolvePath
}

func (r *pathResolver) Resolve(ctx context.Context, typ ComponentType) (any, error) {
	return r.factory.resolve(ctx, typ, nil, r.path)
}

// IsReady implements Factory.
func (f *BasicFactory) IsReady(typ ComponentType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.instances[typ]
	return ok
}

// IsDegraded reports whether typ was served by its fallback.
func (f *BasicFactory) IsDegraded(typ ComponentType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded[typ]
}

// OnProgress implements Factory.
func (f *BasicFactory) OnProgress(fn ProgressListener) func() {
	return f.dispatcher.Subscribe(fn)
}

// Clear implements Factory. In-flight constructions are awaited first so
// a late construction cannot repopulate the cache after the clear.
func (f *BasicFactory) Clear(ctx context.Context) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return ErrFactoryDisposed
	}
	waiting := make([]*inflightInit, 0, len(f.inflight))
	for _, inf := range f.inflight {
		waiting = append(waiting, inf)
	}
	f.mu.Unlock()

	for _, inf := range waiting {
		select {
		case <-inf.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.instances = make(map[ComponentType]any)
	f.inflight = make(map[ComponentType]*inflightInit)
	f.status = make(map[ComponentType]ProgressStatus)
	f.degraded = make(map[ComponentType]bool)
	f.mu.Unlock()
	return nil
}

// Dispose implements Factory. Idempotent.
func (f *BasicFactory) Dispose(ctx context.Context) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	err := f.Clear(ctx)

	f.mu.Lock()
	f.disposed = true
	f.mu.Unlock()

	if f.ownsDisp {
		f.dispatcher.Close()
	}
	return err
}
