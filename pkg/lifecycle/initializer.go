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

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Step is one unit of bring-up work.
type Step struct {
	// Name identifies the step in results, events, and dependency
	// declarations of later steps.
	Name string

	// Factory does the work. It must honor ctx cancellation.
	Factory ServiceFactory

	// Essential marks a step the tool cannot run without. An essential
	// failure aborts bring-up; a non-essential one is recorded and
	// skipped past.
	Essential bool

	// Timeout bounds the factory call. Zero means
	// DefaultComponentTimeout.
	Timeout time.Duration

	// Dependencies names steps that must have completed before this
	// one runs. Background phase only.
	Dependencies []string

	// DependencyWait bounds the poll for each dependency. Zero means
	// DefaultDependencyWait.
	DependencyWait time.Duration

	// Description is attached to logs and progress display.
	Description string
}

// Result reports one bring-up run. Returned as a snapshot; the live
// accumulator keeps updating while the background phase runs.
type Result struct {
	EssentialComponentsReady bool
	ReadyComponents          []string
	BackgroundComponents     []string
	FailedComponents         map[string]error
	TotalTime                time.Duration
	Warnings                 []string
}

func (r *Result) clone() *Result {
	out := &Result{
		EssentialComponentsReady: r.EssentialComponentsReady,
		ReadyComponents:          append([]string(nil), r.ReadyComponents...),
		BackgroundComponents:     append([]string(nil), r.BackgroundComponents...),
		FailedComponents:         make(map[string]error, len(r.FailedComponents)),
		TotalTime:                r.TotalTime,
		Warnings:                 append([]string(nil), r.Warnings...),
	}
	for name, err := range r.FailedComponents {
		out.FailedComponents[name] = err
	}
	return out
}

// StreamingInitializer sequences bring-up into an essential foreground
// phase and a serialized background phase.
//
// Description:
//
//	Foreground steps run sequentially on the caller's goroutine, each
//	bounded by its own cancellable timeout. An essential failure aborts
//	the run and the result reports EssentialComponentsReady false; the
//	tool is expected to refuse interactive use. Background steps run
//	strictly one at a time on a single goroutine, each first polling for
//	its declared dependencies; a background failure or dependency
//	timeout is recorded and the sequence moves on. Serialization is
//	deliberate: it trades background latency for never racing two
//	factories on shared dependency resolution.
//
//	Every outstanding cancellable (step timeouts, WaitForComponents
//	timers) is tracked under a synthetic id and cancelled on Dispose, so
//	no timer outlives the initializer.
//
// Thread Safety: safe for concurrent use. One bring-up run at a time;
// a second InitializeStreaming while one runs fails with
// ErrInitializationRunning.
type StreamingInitializer struct {
	logger     *slog.Logger
	dispatcher *Dispatcher
	ownsDisp   bool
	readyCheck func(name string) bool

	mu       sync.Mutex
	res      *Result
	started  time.Time
	readySet map[string]bool
	readyCh  map[string]chan struct{}
	cancels  map[string]func()
	running  bool
	disposed bool
	stopCh   chan struct{}
	bgDone   chan struct{}
}

// InitializerOption configures a StreamingInitializer.
type InitializerOption func(*StreamingInitializer)

// WithInitializerLogger sets the logger. Defaults to slog.Default().
func WithInitializerLogger(logger *slog.Logger) InitializerOption {
	return func(si *StreamingInitializer) {
		if logger != nil {
			si.logger = logger
		}
	}
}

// WithInitializerDispatcher shares an existing dispatcher. A shared
// dispatcher is not closed by Dispose.
func WithInitializerDispatcher(d *Dispatcher) InitializerOption {
	return func(si *StreamingInitializer) {
		if d != nil {
			si.dispatcher = d
			si.ownsDisp = false
		}
	}
}

// WithReadyChecker adds an external readiness source consulted by
// dependency polls and WaitForComponents, typically Factory.IsReady.
// Steps completed by this initializer are always considered ready.
func WithReadyChecker(fn func(name string) bool) InitializerOption {
	return func(si *StreamingInitializer) {
		si.readyCheck = fn
	}
}

// NewStreamingInitializer creates an idle initializer.
func NewStreamingInitializer(opts ...InitializerOption) *StreamingInitializer {
	done := make(chan struct{})
	close(done)
	si := &StreamingInitializer{
		logger:   slog.Default(),
		res:      newResult(),
		readySet: make(map[string]bool),
		readyCh:  make(map[string]chan struct{}),
		cancels:  make(map[string]func()),
		stopCh:   make(chan struct{}),
		bgDone:   done,
	}
	for _, opt := range opts {
		opt(si)
	}
	if si.dispatcher == nil {
		si.dispatcher = NewDispatcher(si.logger)
		si.ownsDisp = true
	}
	return si
}

func newResult() *Result {
	return &Result{FailedComponents: make(map[string]error)}
}

// InitializeStreaming runs the essential phase to completion, launches
// the background phase, and returns.
//
// Inputs:
//
//	ctx - Cancels the whole run, both phases.
//	foreground - Steps run sequentially before the tool is usable. May
//	mix essential and non-essential steps.
//	background - Steps run serialized after the essential phase
//	succeeds.
//
// Outputs:
//
//	*Result - Snapshot at essential-phase completion. An essential step
//	failure is reported here, not as an error:
//	EssentialComponentsReady is false and the failure is in
//	FailedComponents.
//	error - ErrInitializerDisposed, ErrInitializationRunning, or ctx
//	cancellation. Step failures are never returned as errors.
//
// Thread Safety: safe for concurrent use; concurrent runs are refused.
func (si *StreamingInitializer) InitializeStreaming(ctx context.Context, foreground, background []Step) (*Result, error) {
	si.mu.Lock()
	if si.disposed {
		si.mu.Unlock()
		return nil, ErrInitializerDisposed
	}
	if si.running {
		si.mu.Unlock()
		return nil, ErrInitializationRunning
	}
	si.running = true
	si.res = newResult()
	si.started = time.Now()
	bgDone := make(chan struct{})
	si.bgDone = bgDone
	si.mu.Unlock()

	start := si.started

	for _, step := range foreground {
		err := si.runStep(ctx, step)
		if err == nil {
			si.markReady(step.Name, true)
			continue
		}
		if ctx.Err() != nil {
			si.finishRun(bgDone, start, false)
			return si.Result(), ctx.Err()
		}
		if errors.Is(err, ErrInitializerDisposed) {
			si.finishRun(bgDone, start, false)
			return si.Result(), ErrInitializerDisposed
		}

		si.recordFailure(step.Name, err)
		if step.Essential {
			si.logger.Error("essential component failed, aborting bring-up",
				"step", step.Name,
				"error", err,
			)
			si.finishRun(bgDone, start, false)
			return si.Result(), nil
		}
		si.addWarning(fmt.Sprintf("%s failed to load: %v", step.Name, err))
		si.logger.Warn("non-essential component failed, continuing",
			"step", step.Name,
			"error", err,
		)
	}

	si.mu.Lock()
	si.res.EssentialComponentsReady = true
	si.res.TotalTime = time.Since(start)
	si.mu.Unlock()

	go si.runBackground(ctx, background, bgDone, start)

	return si.Result(), nil
}

// finishRun closes out a run that never reached the background phase.
func (si *StreamingInitializer) finishRun(bgDone chan struct{}, start time.Time, essentialReady bool) {
	si.mu.Lock()
	si.res.EssentialComponentsReady = essentialReady
	si.res.TotalTime = time.Since(start)
	si.running = false
	si.mu.Unlock()
	close(bgDone)
}

// runBackground executes background steps strictly one at a time.
func (si *StreamingInitializer) runBackground(ctx context.Context, steps []Step, bgDone chan struct{}, start time.Time) {
	defer func() {
		si.mu.Lock()
		si.res.TotalTime = time.Since(start)
		si.running = false
		si.mu.Unlock()
		close(bgDone)
	}()

	for _, step := range steps {
		select {
		case <-si.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if dep, ok := si.awaitStepDependencies(ctx, step); !ok {
			err := &DependencyError{
				Component:  ComponentType(step.Name),
				Dependency: ComponentType(dep),
				Err:        fmt.Errorf("not ready within %s", stepDependencyWait(step)),
			}
			si.recordFailure(step.Name, err)
			si.addWarning(fmt.Sprintf("%s skipped: dependency %s not ready", step.Name, dep))
			si.logger.Warn("background step skipped, dependency not ready",
				"step", step.Name,
				"dependency", dep,
			)
			continue
		}

		if err := si.runStep(ctx, step); err != nil {
			if errors.Is(err, ErrInitializerDisposed) || ctx.Err() != nil {
				return
			}
			si.recordFailure(step.Name, err)
			si.addWarning(fmt.Sprintf("%s failed in background: %v", step.Name, err))
			si.logger.Warn("background step failed, continuing",
				"step", step.Name,
				"error", err,
			)
			continue
		}
		si.markReady(step.Name, false)
	}
}

// awaitStepDependencies polls until every declared dependency of step is
// ready. Returns the first dependency that never became ready.
func (si *StreamingInitializer) awaitStepDependencies(ctx context.Context, step Step) (string, bool) {
	wait := stepDependencyWait(step)
	for _, dep := range step.Dependencies {
		deadline := time.Now().Add(wait)
		for !si.isReady(dep) {
			if time.Now().After(deadline) {
				return dep, false
			}
			select {
			case <-si.stopCh:
				return dep, false
			case <-ctx.Done():
				return dep, false
			case <-time.After(DependencyPollInterval):
			}
		}
	}
	return "", true
}

func stepDependencyWait(step Step) time.Duration {
	if step.DependencyWait > 0 {
		return step.DependencyWait
	}
	return DefaultDependencyWait
}

// runStep races one step factory against its timeout. The cancel for
// the attempt is tracked so Dispose can cut a step short.
func (si *StreamingInitializer) runStep(ctx context.Context, step Step) error {
	if step.Factory == nil {
		return fmt.Errorf("step %q has no factory", step.Name)
	}
	timeout := EnforceMinTimeout(step.Timeout)

	attemptCtx, cancel := context.WithCancel(ctx)
	id := si.track(cancel)
	defer func() {
		cancel()
		si.untrack(id)
	}()

	started := time.Now()
	si.dispatcher.Publish(ProgressEvent{Name: step.Name, Status: ProgressLoading, StartedAt: started})
	si.logger.Debug("running initialization step",
		"step", step.Name,
		"essential", step.Essential,
		"timeout", timeout,
	)

	type outcome struct {
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resCh <- outcome{err: asError(rec)}
			}
		}()
		_, err := step.Factory(attemptCtx)
		resCh <- outcome{err: err}
	}()

	timer := time.NewTimer(timeout)
	var err error
	select {
	case res := <-resCh:
		timer.Stop()
		if res.err != nil {
			err = &ConstructionError{Name: step.Name, Err: res.err}
		}
	case <-timer.C:
		RecordInitTimeout(step.Name)
		err = &TimeoutError{Name: step.Name, Elapsed: timeout}
	case <-ctx.Done():
		timer.Stop()
		err = ctx.Err()
	case <-si.stopCh:
		timer.Stop()
		err = ErrInitializerDisposed
	}

	ended := time.Now()
	if err != nil {
		si.dispatcher.Publish(ProgressEvent{Name: step.Name, Status: ProgressFailed, StartedAt: started, EndedAt: ended, Err: err})
		RecordInitDuration(step.Name, "failed", ended.Sub(started).Seconds())
		return err
	}
	si.dispatcher.Publish(ProgressEvent{Name: step.Name, Status: ProgressReady, StartedAt: started, EndedAt: ended})
	RecordInitDuration(step.Name, "ready", ended.Sub(started).Seconds())
	return nil
}

// markReady records a completed step and wakes its waiters. essential
// routes the name into ReadyComponents, otherwise BackgroundComponents.
func (si *StreamingInitializer) markReady(name string, essential bool) {
	si.mu.Lock()
	already := si.readySet[name]
	si.readySet[name] = true
	ch, ok := si.readyCh[name]
	if !ok {
		ch = make(chan struct{})
		si.readyCh[name] = ch
	}
	if essential {
		si.res.ReadyComponents = append(si.res.ReadyComponents, name)
	} else {
		si.res.BackgroundComponents = append(si.res.BackgroundComponents, name)
	}
	si.mu.Unlock()

	if !already {
		close(ch)
	}
}

func (si *StreamingInitializer) isReady(name string) bool {
	si.mu.Lock()
	ready := si.readySet[name]
	si.mu.Unlock()
	if ready {
		return true
	}
	return si.readyCheck != nil && si.readyCheck(name)
}

func (si *StreamingInitializer) recordFailure(name string, err error) {
	si.mu.Lock()
	si.res.FailedComponents[name] = err
	si.mu.Unlock()
}

func (si *StreamingInitializer) addWarning(w string) {
	si.mu.Lock()
	si.res.Warnings = append(si.res.Warnings, w)
	si.mu.Unlock()
}

// Result returns a snapshot of the current run's accumulator. Safe to
// call at any time, including while the background phase is running.
func (si *StreamingInitializer) Result() *Result {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.res.clone()
}

// BackgroundDone returns a channel closed when the current run's
// background phase finishes. Closed immediately when no run is active.
func (si *StreamingInitializer) BackgroundDone() <-chan struct{} {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.bgDone
}

// WaitForComponents blocks until every named component is ready or the
// timeout elapses.
//
// Outputs:
//
//	bool - True when every name became ready in time. False on timeout,
//	which is an expected condition, not an error.
//	error - ErrInitializerDisposed, or ctx cancellation. Never set for
//	an ordinary timeout.
//
// Thread Safety: safe for concurrent use.
func (si *StreamingInitializer) WaitForComponents(ctx context.Context, names []string, timeout time.Duration) (bool, error) {
	si.mu.Lock()
	if si.disposed {
		si.mu.Unlock()
		return false, ErrInitializerDisposed
	}
	chans := make([]<-chan struct{}, 0, len(names))
	pollNames := make([]string, 0, len(names))
	for _, name := range names {
		if si.readySet[name] {
			continue
		}
		ch, ok := si.readyCh[name]
		if !ok {
			ch = make(chan struct{})
			si.readyCh[name] = ch
		}
		chans = append(chans, ch)
		pollNames = append(pollNames, name)
	}
	si.mu.Unlock()

	if len(chans) == 0 {
		return true, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	id := si.track(cancel)
	defer func() {
		cancel()
		si.untrack(id)
	}()

	g, gctx := errgroup.WithContext(waitCtx)
	for i := range chans {
		ch := chans[i]
		name := pollNames[i]
		g.Go(func() error {
			for {
				select {
				case <-ch:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(DependencyPollInterval):
					// External readiness has no channel to close, so
					// poll it.
					if si.readyCheck != nil && si.readyCheck(name) {
						return nil
					}
				}
			}
		})
	}

	err := g.Wait()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	si.mu.Lock()
	disposed := si.disposed
	si.mu.Unlock()
	if disposed {
		return false, ErrInitializerDisposed
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// Cancelled by Dispose racing the disposed flag.
	return false, ErrInitializerDisposed
}

// track registers a cancel under a fresh synthetic id.
func (si *StreamingInitializer) track(cancel func()) string {
	id := uuid.NewString()
	si.mu.Lock()
	if si.disposed {
		si.mu.Unlock()
		cancel()
		return id
	}
	si.cancels[id] = cancel
	si.mu.Unlock()
	return id
}

func (si *StreamingInitializer) untrack(id string) {
	si.mu.Lock()
	delete(si.cancels, id)
	si.mu.Unlock()
}

// Dispose cancels every tracked cancellable and marks the initializer
// unusable. Idempotent. The background phase, if running, observes the
// stop and exits between steps.
func (si *StreamingInitializer) Dispose(ctx context.Context) error {
	si.mu.Lock()
	if si.disposed {
		si.mu.Unlock()
		return nil
	}
	si.disposed = true
	cancels := make([]func(), 0, len(si.cancels))
	for _, cancel := range si.cancels {
		cancels = append(cancels, cancel)
	}
	si.cancels = make(map[string]func())
	close(si.stopCh)
	si.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if si.ownsDisp {
		si.dispatcher.Close()
	}
	return nil
}
