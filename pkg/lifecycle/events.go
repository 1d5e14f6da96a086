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

// ProgressStatus is the phase a component load is in.
type ProgressStatus string

const (
	// ProgressLoading means construction started.
	ProgressLoading ProgressStatus = "loading"

	// ProgressReady means construction completed and the instance is cached.
	ProgressReady ProgressStatus = "ready"

	// ProgressFailed means construction failed after retries and fallbacks.
	ProgressFailed ProgressStatus = "failed"
)

// ProgressEvent describes one component load transition. Events are
// ephemeral: they are delivered to subscribed listeners and not persisted.
//
// Name is the component identifier (ComponentType.String() for managed
// components) or an initializer step name such as "ollama-server".
type ProgressEvent struct {
	Name      string
	Status    ProgressStatus
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// ProgressListener receives progress events. Listeners run on the
// dispatcher goroutine: never on the call stack that triggered the
// transition, so a listener may safely call back into the factory
// without unbounded recursion.
type ProgressListener func(ProgressEvent)

// Dispatcher decouples "state changed" from "listener invoked" with an
// explicit FIFO queue drained by a single goroutine. Publish never blocks
// on listener execution, and per-name delivery order matches publish
// order.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	queue     []ProgressEvent
	listeners map[int]ProgressListener
	nextID    int
	closed    bool

	notifyCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine.
// Callers own the dispatcher and must Close it.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:    logger,
		listeners: make(map[int]ProgressListener),
		notifyCh:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Subscribe registers a listener for all subsequent events. The returned
// cancel function removes the listener and is safe to call more than once.
func (d *Dispatcher) Subscribe(fn ProgressListener) func() {
	if fn == nil {
		return func() {}
	}
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// Publish enqueues an event for asynchronous delivery. Events published
// after Close are dropped.
func (d *Dispatcher) Publish(ev ProgressEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

// Close stops the delivery goroutine and drops undelivered events.
// Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.notifyCh:
			d.drain()
		}
	}
}

// drain delivers queued events in order. The queue is re-checked under
// the lock on every iteration so events published during delivery are
// picked up without another notify.
func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		fns := make([]ProgressListener, 0, len(d.listeners))
		for _, fn := range d.listeners {
			fns = append(fns, fn)
		}
		d.mu.Unlock()

		for _, fn := range fns {
			d.invoke(fn, ev)
		}
	}
}

// invoke runs one listener, recovering panics so a broken listener can
// never break delivery to the others.
func (d *Dispatcher) invoke(fn ProgressListener, ev ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("progress listener panicked",
				"component", ev.Name,
				"status", string(ev.Status),
				"panic", r,
			)
		}
	}()
	fn(ev)
}
