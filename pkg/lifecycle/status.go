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
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// HealthStatus is a component's operational condition as the tracker
// sees it, independent of the state machine's construction states.
type HealthStatus string

const (
	HealthNotLoaded HealthStatus = "not-loaded"
	HealthLoading   HealthStatus = "loading"
	HealthReady     HealthStatus = "ready"
	HealthFailed    HealthStatus = "failed"
	HealthDegraded  HealthStatus = "degraded"
)

// SystemStatus is the aggregate condition across all tracked components.
type SystemStatus string

const (
	SystemHealthy  SystemStatus = "healthy"
	SystemDegraded SystemStatus = "degraded"
	SystemCritical SystemStatus = "critical"
)

// ComponentMetrics are the tracker's operational counters for one
// component.
type ComponentMetrics struct {
	InitTime        time.Duration `json:"init_time_ms"`
	MemoryEstimate  int64         `json:"memory_estimate_bytes"`
	SuccessCount    int64         `json:"success_count"`
	FailureCount    int64         `json:"failure_count"`
	AvgResponseTime time.Duration `json:"avg_response_time_ms"`
	LastOperationAt time.Time     `json:"last_operation_at"`
}

// HealthRecord is one component's live health entry.
type HealthRecord struct {
	Name             string           `json:"name"`
	Status           HealthStatus     `json:"status"`
	LastCheckedAt    time.Time        `json:"last_checked_at"`
	LastResponseTime time.Duration    `json:"last_response_time_ms"`
	ErrorCount       int              `json:"error_count"`
	LastError        string           `json:"last_error,omitempty"`
	Metrics          ComponentMetrics `json:"metrics"`
	Dependencies     []string         `json:"dependencies,omitempty"`
	Capabilities     []string         `json:"capabilities,omitempty"`
}

// TrackerEventType identifies tracker notifications.
type TrackerEventType string

const (
	EventComponentDegraded    TrackerEventType = "componentDegraded"
	EventHealthCheckCompleted TrackerEventType = "healthCheckCompleted"
)

// TrackerEvent is delivered to tracker listeners.
type TrackerEvent struct {
	Type      TrackerEventType
	Name      string
	Record    HealthRecord
	Timestamp time.Time
}

// TrackerListener observes tracker events. Invoked synchronously;
// panics are recovered and logged.
type TrackerListener func(TrackerEvent)

// Default tracker tuning.
const (
	DefaultFailureThreshold    = 3
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultReadyFraction       = 0.8
)

// DefaultCriticalComponents are the components without which the tool
// cannot hold a conversation at all.
func DefaultCriticalComponents() []string {
	return []string{
		string(ComponentAIClient),
		string(ComponentIntentAnalyzer),
		string(ComponentConversationManager),
	}
}

// MemoryEstimator returns a rough in-memory footprint for a component,
// in bytes. Estimates only; refreshed by the periodic health check.
type MemoryEstimator func(name string) int64

// defaultMemoryEstimate is a static footprint table. Numbers are rough
// working-set guesses for display, not measurements.
func defaultMemoryEstimate(name string) int64 {
	const mb = int64(1 << 20)
	switch ComponentType(name) {
	case ComponentAIClient:
		return 48 * mb
	case ComponentProjectContext:
		return 32 * mb
	case ComponentAdvancedContextManager:
		return 24 * mb
	case ComponentConversationManager:
		return 16 * mb
	case ComponentTaskPlanner, ComponentNaturalLanguageRouter:
		return 8 * mb
	case ComponentIntentAnalyzer:
		return 4 * mb
	default:
		return 2 * mb
	}
}

// StatusTracker aggregates live component health, decoupled from the
// construction path.
//
// Description:
//
//	The tracker learns construction outcomes by subscribing to progress
//	events and operational outcomes through RecordSuccess and
//	RecordFailure, which any collaborator may call once a component is
//	running. When a READY component's consecutive error count crosses
//	the failure threshold it is demoted to degraded and a
//	componentDegraded event fires, once per crossing: becoming ready
//	again resets the error window, so a later crossing fires again. A
//	periodic loop refreshes memory estimates for live components and
//	fires healthCheckCompleted.
//
// Thread Safety: all methods are safe for concurrent use.
type StatusTracker struct {
	logger           *slog.Logger
	failureThreshold int
	checkInterval    time.Duration
	readyFraction    float64
	critical         []string
	estimator        MemoryEstimator

	mu        sync.Mutex
	records   map[string]*HealthRecord
	listeners map[int]TrackerListener
	nextID    int
	unsub     []func()
	started   bool
	disposed  bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// TrackerOption configures a StatusTracker.
type TrackerOption func(*StatusTracker)

// WithTrackerLogger sets the logger. Defaults to slog.Default().
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *StatusTracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithFailureThreshold sets how many consecutive failures demote a
// ready component. Defaults to DefaultFailureThreshold.
func WithFailureThreshold(n int) TrackerOption {
	return func(t *StatusTracker) {
		if n > 0 {
			t.failureThreshold = n
		}
	}
}

// WithHealthCheckInterval sets the periodic check cadence. Defaults to
// DefaultHealthCheckInterval.
func WithHealthCheckInterval(d time.Duration) TrackerOption {
	return func(t *StatusTracker) {
		if d > 0 {
			t.checkInterval = d
		}
	}
}

// WithCriticalComponents replaces the critical set consulted by
// GetSystemHealth.
func WithCriticalComponents(names []string) TrackerOption {
	return func(t *StatusTracker) {
		t.critical = append([]string(nil), names...)
	}
}

// WithMemoryEstimator replaces the static footprint table.
func WithMemoryEstimator(fn MemoryEstimator) TrackerOption {
	return func(t *StatusTracker) {
		if fn != nil {
			t.estimator = fn
		}
	}
}

// NewStatusTracker creates a tracker. The periodic health check does
// not run until Start.
func NewStatusTracker(opts ...TrackerOption) *StatusTracker {
	t := &StatusTracker{
		logger:           slog.Default(),
		failureThreshold: DefaultFailureThreshold,
		checkInterval:    DefaultHealthCheckInterval,
		readyFraction:    DefaultReadyFraction,
		critical:         DefaultCriticalComponents(),
		estimator:        defaultMemoryEstimate,
		records:          make(map[string]*HealthRecord),
		listeners:        make(map[int]TrackerListener),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track pre-registers a component so status displays show it before any
// progress event arrives.
func (t *StatusTracker) Track(name string, dependencies, capabilities []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	rec := t.recordLocked(name)
	rec.Dependencies = append([]string(nil), dependencies...)
	rec.Capabilities = append([]string(nil), capabilities...)
}

// Attach subscribes the tracker to a progress dispatcher. The returned
// function detaches it.
func (t *StatusTracker) Attach(d *Dispatcher) func() {
	cancel := d.Subscribe(t.handleProgress)
	t.mu.Lock()
	t.unsub = append(t.unsub, cancel)
	t.mu.Unlock()
	return cancel
}

// handleProgress folds a construction progress event into the record.
func (t *StatusTracker) handleProgress(ev ProgressEvent) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	rec := t.recordLocked(ev.Name)
	now := time.Now()
	rec.LastCheckedAt = now

	switch ev.Status {
	case ProgressLoading:
		rec.Status = HealthLoading
	case ProgressReady:
		if ev.Err != nil {
			// Ready by fallback substitution.
			rec.Status = HealthDegraded
			rec.LastError = ev.Err.Error()
		} else {
			rec.Status = HealthReady
			rec.LastError = ""
		}
		// Fresh error window for the new instance.
		rec.ErrorCount = 0
		if !ev.EndedAt.IsZero() && !ev.StartedAt.IsZero() {
			rec.Metrics.InitTime = ev.EndedAt.Sub(ev.StartedAt)
		}
	case ProgressFailed:
		rec.Status = HealthFailed
		rec.ErrorCount++
		rec.Metrics.FailureCount++
		if ev.Err != nil {
			rec.LastError = ev.Err.Error()
		}
	}
	t.mu.Unlock()
}

// RecordSuccess reports a successful operation against a running
// component, updating its rolling response-time average.
func (t *StatusTracker) RecordSuccess(name string, responseTime time.Duration) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	rec := t.recordLocked(name)
	now := time.Now()
	rec.LastResponseTime = responseTime
	rec.LastCheckedAt = now
	rec.Metrics.SuccessCount++
	rec.Metrics.LastOperationAt = now
	n := rec.Metrics.SuccessCount
	prev := rec.Metrics.AvgResponseTime
	rec.Metrics.AvgResponseTime = prev + (responseTime-prev)/time.Duration(n)
	t.mu.Unlock()
}

// RecordFailure reports a failed operation. Crossing the failure
// threshold demotes a ready component to degraded and fires
// componentDegraded.
func (t *StatusTracker) RecordFailure(name string, err error) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	rec := t.recordLocked(name)
	now := time.Now()
	rec.ErrorCount++
	rec.LastCheckedAt = now
	rec.Metrics.FailureCount++
	rec.Metrics.LastOperationAt = now
	if err != nil {
		rec.LastError = err.Error()
	}

	demoted := rec.Status == HealthReady && rec.ErrorCount >= t.failureThreshold
	if demoted {
		rec.Status = HealthDegraded
	}
	snapshot := cloneRecord(rec)
	listeners := t.listenersLocked()
	t.mu.Unlock()

	if demoted {
		RecordDegradation(name)
		t.logger.Warn("component demoted to degraded",
			"component", name,
			"errors", snapshot.ErrorCount,
			"threshold", t.failureThreshold,
		)
		t.emit(TrackerEvent{
			Type:      EventComponentDegraded,
			Name:      name,
			Record:    snapshot,
			Timestamp: now,
		}, listeners)
	}
}

// MarkDegraded demotes a component directly, outside the threshold
// path. Used when the state machine degrades a component through
// fallback substitution.
func (t *StatusTracker) MarkDegraded(name string, reason string) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	rec := t.recordLocked(name)
	already := rec.Status == HealthDegraded
	rec.Status = HealthDegraded
	if reason != "" {
		rec.LastError = reason
	}
	rec.LastCheckedAt = time.Now()
	snapshot := cloneRecord(rec)
	listeners := t.listenersLocked()
	t.mu.Unlock()

	if !already {
		RecordDegradation(name)
		t.emit(TrackerEvent{
			Type:      EventComponentDegraded,
			Name:      name,
			Record:    snapshot,
			Timestamp: snapshot.LastCheckedAt,
		}, listeners)
	}
}

// GetComponentHealth returns a snapshot of one record.
func (t *StatusTracker) GetComponentHealth(name string) (HealthRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[name]
	if !ok {
		return HealthRecord{}, false
	}
	return cloneRecord(rec), true
}

// GetAllHealth returns snapshots of every record, sorted by name.
func (t *StatusTracker) GetAllHealth() []HealthRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]HealthRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetSystemHealth computes the aggregate condition: critical when any
// critical-set component is not usable, degraded when the ready
// fraction falls below the threshold, healthy otherwise.
func (t *StatusTracker) GetSystemHealth() SystemStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, name := range t.critical {
		rec, ok := t.records[name]
		if !ok || (rec.Status != HealthReady && rec.Status != HealthDegraded) {
			return SystemCritical
		}
	}

	if len(t.records) == 0 {
		return SystemHealthy
	}
	ready := 0
	for _, rec := range t.records {
		if rec.Status == HealthReady {
			ready++
		}
	}
	if float64(ready)/float64(len(t.records)) < t.readyFraction {
		return SystemDegraded
	}
	return SystemHealthy
}

// OnEvent registers a tracker event listener. The returned function
// cancels the registration.
func (t *StatusTracker) OnEvent(fn TrackerListener) func() {
	if fn == nil {
		return func() {}
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Start launches the periodic health-check loop. Safe to call once;
// later calls are no-ops.
func (t *StatusTracker) Start() {
	t.mu.Lock()
	if t.started || t.disposed {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()
	go t.run()
}

func (t *StatusTracker) run() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.healthCheck()
		}
	}
}

// healthCheck refreshes freshness metadata for live components. It does
// not re-validate correctness, only re-estimates resource usage.
func (t *StatusTracker) healthCheck() {
	now := time.Now()
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	checked := 0
	for name, rec := range t.records {
		if rec.Status != HealthReady && rec.Status != HealthDegraded {
			continue
		}
		rec.Metrics.MemoryEstimate = t.estimator(name)
		rec.LastCheckedAt = now
		checked++
	}
	listeners := t.listenersLocked()
	t.mu.Unlock()

	RecordHealthCheck()
	t.logger.Debug("health check completed", "components", checked)
	t.emit(TrackerEvent{
		Type:      EventHealthCheckCompleted,
		Timestamp: now,
	}, listeners)
}

// Format renders the records for display. A pure projection: no side
// effects, safe before any component exists.
//
// Inputs:
//
//	mode - One of summary, list, table, json.
//
// Outputs:
//
//	string - The rendered view.
//	error - Unknown mode, or a JSON encoding failure.
func (t *StatusTracker) Format(mode string) (string, error) {
	records := t.GetAllHealth()
	system := t.GetSystemHealth()

	switch mode {
	case "summary":
		ready, degraded, failed := 0, 0, 0
		for _, rec := range records {
			switch rec.Status {
			case HealthReady:
				ready++
			case HealthDegraded:
				degraded++
			case HealthFailed:
				failed++
			}
		}
		return fmt.Sprintf("%d/%d components ready (%d degraded, %d failed), system %s",
			ready, len(records), degraded, failed, system), nil

	case "list":
		var b strings.Builder
		fmt.Fprintf(&b, "system: %s\n", system)
		for _, rec := range records {
			fmt.Fprintf(&b, "  %s: %s", rec.Name, rec.Status)
			if rec.ErrorCount > 0 {
				fmt.Fprintf(&b, " (errors: %d)", rec.ErrorCount)
			}
			if rec.LastError != "" {
				fmt.Fprintf(&b, " last error: %s", rec.LastError)
			}
			b.WriteByte('\n')
		}
		return b.String(), nil

	case "table":
		var b strings.Builder
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COMPONENT\tSTATUS\tERRORS\tAVG RESPONSE\tMEMORY")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				rec.Name,
				rec.Status,
				rec.ErrorCount,
				formatDuration(rec.Metrics.AvgResponseTime),
				formatBytes(rec.Metrics.MemoryEstimate),
			)
		}
		if err := w.Flush(); err != nil {
			return "", err
		}
		return b.String(), nil

	case "json":
		payload := struct {
			System     SystemStatus   `json:"system"`
			Components []HealthRecord `json:"components"`
		}{System: system, Components: records}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil

	default:
		return "", fmt.Errorf("unknown status format %q", mode)
	}
}

// Reset drops every record. Listener registrations survive.
func (t *StatusTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	t.records = make(map[string]*HealthRecord)
}

// Dispose stops the periodic loop and detaches subscriptions.
// Idempotent.
func (t *StatusTracker) Dispose() error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	t.disposed = true
	started := t.started
	unsub := t.unsub
	t.unsub = nil
	t.listeners = make(map[int]TrackerListener)
	close(t.stopCh)
	t.mu.Unlock()

	for _, cancel := range unsub {
		cancel()
	}
	if started {
		<-t.doneCh
	}
	return nil
}

func (t *StatusTracker) recordLocked(name string) *HealthRecord {
	rec, ok := t.records[name]
	if !ok {
		rec = &HealthRecord{Name: name, Status: HealthNotLoaded}
		t.records[name] = rec
	}
	return rec
}

func (t *StatusTracker) listenersLocked() []TrackerListener {
	out := make([]TrackerListener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		out = append(out, fn)
	}
	return out
}

func (t *StatusTracker) emit(ev TrackerEvent, listeners []TrackerListener) {
	for _, fn := range listeners {
		t.safeInvoke(ev, fn)
	}
}

func (t *StatusTracker) safeInvoke(ev TrackerEvent, fn TrackerListener) {
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Warn("tracker listener panicked", "event", ev.Type, "panic", rec)
		}
	}()
	fn(ev)
}

func cloneRecord(rec *HealthRecord) HealthRecord {
	out := *rec
	out.Dependencies = append([]string(nil), rec.Dependencies...)
	out.Capabilities = append([]string(nil), rec.Capabilities...)
	return out
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%dKB", n/(1<<10))
}
