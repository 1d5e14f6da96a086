// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package project indexes the directory the assistant is working in.
//
// The Index scans the tree once during initialization, parses go.mod
// when present, and can keep itself fresh through a debounced file
// watcher. Consumers read the latest snapshot; they never trigger IO.
package project

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/KodiakCLI/pkg/telemetry"
)

const projectTracerName = "kodiak.project"

// Index holds the current view of the project tree.
//
// Thread Safety:
//
//	Safe for concurrent use. Watch refreshes the snapshot in the
//	background; readers always see a complete snapshot.
type Index struct {
	scanner *Scanner
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu   sync.RWMutex
	snap *Snapshot

	watchMu sync.Mutex
	watcher *Watcher
}

// NewIndex creates a project index rooted at the given directory.
//
// The index is empty until Scan runs.
func NewIndex(root string, opts *ScanOptions, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scanner, err := NewScanner(root, opts, logger)
	if err != nil {
		return nil, err
	}
	return &Index{scanner: scanner, logger: logger}, nil
}

// WithMetrics attaches scan and watcher metrics and returns the index.
func (ix *Index) WithMetrics(m *telemetry.Metrics) *Index {
	ix.metrics = m
	return ix
}

// Root returns the absolute project root.
func (ix *Index) Root() string {
	return ix.scanner.Root()
}

// Scan walks the project and replaces the snapshot.
func (ix *Index) Scan(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, projectTracerName, "Index.Scan")
	defer span.End()

	snap, err := ix.scanner.Scan(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		ix.recordScan(ctx, nil, err)
		return err
	}

	ix.mu.Lock()
	ix.snap = snap
	ix.mu.Unlock()

	span.SetAttributes(attribute.Int("project.files", snap.Stats.FileCount))
	telemetry.SetSpanOK(span)
	ix.recordScan(ctx, snap, nil)
	return nil
}

// Snapshot returns the latest scan result, or nil before the first scan.
func (ix *Index) Snapshot() *Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.snap
}

// Files returns the indexed files from the latest snapshot.
func (ix *Index) Files() []FileInfo {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.snap == nil {
		return nil
	}
	files := make([]FileInfo, len(ix.snap.Files))
	copy(files, ix.snap.Files)
	return files
}

// Stats returns the latest scan statistics.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.snap == nil {
		return Stats{Root: ix.scanner.Root()}
	}
	return ix.snap.Stats
}

// Module returns the parsed go.mod, or nil for non-Go projects.
func (ix *Index) Module() *ModuleInfo {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.snap == nil {
		return nil
	}
	return ix.snap.Module
}

// FindFiles returns indexed files whose relative path matches the
// doublestar pattern.
func (ix *Index) FindFiles(pattern string) ([]FileInfo, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.snap == nil {
		return nil, nil
	}
	var matches []FileInfo
	for _, f := range ix.snap.Files {
		if ok, _ := doublestar.Match(pattern, f.Path); ok {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

// Watch starts the debounced file watcher. Each change batch triggers a
// rescan so the snapshot stays current.
//
// Edge Cases:
//
//	Calling Watch twice is a no-op. The watcher shares the scanner's
//	ignore patterns, so churn in ignored directories never rescans.
func (ix *Index) Watch(ctx context.Context) error {
	ix.watchMu.Lock()
	defer ix.watchMu.Unlock()
	if ix.watcher != nil {
		return nil
	}

	watcher, err := NewWatcher(ix.scanner.Root(), func(changes []Change) {
		ix.recordChanges(ctx, changes)
		ix.logger.Debug("project changed, rescanning", "changes", len(changes))
		if err := ix.Scan(ctx); err != nil && ctx.Err() == nil {
			ix.logger.Warn("project rescan failed", "error", err)
		}
	}, &WatcherOptions{IgnorePatterns: ix.scanner.opts.IgnorePatterns}, ix.logger)
	if err != nil {
		return fmt.Errorf("create project watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return fmt.Errorf("start project watcher: %w", err)
	}

	ix.watcher = watcher
	return nil
}

// Watching reports whether the background watcher is running.
func (ix *Index) Watching() bool {
	ix.watchMu.Lock()
	defer ix.watchMu.Unlock()
	return ix.watcher != nil && ix.watcher.IsWatching()
}

// Close stops the watcher if one is running.
func (ix *Index) Close() error {
	ix.watchMu.Lock()
	defer ix.watchMu.Unlock()
	if ix.watcher != nil {
		ix.watcher.Stop()
		ix.watcher = nil
	}
	return nil
}

func (ix *Index) recordScan(ctx context.Context, snap *Snapshot, err error) {
	if ix.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	ix.metrics.ProjectScansTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
	if snap != nil {
		ix.metrics.ProjectScanDuration.Record(ctx, snap.Stats.Duration.Seconds())
		ix.metrics.ProjectFilesIndexed.Add(ctx, int64(snap.Stats.FileCount))
	}
}

func (ix *Index) recordChanges(ctx context.Context, changes []Change) {
	if ix.metrics == nil {
		return
	}
	for _, change := range changes {
		ix.metrics.WatcherEventsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("op", change.Op.String())))
	}
}

// WaitForScan blocks until the snapshot is populated or the timeout
// passes. Intended for tests and background refresh checks.
func (ix *Index) WaitForScan(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ix.Snapshot() != nil {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return ix.Snapshot() != nil
}
