// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeOp is the kind of file system change.
type ChangeOp int

const (
	// ChangeCreate indicates a file or directory was created.
	ChangeCreate ChangeOp = iota

	// ChangeWrite indicates a file was modified.
	ChangeWrite

	// ChangeRemove indicates a file was deleted.
	ChangeRemove

	// ChangeRename indicates a file was renamed.
	ChangeRename
)

// String returns the operation name.
func (op ChangeOp) String() string {
	switch op {
	case ChangeCreate:
		return "create"
	case ChangeWrite:
		return "write"
	case ChangeRemove:
		return "remove"
	case ChangeRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one file system change event.
type Change struct {
	// Path is the absolute path of the changed entry.
	Path string

	// Op is the kind of change.
	Op ChangeOp

	// Time is when the change was observed.
	Time time.Time
}

// ChangeHandler receives a debounced, deduplicated batch of changes.
type ChangeHandler func(changes []Change)

// WatcherOptions configures the project watcher.
type WatcherOptions struct {
	// Debounce is how long to wait for further changes before the
	// handler fires. Default 250ms.
	Debounce time.Duration

	// IgnorePatterns are doublestar globs matched against the path
	// relative to the watched root. Default DefaultIgnorePatterns.
	IgnorePatterns []string

	// BufferSize is the pending-change channel capacity. Default 1024.
	BufferSize int
}

// Watcher watches a project tree and delivers change batches.
//
// Description:
//
//	Raw fsnotify events are collected into a buffer and flushed to the
//	handler once the debounce window passes without new events. This
//	keeps a save-heavy editing session from triggering a rescan per
//	keystroke.
//
// Thread Safety:
//
//	Safe for concurrent use. The handler runs on a single goroutine.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	handler  ChangeHandler
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a watcher for the given root directory.
//
// Outputs:
//
//	*Watcher - Inert until Start is called.
//	error - If the underlying fsnotify watcher cannot be created.
func NewWatcher(root string, handler ChangeHandler, opts *WatcherOptions, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	debounce := 250 * time.Millisecond
	ignore := DefaultIgnorePatterns()
	bufferSize := 1024
	if opts != nil {
		if opts.Debounce > 0 {
			debounce = opts.Debounce
		}
		if opts.IgnorePatterns != nil {
			ignore = opts.IgnorePatterns
		}
		if opts.BufferSize > 0 {
			bufferSize = opts.BufferSize
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     root,
		fsw:      fsw,
		handler:  handler,
		debounce: debounce,
		ignore:   ignore,
		logger:   logger,
		changes:  make(chan Change, bufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the root and all non-ignored subdirectories.
//
// Two goroutines run until Stop or context cancellation: one converting
// raw events into changes, one debouncing batches into the handler.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive registers every non-ignored directory under root.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return fs.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// ignored matches the path, relative to the root, against the ignore
// patterns.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	return matchesAny(w.ignore, filepath.ToSlash(rel))
}

// processEvents converts fsnotify events into Change values.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}

			change := Change{
				Path: event.Name,
				Op:   convertOp(event.Op),
				Time: time.Now(),
			}
			select {
			case w.changes <- change:
			default:
				// The debouncer is behind; dropping one raw event is
				// harmless since batches trigger full rescans.
			}

			// Newly created directories need their own watch entry.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						w.logger.Debug("watch new directory failed", "path", event.Name, "error", err)
					}
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// convertOp maps fsnotify operations onto ChangeOp.
func convertOp(op fsnotify.Op) ChangeOp {
	switch {
	case op.Has(fsnotify.Create):
		return ChangeCreate
	case op.Has(fsnotify.Remove):
		return ChangeRemove
	case op.Has(fsnotify.Rename):
		return ChangeRename
	default:
		return ChangeWrite
	}
}

// debounceLoop batches changes and invokes the handler when the window
// expires.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := dedupeChanges(batch)
			if len(deduped) > 0 && w.handler != nil {
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedupeChanges keeps the most recent change per path, preserving the
// first-seen order.
func dedupeChanges(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	result := make([]Change, 0, len(changes))
	for _, change := range changes {
		if idx, ok := seen[change.Path]; ok {
			result[idx] = change
			continue
		}
		seen[change.Path] = len(result)
		result = append(result, change)
	}
	return result
}
