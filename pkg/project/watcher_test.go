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
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// startTestWatcher creates and starts a watcher delivering batches on
// the returned channel.
func startTestWatcher(t *testing.T, root string) chan []Change {
	t.Helper()
	batches := make(chan []Change, 16)
	watcher, err := NewWatcher(root, func(changes []Change) {
		batches <- changes
	}, &WatcherOptions{Debounce: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(watcher.Stop)

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !watcher.IsWatching() {
		t.Fatal("IsWatching() = false after Start")
	}
	return batches
}

// waitForBatch waits for a change batch containing the given path.
func waitForBatch(t *testing.T, batches chan []Change, wantPath string) []Change {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-batches:
			for _, change := range batch {
				if change.Path == wantPath {
					return batch
				}
			}
		case <-deadline:
			t.Fatalf("no batch containing %s within 3s", wantPath)
		}
	}
}

func TestWatcher_DeliversDebouncedBatch(t *testing.T) {
	root := t.TempDir()
	batches := startTestWatcher(t, root)

	target := filepath.Join(root, "main.go")
	writeFile(t, root, "main.go", "package main\n")

	batch := waitForBatch(t, batches, target)
	for _, change := range batch {
		if change.Path == target && change.Op != ChangeCreate && change.Op != ChangeWrite {
			t.Errorf("change op = %s, want create or write", change.Op)
		}
	}
}

func TestWatcher_IgnoresPatterns(t *testing.T) {
	root := t.TempDir()
	batches := startTestWatcher(t, root)

	writeFile(t, root, "scratch.tmp", "temp\n")

	select {
	case batch := <-batches:
		t.Fatalf("got batch %+v for ignored file, want none", batch)
	case <-time.After(300 * time.Millisecond):
	}

	// A real file still gets through afterwards.
	target := filepath.Join(root, "kept.go")
	writeFile(t, root, "kept.go", "package x\n")
	waitForBatch(t, batches, target)
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	batches := startTestWatcher(t, root)

	writeFile(t, root, "sub/placeholder.go", "package sub\n")
	// Drain the creation batch, then give the watcher time to register
	// the new directory.
	waitForBatch(t, batches, filepath.Join(root, "sub"))
	time.Sleep(200 * time.Millisecond)

	target := filepath.Join(root, "sub", "later.go")
	writeFile(t, root, "sub/later.go", "package sub\n")
	waitForBatch(t, batches, target)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	watcher, err := NewWatcher(t.TempDir(), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	watcher.Stop()
	watcher.Stop()

	if watcher.IsWatching() {
		t.Error("IsWatching() = true after Stop")
	}
}

func TestDedupeChanges(t *testing.T) {
	now := time.Now()
	changes := []Change{
		{Path: "/p/a.go", Op: ChangeCreate, Time: now},
		{Path: "/p/b.go", Op: ChangeCreate, Time: now},
		{Path: "/p/a.go", Op: ChangeWrite, Time: now.Add(time.Millisecond)},
	}

	deduped := dedupeChanges(changes)

	if len(deduped) != 2 {
		t.Fatalf("len(deduped) = %d, want 2", len(deduped))
	}
	if deduped[0].Path != "/p/a.go" || deduped[0].Op != ChangeWrite {
		t.Errorf("deduped[0] = %+v, want latest op for a.go in first-seen position", deduped[0])
	}
	if deduped[1].Path != "/p/b.go" {
		t.Errorf("deduped[1].Path = %q, want b.go", deduped[1].Path)
	}
}

func TestConvertOp(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want ChangeOp
	}{
		{fsnotify.Create, ChangeCreate},
		{fsnotify.Write, ChangeWrite},
		{fsnotify.Remove, ChangeRemove},
		{fsnotify.Rename, ChangeRename},
		{fsnotify.Chmod, ChangeWrite},
	}
	for _, tt := range tests {
		if got := convertOp(tt.op); got != tt.want {
			t.Errorf("convertOp(%v) = %s, want %s", tt.op, got, tt.want)
		}
	}
}

func TestChangeOp_String(t *testing.T) {
	tests := []struct {
		op   ChangeOp
		want string
	}{
		{ChangeCreate, "create"},
		{ChangeWrite, "write"},
		{ChangeRemove, "remove"},
		{ChangeRename, "rename"},
		{ChangeOp(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("ChangeOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
