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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFile creates a file (and parent directories) under root.
func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// filePaths extracts the relative paths from a snapshot.
func filePaths(snap *Snapshot) map[string]bool {
	paths := make(map[string]bool, len(snap.Files))
	for _, f := range snap.Files {
		paths[f.Path] = true
	}
	return paths
}

func TestNewScanner_MissingRoot(t *testing.T) {
	_, err := NewScanner(filepath.Join(t.TempDir(), "nope"), nil, nil)
	if err == nil {
		t.Fatal("NewScanner() error = nil, want error for missing root")
	}
}

func TestNewScanner_FileRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "afile", "x")

	_, err := NewScanner(filepath.Join(root, "afile"), nil, nil)
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Fatalf("NewScanner() error = %v, want 'not a directory'", err)
	}
}

func TestScanner_Scan_IndexesFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "README.md", "# demo\n")
	writeFile(t, root, "internal/util.go", "package internal\n")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}\n")
	writeFile(t, root, ".git/config", "[core]\n")
	writeFile(t, root, "scratch.tmp", "temp\n")

	scanner, err := NewScanner(root, nil, nil)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	snap, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	paths := filePaths(snap)
	for _, want := range []string{"main.go", "README.md", "internal/util.go"} {
		if !paths[want] {
			t.Errorf("snapshot missing %s (have %v)", want, paths)
		}
	}
	for _, dontWant := range []string{"node_modules/pkg/index.js", ".git/config", "scratch.tmp"} {
		if paths[dontWant] {
			t.Errorf("snapshot contains ignored file %s", dontWant)
		}
	}
	if snap.Stats.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", snap.Stats.FileCount)
	}
	if snap.Stats.Languages["Go"] != 2 {
		t.Errorf("Languages[Go] = %d, want 2", snap.Stats.Languages["Go"])
	}
	if snap.Stats.Languages["Markdown"] != 1 {
		t.Errorf("Languages[Markdown] = %d, want 1", snap.Stats.Languages["Markdown"])
	}
	if snap.Stats.Truncated {
		t.Error("Truncated = true, want false")
	}
}

func TestScanner_Scan_SizeCap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.go", "package x\n")
	writeFile(t, root, "big.go", strings.Repeat("x", 100))

	opts := DefaultScanOptions()
	opts.MaxFileSize = 50

	scanner, err := NewScanner(root, &opts, nil)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	snap, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if snap.Stats.FileCount != 1 {
		t.Errorf("FileCount = %d, want 1", snap.Stats.FileCount)
	}
	if snap.Stats.SkippedLarge != 1 {
		t.Errorf("SkippedLarge = %d, want 1", snap.Stats.SkippedLarge)
	}
	if paths := filePaths(snap); !paths["small.go"] || paths["big.go"] {
		t.Errorf("paths = %v, want only small.go", paths)
	}
}

func TestScanner_Scan_FileCap(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		writeFile(t, root, name, "package x\n")
	}

	opts := DefaultScanOptions()
	opts.MaxFiles = 2

	scanner, err := NewScanner(root, &opts, nil)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	snap, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if snap.Stats.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", snap.Stats.FileCount)
	}
	if !snap.Stats.Truncated {
		t.Error("Truncated = false, want true at the file cap")
	}
}

func TestScanner_Scan_ParsesGoMod(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/demo\n\ngo 1.22\n\nrequire github.com/google/uuid v1.6.0\n")
	writeFile(t, root, "main.go", "package main\n")

	scanner, err := NewScanner(root, nil, nil)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	snap, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if snap.Module == nil {
		t.Fatal("Module = nil, want parsed go.mod")
	}
	if snap.Module.Path != "example.com/demo" {
		t.Errorf("Module.Path = %q, want example.com/demo", snap.Module.Path)
	}
	if snap.Module.GoVersion != "1.22" {
		t.Errorf("Module.GoVersion = %q, want 1.22", snap.Module.GoVersion)
	}
	if len(snap.Module.Requires) != 1 || snap.Module.Requires[0].Path != "github.com/google/uuid" {
		t.Errorf("Module.Requires = %+v, want the uuid require", snap.Module.Requires)
	}
}

func TestScanner_Scan_NoGoMod(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "print('hi')\n")

	scanner, err := NewScanner(root, nil, nil)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	snap, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if snap.Module != nil {
		t.Errorf("Module = %+v, want nil for a non-Go project", snap.Module)
	}
	if snap.Stats.Languages["Python"] != 1 {
		t.Errorf("Languages[Python] = %d, want 1", snap.Stats.Languages["Python"])
	}
}

func TestScanner_Scan_ContextCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")

	scanner, err := NewScanner(root, nil, nil)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := scanner.Scan(ctx); err == nil {
		t.Error("Scan() error = nil, want context error")
	}
}

func TestMatchesAny(t *testing.T) {
	patterns := DefaultIgnorePatterns()

	tests := []struct {
		rel  string
		want bool
	}{
		{".git", true},
		{"node_modules", true},
		{"vendor", true},
		{"editor.swp", true},
		{"deep/nested/file.tmp", true},
		{"main.go", false},
		{"internal/server.go", false},
		{"docs/vendor.md", false},
	}
	for _, tt := range tests {
		if got := matchesAny(patterns, tt.rel); got != tt.want {
			t.Errorf("matchesAny(defaults, %q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestLanguageForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "Go"},
		{"app/component.tsx", "TypeScript"},
		{"setup.py", "Python"},
		{"README.md", "Markdown"},
		{"Makefile", "Other"},
	}
	for _, tt := range tests {
		if got := languageForPath(tt.path); got != tt.want {
			t.Errorf("languageForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
