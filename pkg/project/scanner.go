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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// FileInfo describes one indexed file.
type FileInfo struct {
	// Path is the slash-separated path relative to the project root.
	Path string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the last modification time.
	ModTime time.Time

	// Language is the language inferred from the extension.
	Language string
}

// Stats summarizes a scan.
type Stats struct {
	// Root is the absolute project root.
	Root string

	// FileCount is the number of indexed files.
	FileCount int

	// TotalSize is the combined size of indexed files in bytes.
	TotalSize int64

	// SkippedLarge counts files excluded by the size cap.
	SkippedLarge int

	// Truncated reports that the file cap stopped the walk early.
	Truncated bool

	// Languages maps language name to file count.
	Languages map[string]int

	// ScannedAt is when the scan started.
	ScannedAt time.Time

	// Duration is how long the scan took.
	Duration time.Duration
}

// Snapshot is the result of one scan.
type Snapshot struct {
	Files  []FileInfo
	Stats  Stats
	Module *ModuleInfo
}

// ScanOptions tunes the directory scanner.
type ScanOptions struct {
	// MaxFiles caps how many files the index holds. The walk stops
	// once the cap is reached and the snapshot is marked truncated.
	MaxFiles int

	// MaxFileSize excludes files larger than this many bytes.
	MaxFileSize int64

	// IgnorePatterns are doublestar globs matched against both the
	// relative path and the base name.
	IgnorePatterns []string
}

// DefaultScanOptions returns the standard scanner limits.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		MaxFiles:       5000,
		MaxFileSize:    1024 * 1024,
		IgnorePatterns: DefaultIgnorePatterns(),
	}
}

// DefaultIgnorePatterns returns the directories and file globs that are
// never useful for assistant context.
func DefaultIgnorePatterns() []string {
	return []string{
		".git", ".hg", ".svn",
		"node_modules", "vendor", "dist", "build", "target",
		"__pycache__", ".venv", ".idea", ".vscode",
		"*.swp", "*.tmp", "*.log", "*.lock", ".DS_Store",
	}
}

var languageByExt = map[string]string{
	".go":    "Go",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".py":    "Python",
	".rs":    "Rust",
	".java":  "Java",
	".rb":    "Ruby",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".hpp":   "C++",
	".cs":    "C#",
	".sh":    "Shell",
	".md":    "Markdown",
	".yaml":  "YAML",
	".yml":   "YAML",
	".json":  "JSON",
	".toml":  "TOML",
	".sql":   "SQL",
	".html":  "HTML",
	".css":   "CSS",
	".proto": "Protobuf",
}

// languageForPath infers the language from the file extension.
func languageForPath(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "Other"
}

// matchesAny reports whether the relative path or its base name matches
// any of the doublestar patterns.
func matchesAny(patterns []string, rel string) bool {
	base := filepath.Base(rel)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Scanner walks a project directory and builds a file index.
type Scanner struct {
	root   string
	opts   ScanOptions
	logger *slog.Logger
}

// NewScanner creates a scanner for the given root.
//
// Inputs:
//
//	root - Project directory. Resolved to an absolute path.
//	opts - Scanner limits. Nil uses DefaultScanOptions.
//	logger - Structured logger. If nil, slog.Default() is used.
//
// Outputs:
//
//	*Scanner - Ready to use.
//	error - If the root does not exist or is not a directory.
func NewScanner(root string, opts *ScanOptions, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}

	options := DefaultScanOptions()
	if opts != nil {
		options = *opts
		if options.MaxFiles <= 0 {
			options.MaxFiles = DefaultScanOptions().MaxFiles
		}
		if options.MaxFileSize <= 0 {
			options.MaxFileSize = DefaultScanOptions().MaxFileSize
		}
		if options.IgnorePatterns == nil {
			options.IgnorePatterns = DefaultIgnorePatterns()
		}
	}

	return &Scanner{root: abs, opts: options, logger: logger}, nil
}

// Root returns the absolute project root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the project and returns a snapshot.
//
// Description:
//
//	Ignored directories are pruned without descending. Files above the
//	size cap are counted but not indexed. When the file cap is reached
//	the walk stops and the snapshot is marked truncated.
//
// Edge Cases:
//
//	Unreadable entries are skipped, not fatal. Context cancellation
//	aborts the walk and returns the context's error.
func (s *Scanner) Scan(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	snap := &Snapshot{
		Stats: Stats{
			Root:      s.root,
			Languages: make(map[string]int),
			ScannedAt: start,
		},
	}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			s.logger.Debug("skipping unreadable entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matchesAny(s.opts.IgnorePatterns, rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchesAny(s.opts.IgnorePatterns, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > s.opts.MaxFileSize {
			snap.Stats.SkippedLarge++
			return nil
		}

		lang := languageForPath(rel)
		snap.Files = append(snap.Files, FileInfo{
			Path:     rel,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: lang,
		})
		snap.Stats.TotalSize += info.Size()
		snap.Stats.Languages[lang]++

		if len(snap.Files) >= s.opts.MaxFiles {
			snap.Stats.Truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	snap.Stats.FileCount = len(snap.Files)
	snap.Stats.Duration = time.Since(start)

	// go.mod is optional; non-Go projects simply have no module info.
	if module, err := ParseGoModFile(filepath.Join(s.root, "go.mod")); err == nil {
		snap.Module = module
	}

	s.logger.Debug("project scan complete",
		"root", s.root,
		"files", snap.Stats.FileCount,
		"total_bytes", snap.Stats.TotalSize,
		"truncated", snap.Stats.Truncated,
		"duration", snap.Stats.Duration)
	return snap, nil
}
