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
	"fmt"
	"os"

	"golang.org/x/mod/modfile"
)

// ModuleRequirement is one require entry from a go.mod file.
type ModuleRequirement struct {
	Path     string
	Version  string
	Indirect bool
}

// ModuleInfo describes the target project's Go module.
type ModuleInfo struct {
	// Path is the module path.
	Path string

	// GoVersion is the declared go directive version.
	GoVersion string

	// Requires lists the module's dependencies, direct and indirect.
	Requires []ModuleRequirement
}

// DirectRequires returns only the direct dependencies.
func (m *ModuleInfo) DirectRequires() []ModuleRequirement {
	var direct []ModuleRequirement
	for _, req := range m.Requires {
		if !req.Indirect {
			direct = append(direct, req)
		}
	}
	return direct
}

// ParseGoModFile reads and parses a go.mod file.
func ParseGoModFile(path string) (*ModuleInfo, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read go.mod: %w", err)
	}
	return ParseGoMod(path, content)
}

// ParseGoMod parses go.mod content using the official module parser.
func ParseGoMod(path string, content []byte) (*ModuleInfo, error) {
	f, err := modfile.Parse(path, content, nil)
	if err != nil {
		return nil, fmt.Errorf("parse go.mod: %w", err)
	}

	info := &ModuleInfo{}
	if f.Module != nil {
		info.Path = f.Module.Mod.Path
	}
	if f.Go != nil {
		info.GoVersion = f.Go.Version
	}
	for _, req := range f.Require {
		info.Requires = append(info.Requires, ModuleRequirement{
			Path:     req.Mod.Path,
			Version:  req.Mod.Version,
			Indirect: req.Indirect,
		})
	}
	return info, nil
}
