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
	"path/filepath"
	"testing"
)

const sampleGoMod = `module example.com/sample

go 1.23

require (
	github.com/google/uuid v1.6.0
	github.com/spf13/cobra v1.10.1
)

require github.com/inconshreveable/mousetrap v1.1.0 // indirect
`

func TestParseGoMod(t *testing.T) {
	info, err := ParseGoMod("go.mod", []byte(sampleGoMod))
	if err != nil {
		t.Fatalf("ParseGoMod() error = %v", err)
	}

	if info.Path != "example.com/sample" {
		t.Errorf("Path = %q, want example.com/sample", info.Path)
	}
	if info.GoVersion != "1.23" {
		t.Errorf("GoVersion = %q, want 1.23", info.GoVersion)
	}
	if len(info.Requires) != 3 {
		t.Fatalf("len(Requires) = %d, want 3", len(info.Requires))
	}

	var indirect int
	for _, req := range info.Requires {
		if req.Indirect {
			indirect++
		}
	}
	if indirect != 1 {
		t.Errorf("indirect requires = %d, want 1", indirect)
	}

	direct := info.DirectRequires()
	if len(direct) != 2 {
		t.Errorf("len(DirectRequires()) = %d, want 2", len(direct))
	}
	for _, req := range direct {
		if req.Indirect {
			t.Errorf("DirectRequires() returned indirect entry %s", req.Path)
		}
	}
}

func TestParseGoMod_Invalid(t *testing.T) {
	_, err := ParseGoMod("go.mod", []byte("this is not a go.mod ==="))
	if err == nil {
		t.Fatal("ParseGoMod() error = nil, want parse error")
	}
}

func TestParseGoModFile_Missing(t *testing.T) {
	_, err := ParseGoModFile(filepath.Join(t.TempDir(), "go.mod"))
	if err == nil {
		t.Fatal("ParseGoModFile() error = nil, want read error")
	}
}
