// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"testing"
)

// =============================================================================
// GetPersonality / SetPersonality Tests
// =============================================================================

func TestSetPersonality_AndGet(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	custom := Personality{
		Level:    PersonalityMinimal,
		Theme:    "custom",
		ShowTips: false,
	}
	SetPersonality(custom)

	retrieved := GetPersonality()
	if retrieved.Level != PersonalityMinimal {
		t.Errorf("expected level %v, got %v", PersonalityMinimal, retrieved.Level)
	}
	if retrieved.Theme != "custom" {
		t.Errorf("expected theme 'custom', got %q", retrieved.Theme)
	}
	if retrieved.ShowTips != false {
		t.Errorf("expected ShowTips false, got %v", retrieved.ShowTips)
	}
}

// =============================================================================
// SetPersonalityLevel Tests
// =============================================================================

func TestSetPersonalityLevel(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	levels := []PersonalityLevel{
		PersonalityFull,
		PersonalityStandard,
		PersonalityMinimal,
		PersonalityMachine,
	}
	for _, level := range levels {
		t.Run(string(level), func(t *testing.T) {
			SetPersonalityLevel(level)
			if got := GetPersonality().Level; got != level {
				t.Errorf("expected %v, got %v", level, got)
			}
		})
	}
}

// =============================================================================
// ParsePersonalityLevel Tests
// =============================================================================

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		inputs []string
		want   PersonalityLevel
	}{
		{[]string{"full", "Full", "FULL", "f"}, PersonalityFull},
		{[]string{"standard", "Standard", "std", "s"}, PersonalityStandard},
		{[]string{"minimal", "Minimal", "min", "m"}, PersonalityMinimal},
		{[]string{"machine", "quiet", "q"}, PersonalityMachine},
		{[]string{"", "extreme", "42"}, PersonalityStandard},
	}

	for _, tt := range tests {
		for _, input := range tt.inputs {
			if got := ParsePersonalityLevel(input); got != tt.want {
				t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", input, got, tt.want)
			}
		}
	}
}

// =============================================================================
// Environment Initialization Tests
// =============================================================================

func TestInitPersonality_EnvOverrideWins(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	t.Setenv("KODIAK_PERSONALITY", "minimal")
	InitPersonality()

	if got := GetPersonality().Level; got != PersonalityMinimal {
		t.Errorf("expected PersonalityMinimal from env, got %v", got)
	}
}

func TestInitPersonality_NonTerminalDefaultsToMachine(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	t.Setenv("KODIAK_PERSONALITY", "")
	InitPersonality()

	// Test binaries run with stdout piped, so the non-terminal branch
	// applies here.
	if got := GetPersonality().Level; got != PersonalityMachine {
		t.Errorf("expected PersonalityMachine without a tty, got %v", got)
	}
}

// =============================================================================
// Helper Predicate Tests
// =============================================================================

func TestShouldShowProgress(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)
	if !ShouldShowProgress() {
		t.Error("ShouldShowProgress() = false in full personality")
	}

	SetPersonalityLevel(PersonalityMachine)
	if ShouldShowProgress() {
		t.Error("ShouldShowProgress() = true in machine personality")
	}
}

func TestShouldShowColors(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	tests := []struct {
		level PersonalityLevel
		want  bool
	}{
		{PersonalityFull, true},
		{PersonalityStandard, true},
		{PersonalityMinimal, false},
		{PersonalityMachine, false},
	}
	for _, tt := range tests {
		SetPersonalityLevel(tt.level)
		if got := ShouldShowColors(); got != tt.want {
			t.Errorf("ShouldShowColors() in %v = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestDefaultPersonality(t *testing.T) {
	p := DefaultPersonality()
	if p.Level != PersonalityFull {
		t.Errorf("default level = %v, want full", p.Level)
	}
	if !p.ShowTips {
		t.Error("default ShowTips = false, want true")
	}
}
