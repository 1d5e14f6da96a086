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
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// Helper to capture stdout
func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// Helper to capture stderr
func captureStderr(f func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	f()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// withLevel pins the personality for the duration of a test.
func withLevel(t *testing.T, level PersonalityLevel) {
	t.Helper()
	orig := GetPersonality()
	t.Cleanup(func() { SetPersonality(orig) })
	SetPersonalityLevel(level)
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render_Styled(t *testing.T) {
	styled := []Icon{IconSuccess, IconWarning, IconError, IconPending, IconDegraded}
	for _, icon := range styled {
		if icon.Render() == "" {
			t.Errorf("expected non-empty render for %q", icon)
		}
	}
}

func TestIcon_Render_Default(t *testing.T) {
	// Icons without specific styling render as themselves
	icons := []Icon{IconArrow, IconBullet, IconPaw, IconMountain}
	for _, icon := range icons {
		if got := icon.Render(); got != string(icon) {
			t.Errorf("expected %q for %q, got %q", string(icon), icon, got)
		}
	}
}

// =============================================================================
// Machine Mode Output Tests
// =============================================================================

func TestSuccess_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStdout(func() { Success("server started") })
	if out != "OK: server started\n" {
		t.Errorf("Success machine output = %q", out)
	}
}

func TestWarning_MachineModeGoesToStderr(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStderr(func() { Warning("model slow") })
	if out != "WARN: model slow\n" {
		t.Errorf("Warning machine output = %q", out)
	}
}

func TestError_MachineModeGoesToStderr(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStderr(func() { Error("connection refused") })
	if out != "ERROR: connection refused\n" {
		t.Errorf("Error machine output = %q", out)
	}
}

func TestTitle_MachineModeSilent(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStdout(func() { Title("Kodiak") })
	if out != "" {
		t.Errorf("Title machine output = %q, want silence", out)
	}
}

func TestMuted_MachineModeSilent(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStdout(func() { Muted("details") })
	if out != "" {
		t.Errorf("Muted machine output = %q, want silence", out)
	}
}

func TestKeyValue_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStdout(func() { KeyValue("model", "qwen2.5-coder") })
	if out != "model=qwen2.5-coder\n" {
		t.Errorf("KeyValue machine output = %q", out)
	}
}

func TestBox_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStdout(func() { Box("Status", "all good") })
	if out != "Status: all good\n" {
		t.Errorf("Box machine output = %q", out)
	}
}

func TestCheckStatus_MachineModeTabSeparated(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStdout(func() { CheckStatus("ollama-server", IconSuccess, "0.5.1") })
	if out != "✓\tollama-server\t0.5.1\n" {
		t.Errorf("CheckStatus machine output = %q", out)
	}
}

func TestSummary_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine)
	out := captureStdout(func() { Summary(5, 1, 0, 7) })
	if out != "SUMMARY: ready=5 degraded=1 failed=0 total=7\n" {
		t.Errorf("Summary machine output = %q", out)
	}
}

// =============================================================================
// Styled Output Tests
// =============================================================================

func TestSuccess_StyledContainsText(t *testing.T) {
	withLevel(t, PersonalityFull)
	out := captureStdout(func() { Success("analysis complete") })
	if !strings.Contains(out, "analysis complete") {
		t.Errorf("styled Success output missing message: %q", out)
	}
}

func TestInfo_StyledHasGutter(t *testing.T) {
	withLevel(t, PersonalityFull)
	out := captureStdout(func() { Info("loading project context") })
	if !strings.Contains(out, "loading project context") {
		t.Errorf("Info output missing message: %q", out)
	}
	if !strings.Contains(out, "│") {
		t.Errorf("Info output missing gutter: %q", out)
	}
}

func TestCheckStatus_StyledWithDetail(t *testing.T) {
	withLevel(t, PersonalityStandard)
	out := captureStdout(func() { CheckStatus("config", IconSuccess, "~/.kodiak/config.yaml") })
	if !strings.Contains(out, "config") || !strings.Contains(out, "~/.kodiak/config.yaml") {
		t.Errorf("CheckStatus output = %q", out)
	}
}

// =============================================================================
// ProgressBar Tests
// =============================================================================

func TestProgressBar_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine)
	if got := ProgressBar(3, 10, 20); got != "3/10" {
		t.Errorf("ProgressBar machine = %q, want 3/10", got)
	}
}

func TestProgressBar_Styled(t *testing.T) {
	withLevel(t, PersonalityFull)
	got := ProgressBar(5, 10, 10)
	if !strings.Contains(got, "50%") {
		t.Errorf("ProgressBar = %q, want a 50%% figure", got)
	}
}

func TestProgressBar_ZeroTotal(t *testing.T) {
	withLevel(t, PersonalityFull)
	// Must not divide by zero
	_ = ProgressBar(0, 0, 10)
}

func TestRepeatChar(t *testing.T) {
	if got := repeatChar('x', 3); got != "xxx" {
		t.Errorf("repeatChar('x', 3) = %q", got)
	}
	if got := repeatChar('x', 0); got != "" {
		t.Errorf("repeatChar('x', 0) = %q", got)
	}
	if got := repeatChar('x', -2); got != "" {
		t.Errorf("repeatChar('x', -2) = %q", got)
	}
}
