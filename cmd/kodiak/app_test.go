// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"
	"time"

	"github.com/AleutianAI/KodiakCLI/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakCLI/pkg/conversation"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
)

func TestComponentsConfig_MapsScanLimits(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Project.MaxFiles = 500
	cfg.Project.MaxFileSizeKB = 64
	cfg.Project.Ignore = []string{"vendor/**"}

	got := componentsConfig(&cfg, nil)
	if got.Scan.MaxFiles != 500 {
		t.Errorf("Scan.MaxFiles = %d, want 500", got.Scan.MaxFiles)
	}
	if got.Scan.MaxFileSize != 64*1024 {
		t.Errorf("Scan.MaxFileSize = %d, want %d", got.Scan.MaxFileSize, 64*1024)
	}
	found := false
	for _, p := range got.Scan.IgnorePatterns {
		if p == "vendor/**" {
			found = true
		}
	}
	if !found {
		t.Errorf("IgnorePatterns %v missing the configured glob", got.Scan.IgnorePatterns)
	}
}

func TestComponentsConfig_ZeroLimitsKeepScanDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Project.MaxFiles = 0
	cfg.Project.MaxFileSizeKB = 0

	got := componentsConfig(&cfg, nil)
	defaults := project.DefaultScanOptions()
	if got.Scan.MaxFiles != defaults.MaxFiles {
		t.Errorf("Scan.MaxFiles = %d, want default %d", got.Scan.MaxFiles, defaults.MaxFiles)
	}
	if got.Scan.MaxFileSize != defaults.MaxFileSize {
		t.Errorf("Scan.MaxFileSize = %d, want default %d", got.Scan.MaxFileSize, defaults.MaxFileSize)
	}
}

func TestComponentsConfig_MapsConversation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Conversation.Dir = "/tmp/kodiak-history"
	cfg.Conversation.TTLHours = 48

	got := componentsConfig(&cfg, nil)
	if got.Conversation.Path != "/tmp/kodiak-history" {
		t.Errorf("Conversation.Path = %q, want the configured dir", got.Conversation.Path)
	}
	if got.Conversation.TTL != 48*time.Hour {
		t.Errorf("Conversation.TTL = %v, want 48h", got.Conversation.TTL)
	}

	cfg.Conversation.Dir = ""
	got = componentsConfig(&cfg, nil)
	if got.Conversation.Path != conversation.DefaultConfig().Path {
		t.Errorf("Conversation.Path = %q, want the store default", got.Conversation.Path)
	}
}

func TestComponentsConfig_ModelSelection(t *testing.T) {
	old := modelFlag
	t.Cleanup(func() { modelFlag = old })

	cfg := config.DefaultConfig()
	cfg.Model.Name = "config-model"

	modelFlag = ""
	if got := componentsConfig(&cfg, nil); got.LLM.Model != "config-model" {
		t.Errorf("LLM.Model = %q, want the config name", got.LLM.Model)
	}

	modelFlag = "flag-model"
	if got := componentsConfig(&cfg, nil); got.LLM.Model != "flag-model" {
		t.Errorf("LLM.Model = %q, want the --model override", got.LLM.Model)
	}
}

func TestModelBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		cfgURL string
		env    string
		want   string
	}{
		{"explicit config wins", "http://cfg.example:9000", "ignored:11434", "http://cfg.example:9000"},
		{"env host gains a scheme", "", "remote:11434", "http://remote:11434"},
		{"env url kept verbatim", "", "https://secure.example:8443", "https://secure.example:8443"},
		{"stock default", "", "", defaultOllamaURL},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OLLAMA_HOST", tc.env)
			cfg := config.DefaultConfig()
			cfg.Model.BaseURL = tc.cfgURL
			if got := modelBaseURL(&cfg); got != tc.want {
				t.Errorf("modelBaseURL() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTrackerOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Lifecycle.FailureThreshold = 0
	cfg.Lifecycle.HealthCheckSeconds = 0
	if got := trackerOptions(&cfg); len(got) != 0 {
		t.Errorf("options for zero config = %d, want none", len(got))
	}

	cfg.Lifecycle.FailureThreshold = 5
	cfg.Lifecycle.HealthCheckSeconds = 60
	if got := trackerOptions(&cfg); len(got) != 2 {
		t.Errorf("options = %d, want threshold and interval", len(got))
	}
}
