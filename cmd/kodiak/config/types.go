// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the Kodiak configuration file format and its
// loader.
//
// The file lives at ~/.kodiak/kodiak.yaml and is created with defaults on
// first run. There is no package-level singleton: Load returns a *Config
// and callers pass it down explicitly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// CurrentConfigVersion tags freshly written config files. The loader
// warns on (but does not reject) files written by another version.
const CurrentConfigVersion = "1"

// validate is the shared validator instance for config structs.
var validate = validator.New()

// Config is the root of kodiak.yaml.
type Config struct {
	// Meta carries file bookkeeping.
	Meta MetaConfig `yaml:"meta"`

	// Model selects and tunes the LLM backend.
	Model ModelConfig `yaml:"model"`

	// Project tunes the workspace index.
	Project ProjectConfig `yaml:"project"`

	// Conversation tunes the history store.
	Conversation ConversationConfig `yaml:"conversation"`

	// Logging tunes the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Lifecycle tunes component bring-up and health tracking.
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// Telemetry selects trace and metric exporters.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// MetaConfig carries file bookkeeping.
type MetaConfig struct {
	Version string `yaml:"version"`
}

// ModelConfig selects the model backend.
type ModelConfig struct {
	// Backend is "ollama" or "openai".
	Backend string `yaml:"backend" validate:"required,oneof=ollama openai"`

	// BaseURL overrides the backend endpoint. Empty uses the backend
	// default (Ollama: OLLAMA_HOST or localhost:11434).
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Name is the default model (e.g., "qwen2.5-coder:7b").
	Name string `yaml:"name" validate:"required"`

	// APIKeyEnv names the environment variable holding the API key for
	// OpenAI-compatible backends. The key itself never lives in this
	// file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// KeepAlive controls how long Ollama keeps the model loaded.
	KeepAlive string `yaml:"keep_alive,omitempty"`

	// TimeoutSeconds bounds a single request including streaming reads.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0"`

	// RequestsPerSecond limits the outbound request rate. Zero disables
	// limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// ProjectConfig tunes the workspace index.
type ProjectConfig struct {
	// Root is the directory to index. Empty indexes the current working
	// directory.
	Root string `yaml:"root,omitempty"`

	// MaxFiles caps how many files the index holds.
	MaxFiles int `yaml:"max_files" validate:"gte=0"`

	// MaxFileSizeKB excludes files larger than this.
	MaxFileSizeKB int `yaml:"max_file_size_kb" validate:"gte=0"`

	// Ignore adds doublestar globs on top of the built-in ignore list.
	Ignore []string `yaml:"ignore,omitempty"`
}

// ConversationConfig tunes the history store.
type ConversationConfig struct {
	// Dir is the Badger directory. Empty uses ~/.kodiak/conversations.
	Dir string `yaml:"dir,omitempty"`

	// TTLHours expires messages this many hours after they are written.
	// Zero keeps history forever.
	TTLHours int `yaml:"ttl_hours" validate:"gte=0"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables file logging in the given directory. Empty uses
	// ~/.kodiak/logs.
	Dir string `yaml:"dir,omitempty"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// LifecycleConfig tunes bring-up and health tracking.
type LifecycleConfig struct {
	// FailureThreshold is how many recorded failures demote a READY
	// component to DEGRADED. Zero uses the tracker default.
	FailureThreshold int `yaml:"failure_threshold" validate:"gte=0"`

	// HealthCheckSeconds is the periodic health check interval. Zero
	// uses the tracker default.
	HealthCheckSeconds int `yaml:"health_check_seconds" validate:"gte=0"`

	// BackgroundWaitSeconds bounds how long status-style commands wait
	// for background components before reporting.
	BackgroundWaitSeconds int `yaml:"background_wait_seconds" validate:"gte=0"`
}

// TelemetryConfig selects exporters.
type TelemetryConfig struct {
	// TraceExporter is otlp, stdout, or none.
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// MetricExporter is prometheus, stdout, or none.
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`

	// OTLPEndpoint is the OTLP receiver for traces.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// Validate checks the loaded configuration against the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ModelTimeout returns the request timeout as a duration.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

// BackgroundWait returns the bounded wait for background components.
func (c *Config) BackgroundWait() time.Duration {
	if c.Lifecycle.BackgroundWaitSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Lifecycle.BackgroundWaitSeconds) * time.Second
}

// DefaultConfig returns the config written on first run.
func DefaultConfig() Config {
	return Config{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Model: ModelConfig{
			Backend:           "ollama",
			Name:              "qwen2.5-coder:7b",
			KeepAlive:         "5m",
			TimeoutSeconds:    120,
			RequestsPerSecond: 4,
			Burst:             8,
		},
		Project: ProjectConfig{
			MaxFiles:      5000,
			MaxFileSizeKB: 512,
		},
		Conversation: ConversationConfig{
			TTLHours: 30 * 24,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Lifecycle: LifecycleConfig{
			FailureThreshold:      3,
			HealthCheckSeconds:    30,
			BackgroundWaitSeconds: 30,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
	}
}

// DefaultPath returns ~/.kodiak/kodiak.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".kodiak", "kodiak.yaml"), nil
}
