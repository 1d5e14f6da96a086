// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/KodiakCLI/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakCLI/pkg/components"
	"github.com/AleutianAI/KodiakCLI/pkg/conversation"
	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/logging"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
	"github.com/AleutianAI/KodiakCLI/pkg/telemetry"
)

// defaultOllamaURL is where a stock Ollama install listens.
const defaultOllamaURL = "http://localhost:11434"

// App is the assembled tool: configuration, logging, telemetry, the
// lifecycle core over the component catalog, and the daemon prober.
//
// # Description
//
// Every command that needs components builds an App first. Construction
// is cheap: no component is created and no network call is made until a
// command asks the core for something or runs the bring-up steps.
//
// # Thread Safety
//
// App is assembled on the command goroutine before any concurrency
// starts. Close is idempotent.
//
// # Limitations
//
//   - One App per process. Telemetry providers register globally.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *telemetry.Metrics
	Core    *lifecycle.Core
	Prober  DaemonProber

	// BaseURL is the resolved model daemon endpoint.
	BaseURL string

	telemetryShutdown func(context.Context) error
	configPath        string
	closed            bool
}

// appOptions tune App assembly per command.
type appOptions struct {
	// service tags log records ("chat", "status", "doctor", "models").
	service string

	// quietLogs suppresses stderr log output. Status-style commands own
	// their stdout and do not want log lines interleaved with it.
	quietLogs bool
}

// newApp assembles the tool from the config file at configPath (empty
// means the default location, created on first run).
//
// # Inputs
//
//   - ctx: Used for telemetry exporter setup only.
//   - configPath: Config file path or "" for ~/.kodiak/kodiak.yaml.
//   - opts: Per-command assembly tuning.
//
// # Outputs
//
//   - *App: Ready for bring-up. Caller must Close.
//   - error: Config load/validation or telemetry setup failure.
func newApp(ctx context.Context, configPath string, opts appOptions) (*App, error) {
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	if logLevelFlag != "" {
		if flagLevel, err := logging.ParseLevel(logLevelFlag); err == nil {
			level = flagLevel
		}
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: opts.service,
		JSON:    cfg.Logging.JSON,
		Quiet:   opts.quietLogs,
	})

	telCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.TraceExporter != "" {
		telCfg.TraceExporter = cfg.Telemetry.TraceExporter
	}
	if cfg.Telemetry.MetricExporter != "" {
		telCfg.MetricExporter = cfg.Telemetry.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	telShutdown, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	meter := otel.Meter("kodiak")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		// Metrics are a nice-to-have; the tool works without them.
		logger.Warn("metrics disabled", "error", err)
		metrics = nil
	}

	core := lifecycle.NewCore(
		components.Registrations(componentsConfig(cfg, metrics), logger.Slog()),
		lifecycle.WithCoreLogger(logger.Slog()),
		lifecycle.WithCoreTrackerOptions(trackerOptions(cfg)...),
	)

	if metrics != nil {
		if _, err := metrics.RegisterComponentStates(meter, func() map[string]int64 {
			counts := make(map[string]int64)
			for _, rec := range core.Machine.Snapshot() {
				counts[string(rec.State)]++
			}
			return counts
		}); err != nil {
			logger.Warn("component state gauge disabled", "error", err)
		}
	}

	baseURL := modelBaseURL(cfg)
	return &App{
		Config:            cfg,
		Logger:            logger,
		Metrics:           metrics,
		Core:              core,
		Prober:            NewHTTPProber(baseURL),
		BaseURL:           baseURL,
		telemetryShutdown: telShutdown,
		configPath:        configPath,
	}, nil
}

// Close tears the App down: lifecycle core first so component disposal
// can still log and record metrics, then telemetry, then the logger.
func (a *App) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if err := a.Core.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.telemetryShutdown != nil {
		if err := a.telemetryShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// componentsConfig maps the config file onto the component catalog.
func componentsConfig(cfg *config.Config, metrics *telemetry.Metrics) components.Config {
	scan := project.DefaultScanOptions()
	if cfg.Project.MaxFiles > 0 {
		scan.MaxFiles = cfg.Project.MaxFiles
	}
	if cfg.Project.MaxFileSizeKB > 0 {
		scan.MaxFileSize = int64(cfg.Project.MaxFileSizeKB) * 1024
	}
	scan.IgnorePatterns = append(scan.IgnorePatterns, cfg.Project.Ignore...)

	convCfg := conversation.DefaultConfig()
	if cfg.Conversation.Dir != "" {
		convCfg.Path = cfg.Conversation.Dir
	}
	if cfg.Conversation.TTLHours > 0 {
		convCfg.TTL = time.Duration(cfg.Conversation.TTLHours) * time.Hour
	}

	model := modelFlag
	if model == "" {
		model = cfg.Model.Name
	}

	return components.Config{
		LLM: llm.Config{
			Backend:           cfg.Model.Backend,
			BaseURL:           cfg.Model.BaseURL,
			Model:             model,
			APIKey:            os.Getenv(cfg.Model.APIKeyEnv),
			KeepAlive:         cfg.Model.KeepAlive,
			Timeout:           cfg.ModelTimeout(),
			RequestsPerSecond: cfg.Model.RequestsPerSecond,
			Burst:             cfg.Model.Burst,
		},
		ProjectRoot:  cfg.Project.Root,
		Scan:         &scan,
		Conversation: convCfg,
		Metrics:      metrics,
	}
}

// trackerOptions maps lifecycle config onto status tracker options.
func trackerOptions(cfg *config.Config) []lifecycle.TrackerOption {
	var opts []lifecycle.TrackerOption
	if cfg.Lifecycle.FailureThreshold > 0 {
		opts = append(opts, lifecycle.WithFailureThreshold(cfg.Lifecycle.FailureThreshold))
	}
	if cfg.Lifecycle.HealthCheckSeconds > 0 {
		opts = append(opts, lifecycle.WithHealthCheckInterval(
			time.Duration(cfg.Lifecycle.HealthCheckSeconds)*time.Second))
	}
	return opts
}

// modelBaseURL resolves the daemon endpoint the prober and doctor talk
// to: explicit config first, then OLLAMA_HOST, then the stock default.
func modelBaseURL(cfg *config.Config) string {
	if cfg.Model.BaseURL != "" {
		return cfg.Model.BaseURL
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
			return host
		}
		return "http://" + host
	}
	return defaultOllamaURL
}
