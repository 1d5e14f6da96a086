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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakCLI/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/ux"
)

// =============================================================================
// Check Types
// =============================================================================

// checkOutcome classifies a doctor check result.
type checkOutcome string

const (
	checkOK   checkOutcome = "ok"
	checkWarn checkOutcome = "warn"
	checkFail checkOutcome = "fail"
)

// doctorCheck is one diagnostic finding.
type doctorCheck struct {
	Name    string       `json:"name"`
	Outcome checkOutcome `json:"outcome"`
	Detail  string       `json:"detail,omitempty"`

	// Remedy is the command or action that fixes a failed check.
	Remedy string `json:"remedy,omitempty"`
}

func (c doctorCheck) icon() ux.Icon {
	switch c.Outcome {
	case checkOK:
		return ux.IconSuccess
	case checkWarn:
		return ux.IconWarning
	default:
		return ux.IconError
	}
}

// =============================================================================
// Command
// =============================================================================

// runDoctorCommand diagnoses the environment without bringing components
// up: configuration, the declared dependency graph, the model daemon,
// and model availability. Each check is independent so one failure does
// not hide the others.
func runDoctorCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checks := runDoctorChecks(ctx)

	failed := 0
	if doctorJSON {
		data, err := json.MarshalIndent(checks, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode results: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		for _, c := range checks {
			if c.Outcome == checkFail {
				failed++
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	ux.Title("Kodiak Doctor")
	warned := 0
	for _, c := range checks {
		ux.CheckStatus(c.Name, c.icon(), c.Detail)
		if c.Outcome == checkFail && c.Remedy != "" {
			ux.Muted("    try: " + c.Remedy)
		}
		switch c.Outcome {
		case checkFail:
			failed++
		case checkWarn:
			warned++
		}
	}
	ux.Summary(len(checks)-failed-warned, warned, failed, len(checks))
	if failed > 0 {
		os.Exit(1)
	}
}

// runDoctorChecks executes every check and returns the findings in
// display order.
func runDoctorChecks(ctx context.Context) []doctorCheck {
	checks := make([]doctorCheck, 0, 4)

	cfg, configCheck := checkConfig()
	checks = append(checks, configCheck)
	checks = append(checks, checkDependencyGraph())

	if cfg == nil {
		checks = append(checks, doctorCheck{
			Name:    "model daemon",
			Outcome: checkWarn,
			Detail:  "skipped: configuration not loadable",
		})
		return checks
	}

	daemonCheck, daemonUp := checkDaemon(ctx, cfg)
	checks = append(checks, daemonCheck)
	checks = append(checks, checkModel(ctx, cfg, daemonUp))
	return checks
}

// checkConfig loads and validates the config file. The loaded config is
// returned so later checks can use it; nil when unusable.
func checkConfig() (*config.Config, doctorCheck) {
	path := configPathFlag
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, doctorCheck{Name: "configuration", Outcome: checkFail, Detail: err.Error()}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, doctorCheck{
			Name:    "configuration",
			Outcome: checkFail,
			Detail:  err.Error(),
			Remedy:  "fix " + path + " or delete it to regenerate defaults",
		}
	}
	return cfg, doctorCheck{Name: "configuration", Outcome: checkOK, Detail: path}
}

// checkDependencyGraph validates the declared component graph. A cycle
// is a warning, not a failure: the creation-stack guard serves cyclic
// requests degraded instead of hanging them.
func checkDependencyGraph() doctorCheck {
	graph := lifecycle.DefaultDependencyGraph()
	cycles := graph.FindCycles()
	if len(cycles) == 0 {
		return doctorCheck{
			Name:    "dependency graph",
			Outcome: checkOK,
			Detail:  fmt.Sprintf("%d components, acyclic", len(graph.Declared())),
		}
	}
	rendered := make([]string, len(cycles))
	for i, cycle := range cycles {
		rendered[i] = cycle.String()
	}
	return doctorCheck{
		Name:    "dependency graph",
		Outcome: checkWarn,
		Detail:  "cycles: " + strings.Join(rendered, "; "),
	}
}

// checkDaemon probes the model daemon once.
func checkDaemon(ctx context.Context, cfg *config.Config) (doctorCheck, bool) {
	if cfg.Model.Backend != "ollama" {
		return doctorCheck{
			Name:    "model daemon",
			Outcome: checkOK,
			Detail:  "skipped for " + cfg.Model.Backend + " backend",
		}, false
	}
	baseURL := modelBaseURL(cfg)
	status := NewHTTPProber(baseURL).Check(ctx)
	switch status.State {
	case ProbeHealthy:
		return doctorCheck{
			Name:    "model daemon",
			Outcome: checkOK,
			Detail:  fmt.Sprintf("%s (%s)", baseURL, status.Latency.Round(time.Millisecond)),
		}, true
	case ProbeUnhealthy:
		return doctorCheck{
			Name:    "model daemon",
			Outcome: checkFail,
			Detail:  fmt.Sprintf("%s answered but reported %s", baseURL, status.Message),
			Remedy:  "restart the daemon: ollama serve",
		}, false
	default:
		return doctorCheck{
			Name:    "model daemon",
			Outcome: checkFail,
			Detail:  fmt.Sprintf("%s unreachable: %s", baseURL, status.Message),
			Remedy:  "start the daemon: ollama serve",
		}, false
	}
}

// checkModel verifies the configured model exists on the daemon.
func checkModel(ctx context.Context, cfg *config.Config, daemonUp bool) doctorCheck {
	name := cfg.Model.Name
	if cfg.Model.Backend != "ollama" {
		return doctorCheck{
			Name:    "model " + name,
			Outcome: checkOK,
			Detail:  "presence check skipped for " + cfg.Model.Backend + " backend",
		}
	}
	if !daemonUp {
		return doctorCheck{
			Name:    "model " + name,
			Outcome: checkWarn,
			Detail:  "skipped: daemon not reachable",
		}
	}

	client := llm.NewOllamaClient(llm.Config{
		BaseURL: modelBaseURL(cfg),
		Model:   name,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	present, err := client.HasModel(ctx, name)
	if err != nil {
		return doctorCheck{
			Name:    "model " + name,
			Outcome: checkWarn,
			Detail:  "could not list models: " + err.Error(),
		}
	}
	if !present {
		return doctorCheck{
			Name:    "model " + name,
			Outcome: checkFail,
			Detail:  "not downloaded",
			Remedy:  "kodiak models pull " + name,
		}
	}
	return doctorCheck{Name: "model " + name, Outcome: checkOK, Detail: "available"}
}
