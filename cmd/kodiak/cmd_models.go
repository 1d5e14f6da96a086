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
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakCLI/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/ux"
)

// runModelsList prints the models the daemon has available.
func runModelsList(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg, client, err := modelsClient()
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	models, err := client.ListModels(ctx)
	if err != nil {
		ux.Error(fmt.Sprintf("Could not list models: %v", err))
		ux.Muted("Is the daemon running? `kodiak doctor` will tell you.")
		os.Exit(1)
	}
	if len(models) == 0 {
		ux.Warning("No models downloaded yet.")
		ux.Muted("Pull one with: kodiak models pull " + cfg.Model.Name)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tFAMILY\tMODIFIED")
	for _, m := range models {
		marker := ""
		if m.Name == cfg.Model.Name {
			marker = " *"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n",
			m.Name, marker, humanSize(m.Size), m.Family, humanAge(m.ModifiedAt))
	}
	w.Flush()
}

// runModelsPull downloads a model to the daemon, confirming first since
// pulls routinely run to several gigabytes.
func runModelsPull(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, client, err := modelsClient()
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	name := cfg.Model.Name
	if len(args) > 0 {
		name = args[0]
	}

	present, err := client.HasModel(ctx, name)
	if err == nil && present {
		ux.Success(fmt.Sprintf("Model %s is already available.", name))
		return
	}

	prompter := newPrompter(pullYes)
	ok, err := prompter.Confirm(ctx, fmt.Sprintf("Download %s? Models can be several gigabytes.", name))
	if err != nil {
		ux.Error(fmt.Sprintf("Confirmation failed: %v", err))
		os.Exit(1)
	}
	if !ok {
		ux.Muted("Pull cancelled.")
		return
	}

	if err := pullWithProgress(ctx, client, name, os.Stderr); err != nil {
		ux.Error(fmt.Sprintf("Pull failed: %v", err))
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("Model %s is ready.", name))
}

// modelsClient builds a daemon client for the models commands. These
// commands talk to the daemon directly; the component lifecycle is for
// sessions, not administration.
func modelsClient() (*config.Config, *llm.OllamaClient, error) {
	path := configPathFlag
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Model.Backend != "ollama" {
		return nil, nil, fmt.Errorf("model management needs the ollama backend; configured backend is %s", cfg.Model.Backend)
	}
	client := llm.NewOllamaClient(llm.Config{
		BaseURL: modelBaseURL(cfg),
		Model:   cfg.Model.Name,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return cfg, client, nil
}

// pullWithProgress streams pull progress as a single rewritten line.
// Machine personality gets one line per status change instead.
func pullWithProgress(ctx context.Context, client *llm.OllamaClient, name string, w io.Writer) error {
	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	lastStatus := ""
	lastPct := -1

	err := client.PullModel(ctx, name, func(status string, completed, total int64) {
		if machine {
			if status != lastStatus {
				fmt.Fprintf(w, "pull\t%s\t%s\n", name, status)
				lastStatus = status
			}
			return
		}
		if total > 0 {
			pct := int(completed * 100 / total)
			if pct == lastPct && status == lastStatus {
				return
			}
			lastPct, lastStatus = pct, status
			fmt.Fprintf(w, "\r\033[K%s %s %3d%% (%s / %s)",
				status, ux.ProgressBar(pct, 100, 24), pct,
				humanSize(completed), humanSize(total))
			return
		}
		if status != lastStatus {
			lastStatus = status
			fmt.Fprintf(w, "\r\033[K%s", status)
		}
	})
	if !machine {
		fmt.Fprint(w, "\r\033[K")
	}
	return err
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func humanAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := time.Since(t)
	switch {
	case age < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}
}
