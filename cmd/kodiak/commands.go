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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakCLI/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPathFlag   string
	logLevelFlag     string
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	modelFlag    string // CLI override for model.name
	resumeFlag   string // Conversation ID to resume
	resumeLatest bool   // Resume the most recent conversation
	diagAddr     string // Listen address for the diagnostic HTTP server

	statusOutput string // Status render mode (summary/list/table/json)
	statusWait   int    // Seconds to wait for background components

	doctorJSON bool // Doctor output as JSON

	pullYes bool // Skip the pull confirmation prompt

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "A local-first AI coding assistant for your terminal",
		Long: `Kodiak is an AI coding assistant that runs against a local model
daemon. Components initialize lazily and in the background, so the
prompt appears as soon as the model client is up.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	// --- Status ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Bring components up and report their health",
		Run:   runStatusCommand, // Defined in cmd_status.go
	}

	// --- Doctor ---
	doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration, dependency graph, and daemon issues",
		Run:   runDoctorCommand, // Defined in cmd_doctor.go
	}

	// --- Models ---
	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "Manage models on the local daemon",
	}
	modelsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List models available on the daemon",
		Run:   runModelsList, // Defined in cmd_models.go
	}
	modelsPullCmd = &cobra.Command{
		Use:   "pull [model]",
		Short: "Download a model to the daemon",
		Args:  cobra.MaximumNArgs(1),
		Run:   runModelsPull, // Defined in cmd_models.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "",
		"Config file path (default ~/.kodiak/kodiak.yaml, created on first run)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&resumeFlag, "resume", "",
		"Resume a conversation by ID")
	chatCmd.Flags().BoolVar(&resumeLatest, "continue", false,
		"Resume the most recently updated conversation")
	chatCmd.Flags().StringVarP(&modelFlag, "model", "m", "",
		"Override the configured model for this session")
	chatCmd.Flags().StringVar(&diagAddr, "diag-addr", "",
		"Serve /healthz, /readyz, /status, and /metrics on this address (e.g. 127.0.0.1:6060)")

	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table",
		"Render mode: summary, list, table, or json")
	statusCmd.Flags().IntVar(&statusWait, "wait", 0,
		"Seconds to wait for background components (default from config)")

	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false,
		"Output check results as JSON")

	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsPullCmd)
	modelsPullCmd.Flags().BoolVarP(&pullYes, "yes", "y", false,
		"Skip the download confirmation prompt")
}
