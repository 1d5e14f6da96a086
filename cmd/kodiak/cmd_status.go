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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/ux"
)

// runStatusCommand brings the full component set up in this process and
// reports what came of it. Status is a fresh bring-up, not an inspection
// of some other process: the tool is single-process, so the health worth
// reporting is "what happens when components start here, now".
func runStatusCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	// Logs stay out of the report; the formatted view owns stdout.
	app, err := newApp(ctx, configPathFlag, appOptions{service: "status", quietLogs: true})
	if err != nil {
		ux.Error(fmt.Sprintf("Startup failed: %v", err))
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = app.Close(closeCtx)
	}()

	foreground, background := bringupSteps(app)
	res, err := app.Core.Initializer.InitializeStreaming(ctx, foreground, background)
	if err != nil {
		ux.Error(fmt.Sprintf("Bring-up failed: %v", err))
		os.Exit(1)
	}

	wait := app.Config.BackgroundWait()
	if statusWait > 0 {
		wait = time.Duration(statusWait) * time.Second
	}
	names := make([]string, len(background))
	for i, step := range background {
		names[i] = step.Name
	}
	if _, err := app.Core.Initializer.WaitForComponents(ctx, names, wait); err != nil && ctx.Err() != nil {
		os.Exit(130)
	}

	text, err := app.Core.Status(statusOutput)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	fmt.Print(text)
	if text != "" && text[len(text)-1] != '\n' {
		fmt.Println()
	}

	if !res.EssentialComponentsReady {
		os.Exit(1)
	}
	if app.Core.Tracker.GetSystemHealth() == lifecycle.SystemCritical {
		os.Exit(2)
	}
}
