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
	"time"

	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
)

// stepOllamaServer is the daemon probe step. It is not a component: it
// produces nothing, it only gates the aiClient step behind a healthy
// daemon so construction failures mean "broken", not "still booting".
const stepOllamaServer = "ollama-server"

// ollamaProbeTimeout bounds the daemon wait during bring-up. Long enough
// for a systemd-started daemon to come up, short enough that a missing
// install fails before the user walks away.
const ollamaProbeTimeout = 10 * time.Second

// bringupSteps builds the default bring-up plan.
//
// # Description
//
// The essential phase runs sequentially and blocks the prompt: probe
// the daemon, then construct the model client. Everything else is
// background work ordered by declared dependencies; steps whose
// dependencies fail are skipped, and the factory's fallback machinery
// decides later whether a degraded stand-in can serve.
//
// # Inputs
//
//   - app: Assembled tool. Component steps resolve through its core so
//     bring-up and lazy access share one cache.
//
// # Outputs
//
//   - foreground: Essential steps, in execution order.
//   - background: Deferred steps, in submission order.
func bringupSteps(app *App) (foreground, background []lifecycle.Step) {
	foreground = []lifecycle.Step{
		{
			Name:        stepOllamaServer,
			Essential:   true,
			Timeout:     ollamaProbeTimeout,
			Description: "model daemon",
			Factory: func(ctx context.Context) (any, error) {
				opts := DefaultProbeOptions()
				opts.Timeout = ollamaProbeTimeout
				res, err := app.Prober.WaitUntilReady(ctx, opts)
				if err != nil {
					return nil, fmt.Errorf("daemon at %s not ready after %d attempts: %w",
						app.BaseURL, res.Attempts, err)
				}
				return res, nil
			},
		},
		componentStep(app, lifecycle.ComponentAIClient, true, "model client"),
	}

	background = []lifecycle.Step{
		componentStep(app, lifecycle.ComponentProjectContext, false, "project index"),
		componentStep(app, lifecycle.ComponentConversationManager, false, "conversation history"),
		componentStep(app, lifecycle.ComponentIntentAnalyzer, false, "intent analyzer",
			lifecycle.ComponentAIClient),
		componentStep(app, lifecycle.ComponentTaskPlanner, false, "task planner",
			lifecycle.ComponentAIClient, lifecycle.ComponentProjectContext),
		componentStep(app, lifecycle.ComponentAdvancedContextManager, false, "context manager",
			lifecycle.ComponentProjectContext, lifecycle.ComponentConversationManager),
		componentStep(app, lifecycle.ComponentNaturalLanguageRouter, false, "language router",
			lifecycle.ComponentIntentAnalyzer, lifecycle.ComponentTaskPlanner),
	}
	return foreground, background
}

// componentStep wraps a catalog component as a bring-up step. The step
// timeout mirrors the component's construction default; the factory
// layer still applies its own per-attempt budget and retries inside it.
func componentStep(app *App, typ lifecycle.ComponentType, essential bool, description string, deps ...lifecycle.ComponentType) lifecycle.Step {
	names := make([]string, len(deps))
	for i, dep := range deps {
		names[i] = string(dep)
	}
	return lifecycle.Step{
		Name:         string(typ),
		Essential:    essential,
		Timeout:      stepBudget(typ),
		Dependencies: names,
		Description:  description,
		Factory: func(ctx context.Context) (any, error) {
			return app.Core.Get(ctx, typ)
		},
	}
}

// stepBudget leaves headroom over the component's construction timeout
// so the factory's retries run out before the step does. Otherwise the
// step would report a timeout while the factory was mid-retry.
func stepBudget(typ lifecycle.ComponentType) time.Duration {
	base := lifecycle.DefaultTimeoutFor(typ)
	attempts := lifecycle.DefaultRetriesFor(typ) + 1
	return base*time.Duration(attempts) + lifecycle.RetryBackoffMax
}
