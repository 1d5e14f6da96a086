// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package components binds the domain implementations into the lifecycle
// core: one registration per component type, each with its builder, its
// default timeout and retry budget, and its typed fallback stub.
//
// Builders receive their dependencies through the lifecycle.Resolver they
// are handed, never by importing each other, so the factory owns ordering,
// coalescing, and cycle handling. The contracts the resolved values are
// asserted against live in contracts.go and are compile-time checked for
// both the real implementations and the fallback stubs.
package components

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/KodiakCLI/pkg/assistant"
	"github.com/AleutianAI/KodiakCLI/pkg/conversation"
	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
	"github.com/AleutianAI/KodiakCLI/pkg/telemetry"
)

// =============================================================================
// Catalog
// =============================================================================

// Config carries the external settings the component builders close over.
// The zero value is usable: it selects the Ollama backend, the current
// working directory as the project root, and the default conversation
// store location.
type Config struct {
	// LLM selects and tunes the model backend for aiClient.
	LLM llm.Config

	// ProjectRoot is the directory projectContext indexes. Empty selects
	// the current working directory.
	ProjectRoot string

	// Scan overrides the project scanner limits. Nil selects
	// project.DefaultScanOptions.
	Scan *project.ScanOptions

	// Conversation configures the history store. A zero value selects
	// conversation.DefaultConfig.
	Conversation conversation.Config

	// Analyzer, Planner, Context, and Router tune the assistant
	// components. Zero values select each component's defaults.
	Analyzer assistant.AnalyzerConfig
	Planner  assistant.PlannerConfig
	Context  assistant.ContextConfig
	Router   assistant.RouterConfig

	// Fallbacks overrides the fallback table. Nil selects
	// DefaultFallbacks.
	Fallbacks lifecycle.FallbackTable

	// Metrics, when set, is attached to the project index so scans are
	// recorded.
	Metrics *telemetry.Metrics
}

// Registrations produces the component catalog for the lifecycle core.
//
// Description:
//
//	Every declared component type gets a registration. Timeouts and retry
//	budgets come from the per-type defaults in pkg/lifecycle; fallbacks
//	come from cfg.Fallbacks. aiClient is the only component marked
//	essential: the CLI refuses interactive use without a model backend,
//	while everything else degrades.
//
// Thread Safety: the returned map is read-only after construction; the
// builders it holds are safe for concurrent use.
func Registrations(cfg Config, logger *slog.Logger) lifecycle.Registrations {
	if logger == nil {
		logger = slog.Default()
	}
	fallbacks := cfg.Fallbacks
	if fallbacks == nil {
		fallbacks = DefaultFallbacks()
	}

	regs := lifecycle.Registrations{
		lifecycle.ComponentAIClient: {
			Build:  buildAIClient(cfg, logger),
			Config: componentConfig(lifecycle.ComponentAIClient, fallbacks, true),
		},
		lifecycle.ComponentProjectContext: {
			Build:  buildProjectContext(cfg, logger),
			Config: componentConfig(lifecycle.ComponentProjectContext, fallbacks, false),
		},
		lifecycle.ComponentConversationManager: {
			Build:  buildConversationManager(cfg, logger),
			Config: componentConfig(lifecycle.ComponentConversationManager, fallbacks, false),
		},
		lifecycle.ComponentIntentAnalyzer: {
			Build:  buildIntentAnalyzer(cfg, logger),
			Config: componentConfig(lifecycle.ComponentIntentAnalyzer, fallbacks, false),
		},
		lifecycle.ComponentTaskPlanner: {
			Build:  buildTaskPlanner(cfg, logger),
			Config: componentConfig(lifecycle.ComponentTaskPlanner, fallbacks, false),
		},
		lifecycle.ComponentAdvancedContextManager: {
			Build:  buildContextManager(cfg, logger),
			Config: componentConfig(lifecycle.ComponentAdvancedContextManager, fallbacks, false),
		},
		lifecycle.ComponentNaturalLanguageRouter: {
			Build:  buildRouter(cfg, logger),
			Config: componentConfig(lifecycle.ComponentNaturalLanguageRouter, fallbacks, false),
		},
	}
	return regs
}

func componentConfig(typ lifecycle.ComponentType, fallbacks lifecycle.FallbackTable, essential bool) lifecycle.ComponentConfig {
	retries := lifecycle.DefaultRetriesFor(typ)
	return lifecycle.ComponentConfig{
		Timeout:   lifecycle.DefaultTimeoutFor(typ),
		Retries:   &retries,
		Essential: essential,
		Fallback:  fallbacks[typ],
	}
}

// =============================================================================
// Builders
// =============================================================================

// buildAIClient constructs and pings the model client. The ping is part
// of construction on purpose: an unreachable backend should fail here,
// where the retry and fallback machinery can act on it, not on the first
// chat turn.
func buildAIClient(cfg Config, logger *slog.Logger) lifecycle.Builder {
	return func(ctx context.Context, deps lifecycle.Resolver) (any, error) {
		client, err := llm.New(cfg.LLM, logger)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("model backend unreachable: %w", err)
		}
		return client, nil
	}
}

// buildProjectContext scans the project root eagerly so the index is
// populated when the component is handed out.
func buildProjectContext(cfg Config, logger *slog.Logger) lifecycle.Builder {
	return func(ctx context.Context, deps lifecycle.Resolver) (any, error) {
		root := cfg.ProjectRoot
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("determine project root: %w", err)
			}
			root = wd
		}
		index, err := project.NewIndex(root, cfg.Scan, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Metrics != nil {
			index.WithMetrics(cfg.Metrics)
		}
		if err := index.Scan(ctx); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("initial project scan: %w", err)
		}
		return index, nil
	}
}

func buildConversationManager(cfg Config, logger *slog.Logger) lifecycle.Builder {
	return func(ctx context.Context, deps lifecycle.Resolver) (any, error) {
		storeCfg := cfg.Conversation
		if storeCfg.Path == "" && !storeCfg.InMemory {
			storeCfg = conversation.DefaultConfig()
		}
		if storeCfg.Logger == nil {
			storeCfg.Logger = logger
		}
		store, err := conversation.Open(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		return conversation.NewManager(store, logger), nil
	}
}

func buildIntentAnalyzer(cfg Config, logger *slog.Logger) lifecycle.Builder {
	return func(ctx context.Context, deps lifecycle.Resolver) (any, error) {
		v, err := deps.Resolve(ctx, lifecycle.ComponentAIClient)
		if err != nil {
			return nil, err
		}
		model, ok := v.(assistant.ChatModel)
		if !ok {
			return nil, fmt.Errorf("aiClient has unexpected shape %T", v)
		}
		return assistant.NewAnalyzer(model, cfg.Analyzer, logger)
	}
}

func buildTaskPlanner(cfg Config, logger *slog.Logger) lifecycle.Builder {
	return func(ctx context.Context, deps lifecycle.Resolver) (any, error) {
		v, err := deps.Resolve(ctx, lifecycle.ComponentAIClient)
		if err != nil {
			return nil, err
		}
		model, ok := v.(assistant.ChatModel)
		if !ok {
			return nil, fmt.Errorf("aiClient has unexpected shape %T", v)
		}
		v, err = deps.Resolve(ctx, lifecycle.ComponentProjectContext)
		if err != nil {
			return nil, err
		}
		index, ok := v.(assistant.ProjectIndex)
		if !ok {
			return nil, fmt.Errorf("projectContext has unexpected shape %T", v)
		}
		return assistant.NewPlanner(model, index, cfg.Planner, logger)
	}
}

func buildContextManager(cfg Config, logger *slog.Logger) lifecycle.Builder {
	return func(ctx context.Context, deps lifecycle.Resolver) (any, error) {
		v, err := deps.Resolve(ctx, lifecycle.ComponentProjectContext)
		if err != nil {
			return nil, err
		}
		index, ok := v.(assistant.ProjectIndex)
		if !ok {
			return nil, fmt.Errorf("projectContext has unexpected shape %T", v)
		}
		v, err = deps.Resolve(ctx, lifecycle.ComponentConversationManager)
		if err != nil {
			return nil, err
		}
		history, ok := v.(assistant.HistoryProvider)
		if !ok {
			return nil, fmt.Errorf("conversationManager has unexpected shape %T", v)
		}
		return assistant.NewContextManager(index, history, cfg.Context, logger), nil
	}
}

// buildRouter wires the router over the analyzer and registers the plan
// route against the resolved planner. The chat command layers its own
// conversational handlers on top after resolution; the catalog only
// installs what its declared dependencies can serve.
func buildRouter(cfg Config, logger *slog.Logger) lifecycle.Builder {
	return func(ctx context.Context, deps lifecycle.Resolver) (any, error) {
		v, err := deps.Resolve(ctx, lifecycle.ComponentIntentAnalyzer)
		if err != nil {
			return nil, err
		}
		analyzer, ok := v.(assistant.IntentAnalyzer)
		if !ok {
			return nil, fmt.Errorf("intentAnalyzer has unexpected shape %T", v)
		}
		v, err = deps.Resolve(ctx, lifecycle.ComponentTaskPlanner)
		if err != nil {
			return nil, err
		}
		planner, ok := v.(Planner)
		if !ok {
			return nil, fmt.Errorf("taskPlanner has unexpected shape %T", v)
		}

		router, err := assistant.NewRouter(analyzer, cfg.Router, logger)
		if err != nil {
			return nil, err
		}
		router.Register(assistant.CategoryPlan, func(ctx context.Context, input string, intent assistant.Intent) (string, error) {
			plan, err := planner.Plan(ctx, input)
			if err != nil {
				return "", err
			}
			return plan.Render(), nil
		})
		router.SetFallback(func(ctx context.Context, input string, intent assistant.Intent) (string, error) {
			return "I could not route that request confidently. Try rephrasing, or ask for a plan explicitly.", nil
		})
		return router, nil
	}
}
