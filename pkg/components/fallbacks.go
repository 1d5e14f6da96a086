// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package components

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/AleutianAI/KodiakCLI/pkg/assistant"
	"github.com/AleutianAI/KodiakCLI/pkg/conversation"
	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
)

// =============================================================================
// Fallback Stubs
// =============================================================================

// Each stub satisfies the same contract as the real component, checked
// at compile time in contracts.go, so a degraded component never changes
// what its dependents can call. Stubs answer without reaching a backend,
// the filesystem, or a store.

// DefaultFallbacks returns the fallback producer for every component
// type.
func DefaultFallbacks() lifecycle.FallbackTable {
	return lifecycle.FallbackTable{
		lifecycle.ComponentAIClient:                func() any { return &OfflineClient{} },
		lifecycle.ComponentProjectContext:          func() any { return EmptyIndex{} },
		lifecycle.ComponentConversationManager:     func() any { return NullHistory{} },
		lifecycle.ComponentIntentAnalyzer:          func() any { return StaticAnalyzer{} },
		lifecycle.ComponentTaskPlanner:             func() any { return SingleStepPlanner{} },
		lifecycle.ComponentAdvancedContextManager:  func() any { return BareContext{} },
		lifecycle.ComponentNaturalLanguageRouter:   func() any { return EchoRouter{} },
	}
}

// OfflineClient is the aiClient fallback. Every model operation fails
// with a remediation-bearing ModelError instead of reaching a backend.
type OfflineClient struct {
	// Reason optionally records why the real client is unavailable.
	Reason string
}

func (c *OfflineClient) unavailable() error {
	detail := c.Reason
	if detail == "" {
		detail = "the model client failed to initialize"
	}
	return &llm.ModelError{
		Type:    llm.ModelErrorConnectionFailed,
		Message: "model backend unavailable",
		Detail:  detail,
		Remediation: "Check that Ollama is running: ollama serve\n" +
			"Then restart the session.",
	}
}

// Generate implements llm.Client.
func (c *OfflineClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return "", c.unavailable()
}

// Chat implements llm.Client.
func (c *OfflineClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return "", c.unavailable()
}

// ChatStream implements llm.Client.
func (c *OfflineClient) ChatStream(ctx context.Context, messages []llm.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	return c.unavailable()
}

// ListModels implements llm.Client.
func (c *OfflineClient) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return nil, c.unavailable()
}

// Ping implements llm.Client.
func (c *OfflineClient) Ping(ctx context.Context) error {
	return c.unavailable()
}

// Name implements llm.Client.
func (c *OfflineClient) Name() string { return "offline" }

// Model implements llm.Client.
func (c *OfflineClient) Model() string { return "" }

// EmptyIndex is the projectContext fallback: a project view with no
// files and no module.
type EmptyIndex struct{}

// Root implements assistant.ProjectIndex.
func (EmptyIndex) Root() string { return "" }

// Files implements assistant.ProjectIndex.
func (EmptyIndex) Files() []project.FileInfo { return nil }

// Stats implements assistant.ProjectIndex.
func (EmptyIndex) Stats() project.Stats { return project.Stats{} }

// Module implements assistant.ProjectIndex.
func (EmptyIndex) Module() *project.ModuleInfo { return nil }

// NullHistory is the conversationManager fallback. Appends are accepted
// and dropped; history is always empty. The session keeps working, it
// just stops remembering.
type NullHistory struct{}

// Append implements Historian. The returned message carries no ID,
// signalling that nothing was persisted.
func (NullHistory) Append(ctx context.Context, role, content string) (conversation.Message, error) {
	return conversation.Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}, nil
}

// Recent implements Historian.
func (NullHistory) Recent(ctx context.Context, n int) ([]conversation.Message, error) {
	return nil, nil
}

// History implements Historian.
func (NullHistory) History(ctx context.Context) ([]conversation.Message, error) {
	return nil, nil
}

// StaticAnalyzer is the intentAnalyzer fallback: every input classifies
// as conversational with low confidence, which sends the router to its
// fallback route.
type StaticAnalyzer struct{}

// Analyze implements assistant.IntentAnalyzer.
func (StaticAnalyzer) Analyze(ctx context.Context, input string) (assistant.Intent, error) {
	if strings.TrimSpace(input) == "" {
		return assistant.Intent{}, errors.New("input must not be blank")
	}
	return assistant.Intent{
		Category:   assistant.CategoryChat,
		Confidence: 0.3,
		Reasoning:  "intent analysis unavailable",
		Source:     "rules",
	}, nil
}

// SingleStepPlanner is the taskPlanner fallback: every goal becomes a
// one-step plan that restates the goal.
type SingleStepPlanner struct{}

// Plan implements Planner.
func (SingleStepPlanner) Plan(ctx context.Context, goal string) (*assistant.Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, errors.New("goal must not be blank")
	}
	return &assistant.Plan{
		Goal:      goal,
		Steps:     []assistant.PlanStep{{Order: 1, Description: goal}},
		Source:    "fallback",
		CreatedAt: time.Now().UTC(),
	}, nil
}

// BareContext is the advancedContextManager fallback: no project
// summary, no history, just the system line and the query.
type BareContext struct{}

// BuildMessages implements ContextBuilder.
func (BareContext) BuildMessages(ctx context.Context, query string) ([]llm.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query must not be blank")
	}
	return []llm.Message{
		{Role: "system", Content: "You are Kodiak, a code assistant."},
		{Role: "user", Content: query},
	}, nil
}

// EchoRouter is the naturalLanguageRouter fallback: input is
// acknowledged on the fallback route, never dispatched.
type EchoRouter struct{}

// Route implements IntentRouter.
func (EchoRouter) Route(ctx context.Context, input string) (assistant.RouteResult, error) {
	return assistant.RouteResult{
		Intent: assistant.Intent{
			Category:  assistant.CategoryChat,
			Reasoning: "routing unavailable",
		},
		Route:        "fallback",
		Reply:        "Request routing is unavailable right now; received: " + input,
		UsedFallback: true,
	}, nil
}
