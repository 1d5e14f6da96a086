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

	"github.com/AleutianAI/KodiakCLI/pkg/assistant"
	"github.com/AleutianAI/KodiakCLI/pkg/conversation"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
)

// =============================================================================
// Component Contracts
// =============================================================================

// The factory hands components out as any. These are the shapes callers
// assert on the result. Where the assistant package already defines the
// dependency interface (ChatModel, ProjectIndex, HistoryProvider,
// IntentAnalyzer), builders assert that; the contracts below cover the
// remaining components.

// Planner is the taskPlanner contract.
type Planner interface {
	Plan(ctx context.Context, goal string) (*assistant.Plan, error)
}

// ContextBuilder is the advancedContextManager contract.
type ContextBuilder interface {
	BuildMessages(ctx context.Context, query string) ([]llm.Message, error)
}

// IntentRouter is the naturalLanguageRouter contract.
type IntentRouter interface {
	Route(ctx context.Context, input string) (assistant.RouteResult, error)
}

// Historian is the conversationManager contract as the chat loop uses it.
type Historian interface {
	Append(ctx context.Context, role, content string) (conversation.Message, error)
	Recent(ctx context.Context, n int) ([]conversation.Message, error)
	History(ctx context.Context) ([]conversation.Message, error)
}

// Every real component and every fallback stub must satisfy the contract
// its dependents assert. A signature drift breaks the build here, not a
// session at runtime.
var (
	_ llm.Client                = (*llm.OllamaClient)(nil)
	_ llm.Client                = (*OfflineClient)(nil)
	_ assistant.ChatModel       = (*OfflineClient)(nil)
	_ assistant.ProjectIndex    = (*project.Index)(nil)
	_ assistant.ProjectIndex    = EmptyIndex{}
	_ Historian                 = (*conversation.Manager)(nil)
	_ Historian                 = NullHistory{}
	_ assistant.HistoryProvider = NullHistory{}
	_ assistant.IntentAnalyzer  = (*assistant.Analyzer)(nil)
	_ assistant.IntentAnalyzer  = StaticAnalyzer{}
	_ Planner                   = (*assistant.Planner)(nil)
	_ Planner                   = SingleStepPlanner{}
	_ ContextBuilder            = (*assistant.ContextManager)(nil)
	_ ContextBuilder            = BareContext{}
	_ IntentRouter              = (*assistant.Router)(nil)
	_ IntentRouter              = EchoRouter{}
)
