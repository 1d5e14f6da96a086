// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant implements the language-facing components Kodiak builds
// on top of the LLM client: intent analysis, task planning, token-budgeted
// context assembly, and natural-language routing.
//
// The machinery here is deliberately mechanical. The analyzer is rule-first
// with optional model refinement, the planner turns a goal plus a project
// index into a numbered step list, the context manager assembles prompts
// under a token budget, and the router dispatches on intent with a
// confidence threshold and a fallback route. Each component depends on the
// narrow interfaces below rather than on concrete clients, so the lifecycle
// core can substitute degraded stubs without the components noticing.
package assistant

import (
	"context"

	"github.com/AleutianAI/KodiakCLI/pkg/conversation"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
)

// =============================================================================
// Dependency Interfaces
// =============================================================================

// ChatModel is the slice of the LLM client the assistant components use.
// *llm.OllamaClient and *llm.OpenAIClient both satisfy it.
type ChatModel interface {
	// Chat sends a conversation and returns the assistant reply.
	Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error)
}

// ProjectIndex is the scanned view of the target project.
// *project.Index satisfies it.
type ProjectIndex interface {
	// Root returns the absolute project root.
	Root() string

	// Files returns the indexed files from the latest scan.
	Files() []project.FileInfo

	// Stats returns summary statistics from the latest scan.
	Stats() project.Stats

	// Module returns the parsed go.mod, or nil when the project has none.
	Module() *project.ModuleInfo
}

// HistoryProvider yields recent conversation turns for prompt assembly.
// *conversation.Manager satisfies it.
type HistoryProvider interface {
	// Recent returns the last n messages in chronological order.
	Recent(ctx context.Context, n int) ([]conversation.Message, error)
}
