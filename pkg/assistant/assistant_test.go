// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"context"
	"io"
	"log/slog"

	"github.com/AleutianAI/KodiakCLI/pkg/conversation"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
)

// Compile-time checks that the production types satisfy the dependency
// interfaces these components are wired with.
var (
	_ ChatModel       = (*llm.OllamaClient)(nil)
	_ ChatModel       = (*llm.OpenAIClient)(nil)
	_ ProjectIndex    = (*project.Index)(nil)
	_ HistoryProvider = (*conversation.Manager)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockChatModel implements ChatModel with a func field.
type mockChatModel struct {
	chatFunc func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error)
	calls    int
}

func (m *mockChatModel) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	m.calls++
	if m.chatFunc == nil {
		return "", nil
	}
	return m.chatFunc(ctx, messages, params)
}

// mockIndex implements ProjectIndex with fixed data.
type mockIndex struct {
	root   string
	files  []project.FileInfo
	stats  project.Stats
	module *project.ModuleInfo
}

func (m *mockIndex) Root() string                 { return m.root }
func (m *mockIndex) Files() []project.FileInfo    { return m.files }
func (m *mockIndex) Stats() project.Stats         { return m.stats }
func (m *mockIndex) Module() *project.ModuleInfo  { return m.module }

// mockHistory implements HistoryProvider with a func field.
type mockHistory struct {
	recentFunc func(ctx context.Context, n int) ([]conversation.Message, error)
}

func (m *mockHistory) Recent(ctx context.Context, n int) ([]conversation.Message, error) {
	if m.recentFunc == nil {
		return nil, nil
	}
	return m.recentFunc(ctx, n)
}
