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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
)

// =============================================================================
// Context Manager
// =============================================================================

// ContextConfig tunes prompt assembly.
type ContextConfig struct {
	// TokenBudget is the approximate total budget for the assembled
	// messages. Zero selects 4096.
	TokenBudget int

	// HistoryTurns caps how many recent conversation turns are considered.
	// Zero selects 20.
	HistoryTurns int

	// MaxFiles caps how many file paths the project section lists. Zero
	// selects 15.
	MaxFiles int
}

func (c ContextConfig) applyDefaults() ContextConfig {
	if c.TokenBudget == 0 {
		c.TokenBudget = 4096
	}
	if c.HistoryTurns == 0 {
		c.HistoryTurns = 20
	}
	if c.MaxFiles == 0 {
		c.MaxFiles = 15
	}
	return c
}

// ContextManager assembles token-budgeted message lists for the model.
//
// # Description
//
// BuildMessages produces [system, history..., user]: a system message
// summarizing the project, as many recent conversation turns as the budget
// allows (newest kept first, emitted in chronological order), and the query.
// Token counts are estimated at four characters per token; the budget is a
// guideline for staying under model context windows, not an exact cap.
//
// # Thread Safety
//
// ContextManager is safe for concurrent use.
type ContextManager struct {
	index   ProjectIndex
	history HistoryProvider
	cfg     ContextConfig
	logger  *slog.Logger
}

// NewContextManager creates a context manager. Either dependency may be nil;
// the corresponding section is simply omitted.
func NewContextManager(index ProjectIndex, history HistoryProvider, cfg ContextConfig, logger *slog.Logger) *ContextManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextManager{
		index:   index,
		history: history,
		cfg:     cfg.applyDefaults(),
		logger:  logger.With(slog.String("component", "context_manager")),
	}
}

// BuildMessages assembles the prompt for one query.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - query: The user's request. Must not be blank.
//
// # Outputs
//
//   - []llm.Message: System message, budgeted history, then the query.
//   - error: Non-nil if the query is blank or history retrieval fails.
func (cm *ContextManager) BuildMessages(ctx context.Context, query string) ([]llm.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query must not be blank")
	}

	budget := cm.cfg.TokenBudget
	budget -= estimateTokens(query)

	system := cm.systemMessage(budget / 2)
	budget -= estimateTokens(system)

	turns, err := cm.budgetedHistory(ctx, budget)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(turns)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	messages = append(messages, turns...)
	messages = append(messages, llm.Message{Role: "user", Content: query})

	cm.logger.Debug("context assembled",
		slog.Int("messages", len(messages)),
		slog.Int("history_turns", len(turns)),
		slog.Int("approx_tokens", estimateMessages(messages)))

	return messages, nil
}

// systemMessage renders the project summary, trimming the file list until
// the section fits maxTokens.
func (cm *ContextManager) systemMessage(maxTokens int) string {
	var b strings.Builder
	b.WriteString("You are Kodiak, a code assistant working inside a single project.\n")

	if cm.index == nil {
		return strings.TrimRight(b.String(), "\n")
	}

	stats := cm.index.Stats()
	b.WriteString("\n## Project\n")
	if mod := cm.index.Module(); mod != nil {
		fmt.Fprintf(&b, "- Module: %s\n", mod.Path)
	}
	fmt.Fprintf(&b, "- Root: %s\n", cm.index.Root())
	fmt.Fprintf(&b, "- Files indexed: %d\n", stats.FileCount)
	for _, lang := range topLanguages(stats.Languages, 3) {
		fmt.Fprintf(&b, "- %s files: %d\n", lang, stats.Languages[lang])
	}

	header := b.String()

	for listed := cm.cfg.MaxFiles; listed >= 0; listed /= 2 {
		section := header + fileList(cm.index.Files(), listed)
		if estimateTokens(section) <= maxTokens || listed == 0 {
			return strings.TrimRight(section, "\n")
		}
	}
	return strings.TrimRight(header, "\n")
}

// budgetedHistory fetches recent turns and keeps the newest that fit.
func (cm *ContextManager) budgetedHistory(ctx context.Context, budget int) ([]llm.Message, error) {
	if cm.history == nil || budget <= 0 {
		return nil, nil
	}

	recent, err := cm.history.Recent(ctx, cm.cfg.HistoryTurns)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	// Walk newest to oldest so the most recent turns survive the budget.
	var kept []llm.Message
	for i := len(recent) - 1; i >= 0; i-- {
		cost := estimateTokens(recent[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		kept = append(kept, llm.Message{Role: recent[i].Role, Content: recent[i].Content})
	}

	// Flip back to chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, nil
}

// estimateTokens approximates the token cost of text at 4 chars per token.
func estimateTokens(text string) int {
	return len(text)/4 + 1
}

// estimateMessages sums the estimated cost of a message list.
func estimateMessages(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Content)
	}
	return total
}

// topLanguages returns up to n language names by descending file count.
func topLanguages(languages map[string]int, n int) []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if languages[names[i]] != languages[names[j]] {
			return languages[names[i]] > languages[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// fileList renders up to n file paths as a bullet list.
func fileList(files []project.FileInfo, n int) string {
	if n <= 0 || len(files) == 0 {
		return ""
	}
	if len(files) > n {
		files = files[:n]
	}

	var b strings.Builder
	b.WriteString("- Files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "  - %s\n", f.Path)
	}
	return b.String()
}
