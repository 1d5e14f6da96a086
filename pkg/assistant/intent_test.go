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
	"testing"

	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuleAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	analyzer, err := NewAnalyzer(nil, AnalyzerConfig{}, testLogger())
	require.NoError(t, err)
	return analyzer
}

func TestAnalyzer_Rules(t *testing.T) {
	analyzer := newRuleAnalyzer(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
		want  Category
	}{
		{"explain question", "explain how the scanner handles ignore patterns", CategoryExplain},
		{"edit request", "write a function that parses the config file", CategoryEdit},
		{"plan request", "plan the migration to the new storage layer step by step", CategoryPlan},
		{"search request", "where is parseConfig defined", CategorySearch},
		{"smalltalk", "good morning", CategoryChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := analyzer.Analyze(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, intent.Category)
			assert.Equal(t, "rules", intent.Source)
		})
	}
}

func TestAnalyzer_RuleConfidence(t *testing.T) {
	analyzer := newRuleAnalyzer(t)
	ctx := context.Background()

	t.Run("no hits is low confidence chat", func(t *testing.T) {
		intent, err := analyzer.Analyze(ctx, "good morning")
		require.NoError(t, err)
		assert.Equal(t, CategoryChat, intent.Category)
		assert.InDelta(t, 0.3, intent.Confidence, 0.001)
	})

	t.Run("more hits raise confidence", func(t *testing.T) {
		one, err := analyzer.Analyze(ctx, "update the readme")
		require.NoError(t, err)

		many, err := analyzer.Analyze(ctx, "fix the bug, update the docs, and remove the dead code")
		require.NoError(t, err)

		assert.Equal(t, CategoryEdit, one.Category)
		assert.Equal(t, CategoryEdit, many.Category)
		assert.Greater(t, many.Confidence, one.Confidence)
	})

	t.Run("confidence is capped", func(t *testing.T) {
		intent, err := analyzer.Analyze(ctx,
			"write implement add create fix change modify update rename delete remove generate")
		require.NoError(t, err)
		assert.LessOrEqual(t, intent.Confidence, 0.95)
	})
}

func TestAnalyzer_BlankInput(t *testing.T) {
	analyzer := newRuleAnalyzer(t)

	_, err := analyzer.Analyze(context.Background(), "   ")
	assert.Error(t, err)
}

func TestAnalyzer_Refinement(t *testing.T) {
	ctx := context.Background()

	t.Run("model refines low-confidence input", func(t *testing.T) {
		model := &mockChatModel{
			chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
				return `{"intent": "plan", "confidence": 0.9, "reasoning": "multi-step request"}`, nil
			},
		}
		analyzer, err := NewAnalyzer(model, AnalyzerConfig{}, testLogger())
		require.NoError(t, err)

		intent, err := analyzer.Analyze(ctx, "good morning")
		require.NoError(t, err)
		assert.Equal(t, CategoryPlan, intent.Category)
		assert.Equal(t, "model", intent.Source)
		assert.InDelta(t, 0.9, intent.Confidence, 0.001)
		assert.Equal(t, "multi-step request", intent.Reasoning)
		assert.Equal(t, 1, model.calls)
	})

	t.Run("markdown-fenced reply parses", func(t *testing.T) {
		model := &mockChatModel{
			chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
				return "```json\n{\"intent\": \"search\", \"confidence\": 0.85}\n```", nil
			},
		}
		analyzer, err := NewAnalyzer(model, AnalyzerConfig{}, testLogger())
		require.NoError(t, err)

		intent, err := analyzer.Analyze(ctx, "good morning")
		require.NoError(t, err)
		assert.Equal(t, CategorySearch, intent.Category)
	})

	t.Run("rule result kept when model is less confident", func(t *testing.T) {
		model := &mockChatModel{
			chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
				return `{"intent": "edit", "confidence": 0.1}`, nil
			},
		}
		analyzer, err := NewAnalyzer(model, AnalyzerConfig{}, testLogger())
		require.NoError(t, err)

		intent, err := analyzer.Analyze(ctx, "good morning")
		require.NoError(t, err)
		assert.Equal(t, CategoryChat, intent.Category)
		assert.Equal(t, "rules", intent.Source)
	})

	t.Run("rule result kept when model errors", func(t *testing.T) {
		model := &mockChatModel{
			chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
				return "", errors.New("backend down")
			},
		}
		analyzer, err := NewAnalyzer(model, AnalyzerConfig{}, testLogger())
		require.NoError(t, err)

		intent, err := analyzer.Analyze(ctx, "good morning")
		require.NoError(t, err)
		assert.Equal(t, CategoryChat, intent.Category)
		assert.Equal(t, "rules", intent.Source)
	})

	t.Run("rule result kept for unknown model intent", func(t *testing.T) {
		model := &mockChatModel{
			chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
				return `{"intent": "pontificate", "confidence": 0.99}`, nil
			},
		}
		analyzer, err := NewAnalyzer(model, AnalyzerConfig{}, testLogger())
		require.NoError(t, err)

		intent, err := analyzer.Analyze(ctx, "good morning")
		require.NoError(t, err)
		assert.Equal(t, CategoryChat, intent.Category)
		assert.Equal(t, "rules", intent.Source)
	})

	t.Run("confident rule result skips the model", func(t *testing.T) {
		model := &mockChatModel{
			chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
				t.Error("model should not be called for confident rule results")
				return "", nil
			},
		}
		analyzer, err := NewAnalyzer(model, AnalyzerConfig{}, testLogger())
		require.NoError(t, err)

		_, err = analyzer.Analyze(context.Background(),
			"fix the bug, update the docs, and remove the dead code")
		require.NoError(t, err)
		assert.Equal(t, 0, model.calls)
	})

	t.Run("negative threshold disables refinement", func(t *testing.T) {
		model := &mockChatModel{
			chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
				t.Error("model should not be called when refinement is disabled")
				return "", nil
			},
		}
		analyzer, err := NewAnalyzer(model, AnalyzerConfig{RefineBelow: -1}, testLogger())
		require.NoError(t, err)

		intent, err := analyzer.Analyze(ctx, "good morning")
		require.NoError(t, err)
		assert.Equal(t, "rules", intent.Source)
		assert.Equal(t, 0, model.calls)
	})
}

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}

	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			reply: `{"intent": "edit", "confidence": 0.8}`,
			want:  "edit",
		},
		{
			name:  "fenced object",
			reply: "```json\n{\"intent\": \"search\", \"confidence\": 0.9}\n```",
			want:  "search",
		},
		{
			name:  "fence without language tag",
			reply: "```\n{\"intent\": \"plan\", \"confidence\": 0.7}\n```",
			want:  "plan",
		},
		{
			name:  "surrounded by prose",
			reply: `Based on the input: {"intent": "chat", "confidence": 0.6} hope that helps.`,
			want:  "chat",
		},
		{
			name:    "no object at all",
			reply:   "this is not valid JSON at all",
			wantErr: true,
		},
		{
			name:    "malformed object",
			reply:   `{"intent": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got payload
			err := extractJSON(tt.reply, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Intent)
		})
	}
}

func TestCategories_Closed(t *testing.T) {
	cats := Categories()
	assert.Len(t, cats, 5)

	_, ok := knownCategory("edit")
	assert.True(t, ok)

	_, ok = knownCategory("pontificate")
	assert.False(t, ok)
}
