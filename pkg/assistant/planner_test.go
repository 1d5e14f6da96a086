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
	"strings"
	"testing"

	"github.com/AleutianAI/KodiakCLI/pkg/llm"
	"github.com/AleutianAI/KodiakCLI/pkg/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannerIndex() *mockIndex {
	return &mockIndex{
		root: "/work/project",
		files: []project.FileInfo{
			{Path: "pkg/project/scanner.go", Language: "Go"},
			{Path: "pkg/llm/ollama.go", Language: "Go"},
			{Path: "README.md", Language: "Markdown"},
		},
		stats:  project.Stats{FileCount: 3},
		module: &project.ModuleInfo{Path: "example.com/demo"},
	}
}

func TestPlanner_Plan_ParsesNumberedList(t *testing.T) {
	model := &mockChatModel{
		chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
			return "1. Extend the options struct in scanner.go\n2. Update the scan loop\n3) Add tests", nil
		},
	}

	planner, err := NewPlanner(model, plannerIndex(), PlannerConfig{}, testLogger())
	require.NoError(t, err)

	plan, err := planner.Plan(context.Background(), "update the scanner options")
	require.NoError(t, err)

	assert.Equal(t, "model", plan.Source)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, 1, plan.Steps[0].Order)
	assert.Equal(t, "Extend the options struct in scanner.go", plan.Steps[0].Description)
	assert.Equal(t, []string{"pkg/project/scanner.go"}, plan.Steps[0].Files)
	assert.Empty(t, plan.Steps[1].Files)
	assert.Equal(t, 3, plan.Steps[2].Order)
	assert.False(t, plan.CreatedAt.IsZero())
}

func TestPlanner_Plan_FallbackOnUnparseableReply(t *testing.T) {
	model := &mockChatModel{
		chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
			return "\nJust rename the field and move on.\n", nil
		},
	}

	planner, err := NewPlanner(model, plannerIndex(), PlannerConfig{}, testLogger())
	require.NoError(t, err)

	plan, err := planner.Plan(context.Background(), "rename the field")
	require.NoError(t, err)

	assert.Equal(t, "fallback", plan.Source)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "Just rename the field and move on.", plan.Steps[0].Description)
}

func TestPlanner_Plan_MaxStepsCap(t *testing.T) {
	model := &mockChatModel{
		chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
			return "1. a\n2. b\n3. c\n4. d\n5. e", nil
		},
	}

	planner, err := NewPlanner(model, nil, PlannerConfig{MaxSteps: 2}, testLogger())
	require.NoError(t, err)

	plan, err := planner.Plan(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2)
}

func TestPlanner_Plan_PromptIncludesProject(t *testing.T) {
	var captured []llm.Message
	model := &mockChatModel{
		chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
			captured = messages
			return "1. Done", nil
		},
	}

	planner, err := NewPlanner(model, plannerIndex(), PlannerConfig{}, testLogger())
	require.NoError(t, err)

	_, err = planner.Plan(context.Background(), "update the scanner options")
	require.NoError(t, err)

	require.Len(t, captured, 2)
	system := captured[0].Content
	assert.Contains(t, system, "example.com/demo")
	assert.Contains(t, system, "pkg/project/scanner.go")
	assert.True(t, strings.HasPrefix(captured[1].Content, "Task: "))
}

func TestPlan_Render(t *testing.T) {
	plan := &Plan{
		Goal: "update the scanner",
		Steps: []PlanStep{
			{Order: 1, Description: "Extend the options", Files: []string{"pkg/project/scanner.go"}},
			{Order: 2, Description: "Add tests"},
		},
	}

	rendered := plan.Render()
	assert.Equal(t, "1. Extend the options [pkg/project/scanner.go]\n2. Add tests", rendered)
}

func TestPlanner_Plan_Validation(t *testing.T) {
	model := &mockChatModel{}

	planner, err := NewPlanner(model, nil, PlannerConfig{}, testLogger())
	require.NoError(t, err)

	_, err = planner.Plan(context.Background(), "  ")
	assert.Error(t, err)
}

func TestPlanner_Plan_ModelError(t *testing.T) {
	boom := errors.New("backend down")
	model := &mockChatModel{
		chatFunc: func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
			return "", boom
		},
	}

	planner, err := NewPlanner(model, nil, PlannerConfig{}, testLogger())
	require.NoError(t, err)

	_, err = planner.Plan(context.Background(), "do the thing")
	assert.ErrorIs(t, err, boom)
}

func TestNewPlanner_RequiresModel(t *testing.T) {
	_, err := NewPlanner(nil, nil, PlannerConfig{}, testLogger())
	assert.Error(t, err)
}

func TestPlanner_RelevantFiles(t *testing.T) {
	planner, err := NewPlanner(&mockChatModel{}, plannerIndex(), PlannerConfig{}, testLogger())
	require.NoError(t, err)

	t.Run("term overlap selects files", func(t *testing.T) {
		relevant := planner.relevantFiles("update the scanner options")
		assert.Equal(t, []string{"pkg/project/scanner.go"}, relevant)
	})

	t.Run("no overlap selects nothing", func(t *testing.T) {
		relevant := planner.relevantFiles("completely unrelated request")
		assert.Empty(t, relevant)
	})

	t.Run("cap applies", func(t *testing.T) {
		planner, err := NewPlanner(&mockChatModel{}, &mockIndex{
			files: []project.FileInfo{
				{Path: "scanner/a.go"},
				{Path: "scanner/b.go"},
				{Path: "scanner/c.go"},
			},
		}, PlannerConfig{MaxFiles: 2}, testLogger())
		require.NoError(t, err)

		relevant := planner.relevantFiles("improve the scanner")
		assert.Len(t, relevant, 2)
	})
}
