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
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KodiakCLI/pkg/assistant"
	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultFallbacks_CoverEveryType(t *testing.T) {
	table := DefaultFallbacks()

	for _, typ := range lifecycle.AllComponentTypes() {
		factory, ok := table[typ]
		require.True(t, ok, "no fallback for %s", typ)
		require.NotNil(t, factory, "nil fallback factory for %s", typ)
		assert.NotNil(t, factory(), "fallback for %s produced nil", typ)
	}
	assert.Len(t, table, len(lifecycle.AllComponentTypes()))
}

func TestOfflineClient_EveryOperationCarriesRemediation(t *testing.T) {
	client := &OfflineClient{Reason: "daemon not running"}
	ctx := context.Background()

	_, chatErr := client.Chat(ctx, []llm.Message{{Role: "user", Content: "hi"}}, llm.GenerationParams{})
	_, genErr := client.Generate(ctx, "hi", llm.GenerationParams{})
	_, listErr := client.ListModels(ctx)
	pingErr := client.Ping(ctx)
	streamErr := client.ChatStream(ctx, nil, llm.GenerationParams{}, func(event llm.StreamEvent) error { return nil })

	for name, err := range map[string]error{
		"chat":     chatErr,
		"generate": genErr,
		"list":     listErr,
		"ping":     pingErr,
		"stream":   streamErr,
	} {
		require.Error(t, err, name)
		var me *llm.ModelError
		require.True(t, errors.As(err, &me), "%s error is %T, want *llm.ModelError", name, err)
		assert.Equal(t, llm.ModelErrorConnectionFailed, me.Type, name)
		assert.NotEmpty(t, me.Remediation, "%s error has no remediation", name)
		assert.Contains(t, me.Detail, "daemon not running", name)
	}

	assert.Equal(t, "offline", client.Name())
	assert.Empty(t, client.Model())
}

func TestEmptyIndex_IsEmptyButUsable(t *testing.T) {
	index := EmptyIndex{}

	assert.Empty(t, index.Root())
	assert.Empty(t, index.Files())
	assert.Zero(t, index.Stats().FileCount)
	assert.Nil(t, index.Module())
}

func TestNullHistory_AcceptsAndForgets(t *testing.T) {
	history := NullHistory{}
	ctx := context.Background()

	msg, err := history.Append(ctx, "user", "remember this")
	require.NoError(t, err)
	assert.Empty(t, msg.ID, "null history must not pretend to persist")
	assert.Equal(t, "user", msg.Role)

	recent, err := history.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	all, err := history.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStaticAnalyzer_AlwaysLowConfidenceChat(t *testing.T) {
	analyzer := StaticAnalyzer{}

	intent, err := analyzer.Analyze(context.Background(), "refactor the parser")
	require.NoError(t, err)
	assert.Equal(t, assistant.CategoryChat, intent.Category)
	assert.InDelta(t, 0.3, intent.Confidence, 0.001)

	_, err = analyzer.Analyze(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSingleStepPlanner_RestatesGoal(t *testing.T) {
	planner := SingleStepPlanner{}

	plan, err := planner.Plan(context.Background(), "add retry to the fetcher")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, 1, plan.Steps[0].Order)
	assert.Equal(t, "add retry to the fetcher", plan.Steps[0].Description)
	assert.Equal(t, "fallback", plan.Source)

	_, err = planner.Plan(context.Background(), "")
	assert.Error(t, err)
}

func TestBareContext_SystemPlusQueryOnly(t *testing.T) {
	builder := BareContext{}

	messages, err := builder.BuildMessages(context.Background(), "what does main do?")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "what does main do?", messages[1].Content)

	_, err = builder.BuildMessages(context.Background(), " ")
	assert.Error(t, err)
}

func TestEchoRouter_AlwaysFallbackRoute(t *testing.T) {
	router := EchoRouter{}

	result, err := router.Route(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Route)
	assert.True(t, result.UsedFallback)
	assert.Contains(t, result.Reply, "do the thing")
}
