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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KodiakCLI/pkg/conversation"
	"github.com/AleutianAI/KodiakCLI/pkg/lifecycle"
	"github.com/AleutianAI/KodiakCLI/pkg/llm"
)

// fakeOllama serves just enough of the Ollama API for construction: a
// version endpoint for pings and a tags endpoint for model listing.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"0.5.1"}`))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"test-model","size":1}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testCatalogConfig(t *testing.T, baseURL string) Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	return Config{
		LLM:          llm.Config{Backend: "ollama", BaseURL: baseURL, Model: "test-model"},
		ProjectRoot:  root,
		Conversation: conversation.Config{InMemory: true},
	}
}

func TestRegistrations_CoverEveryType(t *testing.T) {
	regs := Registrations(Config{}, testLogger())

	require.Len(t, regs, len(lifecycle.AllComponentTypes()))
	for _, typ := range lifecycle.AllComponentTypes() {
		reg, ok := regs[typ]
		require.True(t, ok, "no registration for %s", typ)
		assert.NotNil(t, reg.Build, "%s has no builder", typ)
		assert.NotNil(t, reg.Config.Fallback, "%s has no fallback", typ)
		assert.Equal(t, lifecycle.DefaultTimeoutFor(typ), reg.Config.Timeout, typ)
		require.NotNil(t, reg.Config.Retries, typ)
		assert.Equal(t, lifecycle.DefaultRetriesFor(typ), *reg.Config.Retries, typ)
	}
}

func TestRegistrations_OnlyAIClientIsEssential(t *testing.T) {
	regs := Registrations(Config{}, testLogger())

	for typ, reg := range regs {
		if typ == lifecycle.ComponentAIClient {
			assert.True(t, reg.Config.Essential, "aiClient must be essential")
			continue
		}
		assert.False(t, reg.Config.Essential, "%s must not be essential", typ)
	}
}

func TestRegistrations_FallbackTableOverride(t *testing.T) {
	sentinel := &struct{ name string }{name: "custom"}
	cfg := Config{
		Fallbacks: lifecycle.FallbackTable{
			lifecycle.ComponentAIClient: func() any { return sentinel },
		},
	}

	regs := Registrations(cfg, testLogger())

	require.NotNil(t, regs[lifecycle.ComponentAIClient].Config.Fallback)
	assert.Same(t, sentinel, regs[lifecycle.ComponentAIClient].Config.Fallback())
	// An override table replaces the defaults wholesale.
	assert.Nil(t, regs[lifecycle.ComponentTaskPlanner].Config.Fallback)
}

func TestRegistrations_RouterResolutionPullsItsClosure(t *testing.T) {
	srv := fakeOllama(t)
	cfg := testCatalogConfig(t, srv.URL)

	core := lifecycle.NewCore(Registrations(cfg, testLogger()), lifecycle.WithCoreLogger(testLogger()))
	ctx := context.Background()
	defer func() { _ = core.Shutdown(ctx) }()

	v, err := core.Get(ctx, lifecycle.ComponentNaturalLanguageRouter)
	require.NoError(t, err)
	_, ok := v.(IntentRouter)
	require.True(t, ok, "router component has shape %T", v)

	for _, typ := range []lifecycle.ComponentType{
		lifecycle.ComponentAIClient,
		lifecycle.ComponentProjectContext,
		lifecycle.ComponentIntentAnalyzer,
		lifecycle.ComponentTaskPlanner,
		lifecycle.ComponentNaturalLanguageRouter,
	} {
		assert.True(t, core.Factory.IsReady(typ), "%s should be ready after router resolution", typ)
	}
	assert.False(t, core.Factory.IsReady(lifecycle.ComponentConversationManager),
		"conversationManager is outside the router closure")
	assert.False(t, core.Factory.IsReady(lifecycle.ComponentAdvancedContextManager),
		"advancedContextManager is outside the router closure")
}

func TestRegistrations_ContextManagerBuildsMessages(t *testing.T) {
	srv := fakeOllama(t)
	cfg := testCatalogConfig(t, srv.URL)

	core := lifecycle.NewCore(Registrations(cfg, testLogger()), lifecycle.WithCoreLogger(testLogger()))
	ctx := context.Background()

	v, err := core.Get(ctx, lifecycle.ComponentAdvancedContextManager)
	require.NoError(t, err)
	builder, ok := v.(ContextBuilder)
	require.True(t, ok, "context manager has shape %T", v)

	messages, err := builder.BuildMessages(ctx, "summarize the project")
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "user", messages[len(messages)-1].Role)

	// conversationManager was pulled as a dependency and owns a store.
	h, err := core.Get(ctx, lifecycle.ComponentConversationManager)
	require.NoError(t, err)
	manager, ok := h.(*conversation.Manager)
	require.True(t, ok, "conversation manager has shape %T", h)

	require.NoError(t, core.Shutdown(ctx))
	assert.NoError(t, manager.Close())
}

func TestRegistrations_PingFailureSubstitutesOfflineFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testCatalogConfig(t, srv.URL)
	core := lifecycle.NewCore(Registrations(cfg, testLogger()), lifecycle.WithCoreLogger(testLogger()))
	ctx := context.Background()
	defer func() { _ = core.Shutdown(ctx) }()

	noRetries := 0
	v, err := core.Factory.Get(ctx, lifecycle.ComponentAIClient, &lifecycle.ComponentConfig{
		Timeout: 2 * time.Second,
		Retries: &noRetries,
	})
	require.NoError(t, err, "a registered fallback absorbs the failure")
	_, offline := v.(*OfflineClient)
	assert.True(t, offline, "expected the offline stub, got %T", v)

	state, ok := core.Machine.State(lifecycle.ComponentAIClient)
	require.True(t, ok)
	assert.Equal(t, lifecycle.StateDegraded, state)
}
