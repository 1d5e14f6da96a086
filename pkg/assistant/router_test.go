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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAnalyzer implements IntentAnalyzer with a func field.
type mockAnalyzer struct {
	analyzeFunc func(ctx context.Context, input string) (Intent, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, input string) (Intent, error) {
	if m.analyzeFunc == nil {
		return Intent{}, nil
	}
	return m.analyzeFunc(ctx, input)
}

func fixedIntent(category Category, confidence float64) *mockAnalyzer {
	return &mockAnalyzer{
		analyzeFunc: func(ctx context.Context, input string) (Intent, error) {
			return Intent{Category: category, Confidence: confidence, Source: "rules"}, nil
		},
	}
}

func TestRouter_Route_Dispatch(t *testing.T) {
	router, err := NewRouter(fixedIntent(CategoryEdit, 0.9), RouterConfig{}, testLogger())
	require.NoError(t, err)

	var seen Intent
	router.Register(CategoryEdit, func(ctx context.Context, input string, intent Intent) (string, error) {
		seen = intent
		return "edited: " + input, nil
	})

	result, err := router.Route(context.Background(), "fix the bug")
	require.NoError(t, err)

	assert.Equal(t, "edit", result.Route)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, "edited: fix the bug", result.Reply)
	assert.Equal(t, CategoryEdit, result.Intent.Category)
	assert.Equal(t, CategoryEdit, seen.Category)
	assert.InDelta(t, 0.9, seen.Confidence, 0.001)
}

func TestRouter_Route_LowConfidenceFallsBack(t *testing.T) {
	router, err := NewRouter(fixedIntent(CategoryEdit, 0.4), RouterConfig{}, testLogger())
	require.NoError(t, err)

	router.Register(CategoryEdit, func(ctx context.Context, input string, intent Intent) (string, error) {
		t.Fatal("category handler should not run below the threshold")
		return "", nil
	})
	router.SetFallback(func(ctx context.Context, input string, intent Intent) (string, error) {
		return "fallback reply", nil
	})

	result, err := router.Route(context.Background(), "maybe change something")
	require.NoError(t, err)

	assert.Equal(t, "fallback", result.Route)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, "fallback reply", result.Reply)
}

func TestRouter_Route_UnregisteredCategoryFallsBack(t *testing.T) {
	router, err := NewRouter(fixedIntent(CategorySearch, 0.9), RouterConfig{}, testLogger())
	require.NoError(t, err)

	router.Register(CategoryEdit, func(ctx context.Context, input string, intent Intent) (string, error) {
		return "", nil
	})
	router.SetFallback(func(ctx context.Context, input string, intent Intent) (string, error) {
		return "fallback reply", nil
	})

	result, err := router.Route(context.Background(), "where is the config loaded")
	require.NoError(t, err)

	assert.True(t, result.UsedFallback)
	assert.Equal(t, "fallback", result.Route)
}

func TestRouter_Route_NoRoute(t *testing.T) {
	router, err := NewRouter(fixedIntent(CategorySearch, 0.9), RouterConfig{}, testLogger())
	require.NoError(t, err)

	result, err := router.Route(context.Background(), "where is the config loaded")
	require.Error(t, err)

	var routerErr *RouterError
	require.ErrorAs(t, err, &routerErr)
	assert.Equal(t, ErrCodeNoRoute, routerErr.Code)

	// The analyzed intent is still reported so callers can log it.
	assert.Equal(t, CategorySearch, result.Intent.Category)
}

func TestRouter_Route_AnalyzeFailed(t *testing.T) {
	boom := errors.New("model offline")
	analyzer := &mockAnalyzer{
		analyzeFunc: func(ctx context.Context, input string) (Intent, error) {
			return Intent{}, boom
		},
	}

	router, err := NewRouter(analyzer, RouterConfig{}, testLogger())
	require.NoError(t, err)

	_, err = router.Route(context.Background(), "anything")
	require.Error(t, err)

	var routerErr *RouterError
	require.ErrorAs(t, err, &routerErr)
	assert.Equal(t, ErrCodeAnalyzeFailed, routerErr.Code)
	assert.ErrorIs(t, err, boom)
}

func TestRouter_Route_HandlerFailed(t *testing.T) {
	boom := errors.New("handler exploded")

	router, err := NewRouter(fixedIntent(CategoryChat, 0.9), RouterConfig{}, testLogger())
	require.NoError(t, err)

	router.Register(CategoryChat, func(ctx context.Context, input string, intent Intent) (string, error) {
		return "", boom
	})

	result, err := router.Route(context.Background(), "hello")
	require.Error(t, err)

	var routerErr *RouterError
	require.ErrorAs(t, err, &routerErr)
	assert.Equal(t, ErrCodeHandlerFailed, routerErr.Code)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "chat", result.Route)
	assert.False(t, result.UsedFallback)
}

func TestRouter_Route_CustomThreshold(t *testing.T) {
	router, err := NewRouter(fixedIntent(CategoryEdit, 0.5), RouterConfig{ConfidenceThreshold: 0.4}, testLogger())
	require.NoError(t, err)

	router.Register(CategoryEdit, func(ctx context.Context, input string, intent Intent) (string, error) {
		return "direct", nil
	})

	result, err := router.Route(context.Background(), "change it")
	require.NoError(t, err)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, "direct", result.Reply)
}

func TestRouter_Routes(t *testing.T) {
	router, err := NewRouter(&mockAnalyzer{}, RouterConfig{}, testLogger())
	require.NoError(t, err)

	assert.Empty(t, router.Routes())

	noop := func(ctx context.Context, input string, intent Intent) (string, error) { return "", nil }
	router.Register(CategoryChat, noop)
	router.Register(CategoryExplain, noop)

	assert.Equal(t, []Category{CategoryExplain, CategoryChat}, router.Routes())
}

func TestNewRouter_RequiresAnalyzer(t *testing.T) {
	_, err := NewRouter(nil, RouterConfig{}, testLogger())
	assert.Error(t, err)
}

func TestRouterError_Error(t *testing.T) {
	withCause := &RouterError{Code: ErrCodeHandlerFailed, Message: "handler failed", Err: errors.New("boom")}
	assert.Equal(t, "HANDLER_FAILED: handler failed: boom", withCause.Error())
	assert.EqualError(t, withCause.Unwrap(), "boom")

	withoutCause := &RouterError{Code: ErrCodeNoRoute, Message: "nothing registered"}
	assert.Equal(t, "NO_ROUTE: nothing registered", withoutCause.Error())
	assert.Nil(t, withoutCause.Unwrap())
}
