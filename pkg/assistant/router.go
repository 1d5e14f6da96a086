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
	"fmt"
	"log/slog"
	"sync"
)

// =============================================================================
// Router Errors
// =============================================================================

// Router error codes.
const (
	// ErrCodeAnalyzeFailed indicates intent analysis itself failed.
	ErrCodeAnalyzeFailed = "ANALYZE_FAILED"

	// ErrCodeNoRoute indicates no handler matched and no fallback is set.
	ErrCodeNoRoute = "NO_ROUTE"

	// ErrCodeHandlerFailed indicates the dispatched handler returned an error.
	ErrCodeHandlerFailed = "HANDLER_FAILED"
)

// RouterError is a routing failure with a machine-readable code.
type RouterError struct {
	// Code is one of the ErrCode constants.
	Code string

	// Message describes the failure.
	Message string

	// Err is the underlying cause, when any.
	Err error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Router
// =============================================================================

// Handler processes one routed input and returns the reply text.
type Handler func(ctx context.Context, input string, intent Intent) (string, error)

// RouteResult reports how an input was dispatched.
type RouteResult struct {
	// Intent is the analyzed intent the dispatch was based on.
	Intent Intent

	// Route is the category whose handler ran, or "fallback".
	Route string

	// Reply is the handler's output.
	Reply string

	// UsedFallback is true when the fallback route handled the input,
	// either because confidence was below the threshold or because no
	// handler was registered for the category.
	UsedFallback bool
}

// IntentAnalyzer is the analysis dependency of the router.
// *Analyzer satisfies it.
type IntentAnalyzer interface {
	Analyze(ctx context.Context, input string) (Intent, error)
}

// RouterConfig tunes dispatch.
type RouterConfig struct {
	// ConfidenceThreshold is the minimum intent confidence for category
	// dispatch; anything below goes to the fallback route. Zero selects
	// 0.7.
	ConfidenceThreshold float64
}

func (c RouterConfig) applyDefaults() RouterConfig {
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.7
	}
	return c
}

// Router dispatches user input to intent-specific handlers.
//
// # Description
//
// Route analyzes the input, then dispatches to the handler registered for
// the intent category when the confidence clears the threshold. Inputs
// below the threshold, and categories without a registered handler, go to
// the fallback route. Routing without a usable fallback is a NO_ROUTE
// error.
//
// # Thread Safety
//
// Router is safe for concurrent use. Register and SetFallback may be called
// while Route is in flight.
type Router struct {
	analyzer IntentAnalyzer
	cfg      RouterConfig
	logger   *slog.Logger

	mu       sync.RWMutex
	routes   map[Category]Handler
	fallback Handler
}

// NewRouter creates a router over an analyzer with no routes registered.
func NewRouter(analyzer IntentAnalyzer, cfg RouterConfig, logger *slog.Logger) (*Router, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		analyzer: analyzer,
		cfg:      cfg.applyDefaults(),
		logger:   logger.With(slog.String("component", "nl_router")),
		routes:   make(map[Category]Handler),
	}, nil
}

// Register installs the handler for a category, replacing any previous one.
func (r *Router) Register(category Category, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[category] = handler
}

// SetFallback installs the handler for unmatched and low-confidence input.
func (r *Router) SetFallback(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = handler
}

// Routes returns the categories with a registered handler.
func (r *Router) Routes() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make([]Category, 0, len(r.routes))
	for _, c := range Categories() {
		if _, ok := r.routes[c]; ok {
			categories = append(categories, c)
		}
	}
	return categories
}

// Route analyzes and dispatches one input.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - input: The user's request. Must not be blank.
//
// # Outputs
//
//   - RouteResult: Dispatch outcome including the analyzed intent.
//   - error: *RouterError with code ANALYZE_FAILED, NO_ROUTE, or
//     HANDLER_FAILED.
func (r *Router) Route(ctx context.Context, input string) (RouteResult, error) {
	intent, err := r.analyzer.Analyze(ctx, input)
	if err != nil {
		return RouteResult{}, &RouterError{
			Code:    ErrCodeAnalyzeFailed,
			Message: "intent analysis failed",
			Err:     err,
		}
	}

	handler, route, usedFallback := r.selectHandler(intent)
	if handler == nil {
		return RouteResult{Intent: intent}, &RouterError{
			Code:    ErrCodeNoRoute,
			Message: fmt.Sprintf("no handler for category %q and no fallback registered", intent.Category),
		}
	}

	r.logger.Debug("routing input",
		slog.String("category", string(intent.Category)),
		slog.Float64("confidence", intent.Confidence),
		slog.String("route", route),
		slog.Bool("fallback", usedFallback))

	reply, err := handler(ctx, input, intent)
	if err != nil {
		return RouteResult{Intent: intent, Route: route, UsedFallback: usedFallback}, &RouterError{
			Code:    ErrCodeHandlerFailed,
			Message: fmt.Sprintf("handler for route %q failed", route),
			Err:     err,
		}
	}

	return RouteResult{
		Intent:       intent,
		Route:        route,
		Reply:        reply,
		UsedFallback: usedFallback,
	}, nil
}

// selectHandler picks the handler for an intent under the threshold rules.
func (r *Router) selectHandler(intent Intent) (Handler, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if intent.Confidence >= r.cfg.ConfidenceThreshold {
		if handler, ok := r.routes[intent.Category]; ok {
			return handler, string(intent.Category), false
		}
	}
	if r.fallback != nil {
		return r.fallback, "fallback", true
	}
	return nil, "", false
}
