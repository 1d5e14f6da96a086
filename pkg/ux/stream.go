// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Kodiak CLI.
//
// This file defines the streaming event model shared by renderers.
// Events originate from the model client and flow through a renderer
// that owns all presentation concerns.
package ux

import "time"

// StreamEventType represents the type of streaming event
type StreamEventType string

const (
	// StreamEventStatus is a progress update before tokens arrive
	StreamEventStatus StreamEventType = "status"

	// StreamEventToken is a chunk of the assistant response
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking is a chunk of model reasoning output
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventDone signals normal completion
	StreamEventDone StreamEventType = "done"

	// StreamEventError signals abnormal completion
	StreamEventError StreamEventType = "error"
)

// StreamEvent represents a single event in a streamed model response
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Content   string          `json:"content,omitempty"`
	Message   string          `json:"message,omitempty"`
	Model     string          `json:"model,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Error     string          `json:"error,omitempty"`

	// Index is the zero-based position of the event in its stream
	Index int `json:"-"`
}

// IsTerminal reports whether no further events follow this one
func (e StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventDone || e.Type == StreamEventError
}

// StreamCallback is invoked once per parsed event. Returning an error
// stops the stream.
type StreamCallback func(event StreamEvent) error

// StreamResult aggregates a completed (or aborted) stream
type StreamResult struct {
	ID        string `json:"id"`
	Answer    string `json:"answer"`
	Thinking  string `json:"thinking,omitempty"`
	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`

	TotalEvents    int `json:"total_events"`
	TotalTokens    int `json:"total_tokens"`
	ThinkingTokens int `json:"thinking_tokens"`

	// Millisecond timestamps for latency accounting
	CreatedAt    int64 `json:"created_at"`
	FirstTokenAt int64 `json:"first_token_at,omitempty"`
	CompletedAt  int64 `json:"completed_at,omitempty"`
}

// Duration returns total stream time, or zero when incomplete
func (r *StreamResult) Duration() time.Duration {
	if r.CompletedAt == 0 || r.CreatedAt == 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.CreatedAt) * time.Millisecond
}

// TimeToFirstToken returns latency until the first token, or zero when
// no token arrived
func (r *StreamResult) TimeToFirstToken() time.Duration {
	if r.FirstTokenAt == 0 || r.CreatedAt == 0 {
		return 0
	}
	return time.Duration(r.FirstTokenAt-r.CreatedAt) * time.Millisecond
}
