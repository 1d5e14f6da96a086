// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides user experience components for the Kodiak CLI.
//
// This file contains stream renderers that display model output on
// various destinations (terminal, machine format, buffer).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not read sockets or decode wire
//	formats. Each method handles exactly one event type.
//
// Renderer Types:
//
//   - TerminalStreamRenderer: Interactive terminal with spinner and colors
//   - MachineStreamRenderer: Machine-readable KEY: value format
//   - BufferStreamRenderer: In-memory buffer for testing
package ux

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stream Renderer Interface
// =============================================================================

// StreamRenderer renders streaming model events to a destination.
//
// Lifecycle:
//
//  1. Create with New*StreamRenderer()
//  2. Call On* methods as events arrive
//  3. Call Finalize() when the stream ends, even on error
//  4. Call Result() for the aggregated outcome
//
// Implementations are safe for concurrent calls.
type StreamRenderer interface {
	// OnStatus renders a pre-token progress update such as
	// "warming up model".
	OnStatus(ctx context.Context, message string)

	// OnToken renders one response chunk. Tokens must arrive in order.
	OnToken(ctx context.Context, token string)

	// OnThinking renders model reasoning output. Shown muted in full
	// personality, hidden otherwise, always accumulated in the result.
	OnThinking(ctx context.Context, content string)

	// OnDone marks normal completion and records the session ID.
	OnDone(ctx context.Context, sessionID string)

	// OnError marks abnormal completion. Only Finalize should follow.
	OnError(ctx context.Context, err error)

	// Finalize stops the spinner and flushes buffered output. Safe to
	// call more than once.
	Finalize()

	// Result returns the accumulated stream outcome.
	Result() *StreamResult
}

// =============================================================================
// Terminal Stream Renderer
// =============================================================================

// terminalStreamRenderer renders events on an interactive terminal:
// spinner during status updates, real-time token printing, muted
// thinking output, and a latency footer in full personality.
type terminalStreamRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	result      *StreamResult
	mu          sync.Mutex

	answerBuilder   strings.Builder
	thinkingBuilder strings.Builder
	hasWrittenToken bool
	inThinking      bool
	finalized       bool
}

// NewTerminalStreamRenderer creates a renderer for interactive use.
// A nil writer defaults to os.Stdout. Machine personality delegates to
// the machine renderer so scripted callers get stable output.
func NewTerminalStreamRenderer(w io.Writer, personality PersonalityLevel) StreamRenderer {
	if w == nil {
		w = os.Stdout
	}
	if personality == PersonalityMachine {
		return NewMachineStreamRenderer(w)
	}
	return &terminalStreamRenderer{
		writer:      w,
		personality: personality,
		result:      newStreamResult(),
	}
}

func (r *terminalStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++

	if r.hasWrittenToken {
		// Tokens already flowing, do not disturb the output line
		return
	}
	if r.spinner == nil {
		r.spinner = NewSpinner(message).WithWriter(r.writer)
		r.spinner.Start()
	} else {
		r.spinner.UpdateMessage(message)
	}
}

func (r *terminalStreamRenderer) OnToken(ctx context.Context, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.TotalTokens++
	if r.result.FirstTokenAt == 0 {
		r.result.FirstTokenAt = time.Now().UnixMilli()
	}
	r.stopSpinnerLocked()

	if r.inThinking {
		// Close the thinking section before the answer begins
		fmt.Fprintln(r.writer)
		r.inThinking = false
	}

	r.answerBuilder.WriteString(token)
	r.hasWrittenToken = true
	fmt.Fprint(r.writer, token)
}

func (r *terminalStreamRenderer) OnThinking(ctx context.Context, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.ThinkingTokens++
	r.thinkingBuilder.WriteString(content)

	if r.personality != PersonalityFull {
		return
	}
	r.stopSpinnerLocked()
	if !r.inThinking {
		fmt.Fprintln(r.writer, Styles.Muted.Render("· thinking"))
		r.inThinking = true
	}
	fmt.Fprint(r.writer, Styles.Thinking.Render(content))
}

func (r *terminalStreamRenderer) OnDone(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.SessionID = sessionID
	r.result.CompletedAt = time.Now().UnixMilli()
	r.stopSpinnerLocked()

	if r.hasWrittenToken && !strings.HasSuffix(r.answerBuilder.String(), "\n") {
		fmt.Fprintln(r.writer)
	}

	if r.personality == PersonalityFull && r.hasWrittenToken {
		footer := fmt.Sprintf("%d tokens in %s", r.result.TotalTokens, r.result.Duration().Round(time.Millisecond))
		fmt.Fprintln(r.writer, Styles.Muted.Render(footer))
	}
}

func (r *terminalStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	r.stopSpinnerLocked()

	if r.hasWrittenToken {
		fmt.Fprintln(r.writer)
	}
	fmt.Fprintf(r.writer, "%s %s\n", IconError.Render(), Styles.Error.Render(err.Error()))
}

func (r *terminalStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.finalized = true
	r.stopSpinnerLocked()
	r.syncResultLocked()
}

func (r *terminalStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncResultLocked()
	out := *r.result
	return &out
}

func (r *terminalStreamRenderer) stopSpinnerLocked() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

func (r *terminalStreamRenderer) syncResultLocked() {
	r.result.Answer = r.answerBuilder.String()
	r.result.Thinking = r.thinkingBuilder.String()
}

// =============================================================================
// Machine Stream Renderer
// =============================================================================

// machineStreamRenderer emits KEY: value lines for scripting. Tokens
// are buffered and printed as a single ANSWER line at the end.
type machineStreamRenderer struct {
	writer io.Writer
	result *StreamResult
	mu     sync.Mutex

	answerBuilder   strings.Builder
	thinkingBuilder strings.Builder
	finalized       bool
	flushed         bool
}

// NewMachineStreamRenderer creates a renderer with stable, parseable
// output. A nil writer defaults to os.Stdout.
func NewMachineStreamRenderer(w io.Writer) StreamRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &machineStreamRenderer{
		writer: w,
		result: newStreamResult(),
	}
}

func (r *machineStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	fmt.Fprintf(r.writer, "STATUS: %s\n", message)
}

func (r *machineStreamRenderer) OnToken(ctx context.Context, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.TotalTokens++
	if r.result.FirstTokenAt == 0 {
		r.result.FirstTokenAt = time.Now().UnixMilli()
	}
	r.answerBuilder.WriteString(token)
}

func (r *machineStreamRenderer) OnThinking(ctx context.Context, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.ThinkingTokens++
	r.thinkingBuilder.WriteString(content)
}

func (r *machineStreamRenderer) OnDone(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.SessionID = sessionID
	r.result.CompletedAt = time.Now().UnixMilli()
	r.flushLocked()
}

func (r *machineStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	fmt.Fprintf(r.writer, "ERROR: %s\n", err.Error())
}

func (r *machineStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.finalized = true
	r.flushLocked()
	r.syncResultLocked()
}

func (r *machineStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncResultLocked()
	out := *r.result
	return &out
}

func (r *machineStreamRenderer) flushLocked() {
	if r.flushed {
		return
	}
	r.flushed = true
	if r.answerBuilder.Len() > 0 {
		fmt.Fprintf(r.writer, "ANSWER: %s\n", r.answerBuilder.String())
	}
	if r.result.SessionID != "" {
		fmt.Fprintf(r.writer, "SESSION: %s\n", r.result.SessionID)
	}
	// DONE marks normal completion only, not aborted or failed streams
	if r.result.CompletedAt != 0 && r.result.Error == "" {
		fmt.Fprintln(r.writer, "DONE")
	}
}

func (r *machineStreamRenderer) syncResultLocked() {
	r.result.Answer = r.answerBuilder.String()
	r.result.Thinking = r.thinkingBuilder.String()
}

// =============================================================================
// Buffer Stream Renderer
// =============================================================================

// bufferStreamRenderer records events without writing anywhere.
// Intended for tests and for callers that only want the result.
type bufferStreamRenderer struct {
	result *StreamResult
	events []StreamEvent
	mu     sync.Mutex

	answerBuilder   strings.Builder
	thinkingBuilder strings.Builder
	finalized       bool
}

// NewBufferStreamRenderer creates a silent, recording renderer.
func NewBufferStreamRenderer() *bufferStreamRenderer {
	return &bufferStreamRenderer{
		result: newStreamResult(),
	}
}

func (r *bufferStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.record(StreamEvent{Type: StreamEventStatus, Message: message})
}

func (r *bufferStreamRenderer) OnToken(ctx context.Context, token string) {
	r.mu.Lock()
	if !r.finalized {
		r.answerBuilder.WriteString(token)
		r.result.TotalTokens++
		if r.result.FirstTokenAt == 0 {
			r.result.FirstTokenAt = time.Now().UnixMilli()
		}
	}
	r.mu.Unlock()
	r.record(StreamEvent{Type: StreamEventToken, Content: token})
}

func (r *bufferStreamRenderer) OnThinking(ctx context.Context, content string) {
	r.mu.Lock()
	if !r.finalized {
		r.thinkingBuilder.WriteString(content)
		r.result.ThinkingTokens++
	}
	r.mu.Unlock()
	r.record(StreamEvent{Type: StreamEventThinking, Content: content})
}

func (r *bufferStreamRenderer) OnDone(ctx context.Context, sessionID string) {
	r.mu.Lock()
	if !r.finalized {
		r.result.SessionID = sessionID
		r.result.CompletedAt = time.Now().UnixMilli()
	}
	r.mu.Unlock()
	r.record(StreamEvent{Type: StreamEventDone, SessionID: sessionID})
}

func (r *bufferStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	if !r.finalized {
		r.result.Error = err.Error()
		r.result.CompletedAt = time.Now().UnixMilli()
	}
	r.mu.Unlock()
	r.record(StreamEvent{Type: StreamEventError, Error: err.Error()})
}

func (r *bufferStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = true
	r.result.Answer = r.answerBuilder.String()
	r.result.Thinking = r.thinkingBuilder.String()
}

func (r *bufferStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Answer = r.answerBuilder.String()
	r.result.Thinking = r.thinkingBuilder.String()
	out := *r.result
	return &out
}

// Events returns the recorded events in arrival order.
func (r *bufferStreamRenderer) Events() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StreamEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *bufferStreamRenderer) record(ev StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	ev.Index = len(r.events)
	r.events = append(r.events, ev)
	r.result.TotalEvents++
}

// =============================================================================
// Shared Helpers
// =============================================================================

func newStreamResult() *StreamResult {
	return &StreamResult{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
}

// Compile-time interface checks
var (
	_ StreamRenderer = (*terminalStreamRenderer)(nil)
	_ StreamRenderer = (*machineStreamRenderer)(nil)
	_ StreamRenderer = (*bufferStreamRenderer)(nil)
)
