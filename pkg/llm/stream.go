// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// StreamEventType identifies the kind of a streaming event.
type StreamEventType int

const (
	// StreamEventToken is a fragment of the assistant response.
	StreamEventToken StreamEventType = iota

	// StreamEventThinking is a fragment of the model's reasoning trace.
	StreamEventThinking

	// StreamEventDone marks the end of the stream.
	StreamEventDone

	// StreamEventError carries a server-reported stream failure.
	StreamEventError
)

// String returns a stable identifier for the event type.
func (t StreamEventType) String() string {
	switch t {
	case StreamEventToken:
		return "token"
	case StreamEventThinking:
		return "thinking"
	case StreamEventDone:
		return "done"
	case StreamEventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is a single event emitted during streaming generation.
type StreamEvent struct {
	// Type identifies the event kind.
	Type StreamEventType

	// Content is the event payload (token text, thinking text, or
	// error message).
	Content string
}

// StreamCallback receives streaming events. Returning an error aborts
// the stream.
type StreamCallback func(event StreamEvent) error

// StreamConfig tunes stream processing.
//
// Zero length limits mean unlimited.
type StreamConfig struct {
	// RedactThinking suppresses thinking events entirely.
	RedactThinking bool

	// MaxThinkingLength caps the cumulative thinking text in bytes.
	MaxThinkingLength int

	// MaxResponseLength caps the cumulative response text in bytes.
	MaxResponseLength int
}

// DefaultStreamConfig returns the standard stream configuration.
//
// The limits are generous. They exist to bound memory on runaway
// streams, not to trim normal responses.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RedactThinking:    false,
		MaxThinkingLength: 64 * 1024,
		MaxResponseLength: 1024 * 1024,
	}
}

// ollamaStreamChunk is one NDJSON line from the Ollama chat stream.
type ollamaStreamChunk struct {
	Model      string  `json:"model,omitempty"`
	CreatedAt  string  `json:"created_at,omitempty"`
	Message    Message `json:"message"`
	Thinking   string  `json:"thinking,omitempty"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`
	Error      string  `json:"error,omitempty"`

	// Populated on the final chunk.
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// StreamProcessor consumes stream chunks and dispatches events.
type StreamProcessor interface {
	// ProcessChunk handles one chunk. It returns true when the stream
	// is complete.
	ProcessChunk(ctx context.Context, chunk ollamaStreamChunk, callback StreamCallback) (bool, error)
}

// DefaultStreamProcessor applies length limits and thinking redaction
// while forwarding chunks as events.
//
// Thread Safety:
//
//	Safe for concurrent use, though chunks from a single stream must be
//	processed in order.
type DefaultStreamProcessor struct {
	config StreamConfig
	logger *slog.Logger

	mu             sync.Mutex
	tokenCount     int
	responseLength int
	thinkingLength int
	doneReason     string
	limitWarned    bool
}

// NewDefaultStreamProcessor creates a stream processor.
//
// Inputs:
//
//	config - Stream limits and redaction settings.
//	logger - Structured logger. If nil, slog.Default() is used.
func NewDefaultStreamProcessor(config StreamConfig, logger *slog.Logger) *DefaultStreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultStreamProcessor{
		config: config,
		logger: logger,
	}
}

// ProcessChunk handles one stream chunk.
//
// Server-reported errors emit a StreamEventError and end the stream.
// Callback errors abort the stream and are wrapped so callers can tell
// them apart from transport failures.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context, chunk ollamaStreamChunk, callback StreamCallback) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}

	if chunk.Error != "" {
		if callback != nil {
			if cbErr := callback(StreamEvent{Type: StreamEventError, Content: chunk.Error}); cbErr != nil {
				return true, fmt.Errorf("stream callback failed: %w", cbErr)
			}
		}
		return true, fmt.Errorf("stream error from server: %s", chunk.Error)
	}

	if chunk.Thinking != "" && !p.config.RedactThinking {
		if text := p.admitThinking(chunk.Thinking); text != "" && callback != nil {
			if err := callback(StreamEvent{Type: StreamEventThinking, Content: text}); err != nil {
				return true, fmt.Errorf("stream callback failed: %w", err)
			}
		}
	}

	if chunk.Message.Content != "" {
		if text := p.admitResponse(chunk.Message.Content); text != "" && callback != nil {
			if err := callback(StreamEvent{Type: StreamEventToken, Content: text}); err != nil {
				return true, fmt.Errorf("stream callback failed: %w", err)
			}
		}
	}

	if chunk.Done {
		p.mu.Lock()
		p.doneReason = chunk.DoneReason
		p.mu.Unlock()
		if callback != nil {
			if err := callback(StreamEvent{Type: StreamEventDone}); err != nil {
				return true, fmt.Errorf("stream callback failed: %w", err)
			}
		}
		return true, nil
	}
	return false, nil
}

// admitThinking applies the cumulative thinking limit and returns the
// admitted portion.
func (p *DefaultStreamProcessor) admitThinking(text string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.config.MaxThinkingLength > 0 {
		remaining := p.config.MaxThinkingLength - p.thinkingLength
		if remaining <= 0 {
			return ""
		}
		if len(text) > remaining {
			text = text[:remaining]
		}
	}
	p.thinkingLength += len(text)
	return text
}

// admitResponse applies the cumulative response limit, counts the
// token, and returns the admitted portion.
func (p *DefaultStreamProcessor) admitResponse(text string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.config.MaxResponseLength > 0 {
		remaining := p.config.MaxResponseLength - p.responseLength
		if remaining <= 0 {
			if !p.limitWarned {
				p.limitWarned = true
				p.logger.Warn("response length limit reached, dropping further tokens",
					"limit", p.config.MaxResponseLength)
			}
			return ""
		}
		if len(text) > remaining {
			text = text[:remaining]
		}
	}
	p.responseLength += len(text)
	p.tokenCount++
	return text
}

// GetTokenCount returns the number of response fragments emitted.
func (p *DefaultStreamProcessor) GetTokenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCount
}

// GetResponseLength returns the cumulative emitted response length in bytes.
func (p *DefaultStreamProcessor) GetResponseLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responseLength
}

// GetThinkingLength returns the cumulative emitted thinking length in bytes.
func (p *DefaultStreamProcessor) GetThinkingLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thinkingLength
}

// DoneReason returns the server's stop reason, if the stream finished.
func (p *DefaultStreamProcessor) DoneReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneReason
}
