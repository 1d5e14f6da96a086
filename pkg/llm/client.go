// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model client used by the assistant components.
//
// The package defines a backend-neutral Client interface and two
// implementations: OllamaClient speaks the Ollama HTTP API directly for
// local models, and OpenAIClient covers OpenAI-compatible endpoints.
// Which backend a session uses is a configuration decision.
//
// Thread Safety:
//
//	All clients in this package are safe for concurrent use.
package llm

import (
	"context"
	"time"
)

// Message represents a conversation message.
type Message struct {
	// Role is "user", "assistant", "system", or "tool".
	Role string `json:"role"`

	// Content is the text content.
	Content string `json:"content"`
}

// GenerationParams tunes a single generation request.
//
// Nil fields fall back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ModelInfo describes a model available on the backend.
type ModelInfo struct {
	// Name is the model identifier (e.g., "qwen2.5-coder:7b").
	Name string

	// Size is the model file size in bytes.
	Size int64

	// ModifiedAt is when the model was last modified.
	ModifiedAt time.Time

	// Digest is the model's content hash.
	Digest string

	// Family is the model family (e.g., "qwen2", "llama").
	Family string

	// ParameterSize is the human-readable parameter count (e.g., "7B").
	ParameterSize string

	// QuantizationLevel is the quantization type (e.g., "Q4_K_M").
	QuantizationLevel string
}

// PullProgressCallback receives download progress during model pulls.
//
// Inputs:
//
//	status - Current operation (e.g., "pulling manifest", "pulling sha256:...").
//	completed - Bytes downloaded so far.
//	total - Total bytes to download (0 if unknown).
type PullProgressCallback func(status string, completed, total int64)

// Client defines the interface for LLM interactions.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Generate sends a single prompt and returns the completion.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat sends a conversation and returns the assistant reply.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream sends a conversation and streams the reply through the
	// callback. Returning an error from the callback aborts the stream.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error

	// ListModels returns the models available on the backend.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Name returns the provider name (e.g., "ollama", "openai").
	Name() string

	// Model returns the default model for this client.
	Model() string
}
