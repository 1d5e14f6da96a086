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
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config selects and tunes an LLM backend.
type Config struct {
	// Backend is "ollama" (default) or "openai".
	Backend string

	// BaseURL overrides the backend endpoint.
	BaseURL string

	// Model is the default model name.
	Model string

	// APIKey authenticates against OpenAI-compatible endpoints.
	// Ignored by the Ollama backend.
	APIKey string

	// KeepAlive controls how long Ollama keeps the model loaded
	// (e.g., "5m"). Ignored by the OpenAI backend.
	KeepAlive string

	// Timeout bounds a single request, including streaming reads.
	Timeout time.Duration

	// RequestsPerSecond limits the outbound request rate.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size.
	Burst int
}

// New creates the client for the configured backend.
//
// Outputs:
//
//	Client - An OllamaClient or OpenAIClient.
//	error - If the backend name is not recognized or construction fails.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "ollama":
		return NewOllamaClient(cfg, logger), nil
	case "openai":
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm backend %q (supported: ollama, openai)", cfg.Backend)
	}
}
