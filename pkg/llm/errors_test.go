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
	"errors"
	"strings"
	"testing"
)

func TestModelErrorType_String(t *testing.T) {
	tests := []struct {
		errType ModelErrorType
		want    string
	}{
		{ModelErrorNotFound, "MODEL_NOT_FOUND"},
		{ModelErrorPullFailed, "MODEL_PULL_FAILED"},
		{ModelErrorConnectionFailed, "CONNECTION_FAILED"},
		{ModelErrorInvalidResponse, "INVALID_RESPONSE"},
		{ModelErrorContextCancelled, "CONTEXT_CANCELLED"},
		{ModelErrorType(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.errType.String(); got != tt.want {
			t.Errorf("ModelErrorType(%d).String() = %q, want %q", tt.errType, got, tt.want)
		}
	}
}

func TestModelError_Error(t *testing.T) {
	err := &ModelError{
		Type:    ModelErrorNotFound,
		Model:   "qwen2.5-coder",
		Message: "model 'qwen2.5-coder' not found",
	}

	if got := err.Error(); got != "model 'qwen2.5-coder' not found" {
		t.Errorf("Error() = %q, want the short message", got)
	}
}

func TestModelError_FullError(t *testing.T) {
	err := &ModelError{
		Type:        ModelErrorConnectionFailed,
		Model:       "qwen2.5-coder",
		Message:     "cannot connect to Ollama at http://localhost:11434",
		Detail:      "dial tcp: connection refused",
		Remediation: "Check that Ollama is running: ollama serve",
	}

	full := err.FullError()
	for _, want := range []string{
		"cannot connect to Ollama",
		"(model: qwen2.5-coder)",
		"Details: dial tcp: connection refused",
		"To fix:\nCheck that Ollama is running",
	} {
		if !strings.Contains(full, want) {
			t.Errorf("FullError() = %q, want it to contain %q", full, want)
		}
	}
}

func TestModelError_FullError_Minimal(t *testing.T) {
	err := &ModelError{Type: ModelErrorInvalidResponse, Message: "bad response"}

	if got := err.FullError(); got != "bad response" {
		t.Errorf("FullError() = %q, want %q with no optional sections", got, "bad response")
	}
}

func TestModelError_Unwrap(t *testing.T) {
	err := &ModelError{
		Type:    ModelErrorContextCancelled,
		Message: "request cancelled",
		Err:     context.DeadlineExceeded,
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is(err, context.DeadlineExceeded) = false, want true")
	}
}
