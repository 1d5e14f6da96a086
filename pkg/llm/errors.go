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

import "fmt"

// ModelErrorType categorizes model operation failures.
type ModelErrorType int

const (
	// ModelErrorNotFound indicates the requested model is not available.
	ModelErrorNotFound ModelErrorType = iota

	// ModelErrorPullFailed indicates a model download failed.
	ModelErrorPullFailed

	// ModelErrorConnectionFailed indicates the backend is unreachable.
	ModelErrorConnectionFailed

	// ModelErrorInvalidResponse indicates the backend returned malformed data.
	ModelErrorInvalidResponse

	// ModelErrorContextCancelled indicates the operation was cancelled.
	ModelErrorContextCancelled
)

// String returns a stable identifier for the error type.
func (t ModelErrorType) String() string {
	switch t {
	case ModelErrorNotFound:
		return "MODEL_NOT_FOUND"
	case ModelErrorPullFailed:
		return "MODEL_PULL_FAILED"
	case ModelErrorConnectionFailed:
		return "CONNECTION_FAILED"
	case ModelErrorInvalidResponse:
		return "INVALID_RESPONSE"
	case ModelErrorContextCancelled:
		return "CONTEXT_CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ModelError is a model operation failure with remediation guidance.
//
// The short Message is suitable for log lines; FullError produces the
// multi-line form shown to users, including the fix suggestion.
type ModelError struct {
	// Type categorizes the failure.
	Type ModelErrorType

	// Model is the model name involved, if any.
	Model string

	// Message is a short human-readable description.
	Message string

	// Detail carries underlying error text or diagnostic context.
	Detail string

	// Remediation suggests how the user can fix the problem.
	Remediation string

	// Err is the underlying cause, if any.
	Err error
}

// Error returns the short description.
func (e *ModelError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is and errors.As.
func (e *ModelError) Unwrap() error {
	return e.Err
}

// FullError returns the complete error text with details and remediation.
func (e *ModelError) FullError() string {
	msg := e.Message
	if e.Model != "" {
		msg += fmt.Sprintf(" (model: %s)", e.Model)
	}
	if e.Detail != "" {
		msg += "\n\nDetails: " + e.Detail
	}
	if e.Remediation != "" {
		msg += "\n\nTo fix:\n" + e.Remediation
	}
	return msg
}

// connectionError builds the standard unreachable-backend error.
func connectionError(baseURL string, cause error) *ModelError {
	return &ModelError{
		Type:    ModelErrorConnectionFailed,
		Message: fmt.Sprintf("cannot connect to Ollama at %s", baseURL),
		Detail:  cause.Error(),
		Remediation: "Check that Ollama is running: ollama serve\n" +
			"Or set OLLAMA_HOST if it listens on a different address.",
		Err: cause,
	}
}

// modelNotFoundError builds the standard missing-model error.
func modelNotFoundError(model string) *ModelError {
	return &ModelError{
		Type:        ModelErrorNotFound,
		Model:       model,
		Message:     fmt.Sprintf("model '%s' not found", model),
		Remediation: fmt.Sprintf("Pull the model first: ollama pull %s", model),
	}
}
