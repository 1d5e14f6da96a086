// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/KodiakCLI/pkg/ux"
)

// =============================================================================
// Prompter Interface
// =============================================================================

// Prompter asks the user yes/no questions before destructive or
// expensive actions.
//
// # Description
//
// Prompter decouples confirmation from the terminal so commands can be
// tested without a TTY and scripted runs can pre-answer. Production
// code selects an implementation with newPrompter; tests inject
// MockPrompter.
type Prompter interface {
	// Confirm asks the question and returns the user's answer.
	// Returning an error means the answer could not be obtained, not
	// that the user declined.
	Confirm(ctx context.Context, message string) (bool, error)
}

// newPrompter selects the prompter for the current invocation:
// pre-approved when --yes style flags are set, interactive on a
// terminal, and declining everywhere else so scripts never hang on a
// question nobody will answer.
func newPrompter(assumeYes bool) Prompter {
	if assumeYes {
		return AutoAnswerPrompter{Answer: true}
	}
	if ux.IsInteractive() {
		return &InteractivePrompter{}
	}
	return AutoAnswerPrompter{Answer: false}
}

// =============================================================================
// Implementations
// =============================================================================

// InteractivePrompter asks on the terminal.
type InteractivePrompter struct{}

// Confirm renders a confirmation form and blocks for the answer.
func (p *InteractivePrompter) Confirm(ctx context.Context, message string) (bool, error) {
	confirmed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(message).
			Affirmative("Yes").
			Negative("No").
			Value(&confirmed),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return confirmed, nil
}

// AutoAnswerPrompter answers every question the same way without
// rendering anything. Answer true backs --yes flags; Answer false is
// the non-interactive default.
type AutoAnswerPrompter struct {
	Answer bool
}

func (p AutoAnswerPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	return p.Answer, nil
}

// MockPrompter is a test double with a programmable answer.
type MockPrompter struct {
	// ConfirmFunc handles Confirm calls. Nil declines everything.
	ConfirmFunc func(ctx context.Context, message string) (bool, error)

	// Asked records every message passed to Confirm.
	Asked []string
}

func (m *MockPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	m.Asked = append(m.Asked, message)
	if m.ConfirmFunc == nil {
		return false, nil
	}
	return m.ConfirmFunc(ctx, message)
}
