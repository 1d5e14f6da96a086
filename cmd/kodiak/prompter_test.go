// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"testing"
)

// -----------------------------------------------------------------------------
// newPrompter Selection
// -----------------------------------------------------------------------------

func TestNewPrompter_AssumeYes(t *testing.T) {
	p := newPrompter(true)
	auto, ok := p.(AutoAnswerPrompter)
	if !ok {
		t.Fatalf("newPrompter(true) = %T, want AutoAnswerPrompter", p)
	}
	if !auto.Answer {
		t.Error("newPrompter(true) does not pre-approve")
	}
}

func TestNewPrompter_NonInteractiveDeclines(t *testing.T) {
	// Test processes have no TTY, so the non-interactive branch is what
	// newPrompter(false) selects here: scripts must never hang on a
	// question and must never get silent approval either.
	p := newPrompter(false)
	if _, interactive := p.(*InteractivePrompter); interactive {
		t.Skip("stdout is a terminal; interactive selection is correct here")
	}
	auto, ok := p.(AutoAnswerPrompter)
	if !ok {
		t.Fatalf("newPrompter(false) = %T, want AutoAnswerPrompter", p)
	}
	got, err := auto.Confirm(context.Background(), "Proceed?")
	if err != nil {
		t.Fatalf("Confirm() unexpected error: %v", err)
	}
	if got {
		t.Error("non-interactive default approved; want declined")
	}
}

// -----------------------------------------------------------------------------
// AutoAnswerPrompter
// -----------------------------------------------------------------------------

func TestAutoAnswerPrompter_Confirm(t *testing.T) {
	tests := []struct {
		name   string
		answer bool
	}{
		{"pre-approved", true},
		{"pre-declined", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := AutoAnswerPrompter{Answer: tt.answer}
			got, err := p.Confirm(context.Background(), "Download it?")
			if err != nil {
				t.Fatalf("Confirm() unexpected error: %v", err)
			}
			if got != tt.answer {
				t.Errorf("Confirm() = %v, want %v", got, tt.answer)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// MockPrompter
// -----------------------------------------------------------------------------

func TestMockPrompter_RecordsQuestions(t *testing.T) {
	mock := &MockPrompter{
		ConfirmFunc: func(ctx context.Context, message string) (bool, error) {
			return true, nil
		},
	}

	got, err := mock.Confirm(context.Background(), "Download qwen2.5-coder:7b?")
	if err != nil {
		t.Fatalf("Confirm() unexpected error: %v", err)
	}
	if !got {
		t.Error("Confirm() = false, want the scripted true")
	}
	if len(mock.Asked) != 1 || mock.Asked[0] != "Download qwen2.5-coder:7b?" {
		t.Errorf("Asked = %v, want the question recorded", mock.Asked)
	}
}

func TestMockPrompter_NilFuncDeclines(t *testing.T) {
	mock := &MockPrompter{}
	got, err := mock.Confirm(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Confirm() unexpected error: %v", err)
	}
	if got {
		t.Error("unscripted mock approved; want declined")
	}
}

func TestMockPrompter_PropagatesError(t *testing.T) {
	wantErr := errors.New("terminal went away")
	mock := &MockPrompter{
		ConfirmFunc: func(ctx context.Context, message string) (bool, error) {
			return false, wantErr
		},
	}
	if _, err := mock.Confirm(context.Background(), "q"); !errors.Is(err, wantErr) {
		t.Errorf("Confirm() error = %v, want %v", err, wantErr)
	}
}
