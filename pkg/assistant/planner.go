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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/AleutianAI/KodiakCLI/pkg/llm"
)

// =============================================================================
// Plan Types
// =============================================================================

// PlanStep is one step of a task plan.
type PlanStep struct {
	// Order is the 1-based position in the plan.
	Order int `json:"order"`

	// Description is the step text.
	Description string `json:"description"`

	// Files lists indexed project files the step mentions.
	Files []string `json:"files,omitempty"`
}

// Plan is a synthesized task plan.
type Plan struct {
	// Goal is the request the plan was built for.
	Goal string `json:"goal"`

	// Steps are the ordered plan steps. Never empty on success.
	Steps []PlanStep `json:"steps"`

	// Source records how the steps were produced: "model" when parsed from
	// the model reply, "fallback" when the reply had no usable step list.
	Source string `json:"source"`

	// CreatedAt is when the plan was synthesized (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Render formats the plan as a numbered list for display. Steps that
// name project files carry them in brackets.
func (p *Plan) Render() string {
	var b strings.Builder
	for i, step := range p.Steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", step.Order, step.Description)
		if len(step.Files) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(step.Files, ", "))
		}
	}
	return b.String()
}

// =============================================================================
// Planner
// =============================================================================

// PlannerConfig tunes plan synthesis.
type PlannerConfig struct {
	// MaxFiles caps how many project files the prompt includes. Zero
	// selects 12.
	MaxFiles int

	// MaxSteps caps how many steps are parsed from the reply. Zero
	// selects 10.
	MaxSteps int

	// Timeout bounds the model call. Zero selects 60s.
	Timeout time.Duration
}

func (c PlannerConfig) applyDefaults() PlannerConfig {
	if c.MaxFiles == 0 {
		c.MaxFiles = 12
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// planPromptTemplate demands a plain numbered list so the reply stays
// parseable without structured output support on the backend.
const planPromptTemplate = `You plan engineering tasks for a code assistant working in a single project.

## Project
{{- if .ModulePath}}
- Module: {{.ModulePath}}
{{- end}}
- Files indexed: {{.FileCount}}
{{- if .Files}}
- Files likely relevant to the task:
{{- range .Files}}
  - {{.}}
{{- end}}
{{- end}}

## Instructions
1. Produce a concrete plan for the task below
2. Output a numbered list, one step per line, at most {{.MaxSteps}} steps
3. Name specific files from the list above where they apply
4. Output ONLY the numbered list, no preamble and no closing remarks`

// stepLine matches "1. text", "2) text", and "3 - text" forms.
var stepLine = regexp.MustCompile(`^\s*(\d+)\s*[.):-]\s+(.+)$`)

// Planner synthesizes task plans from a goal, the project index, and the
// model.
//
// # Description
//
// Plan selects the indexed files most relevant to the goal, renders a
// planning prompt around them, and parses the model reply as a numbered
// list. A reply without a parseable list degrades to a single-step plan
// rather than an error; quality of the step text is up to the model.
//
// # Thread Safety
//
// Planner is safe for concurrent use.
type Planner struct {
	model  ChatModel
	index  ProjectIndex
	cfg    PlannerConfig
	logger *slog.Logger
	tmpl   *template.Template
}

// NewPlanner creates a task planner. The model is required; the index may be
// nil, which omits project context from the prompt.
func NewPlanner(model ChatModel, index ProjectIndex, cfg PlannerConfig, logger *slog.Logger) (*Planner, error) {
	if model == nil {
		return nil, errors.New("model must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := template.New("plan").Parse(planPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse plan template: %w", err)
	}

	return &Planner{
		model:  model,
		index:  index,
		cfg:    cfg.applyDefaults(),
		logger: logger.With(slog.String("component", "task_planner")),
		tmpl:   tmpl,
	}, nil
}

// Plan synthesizes a plan for one goal.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - goal: The task to plan. Must not be blank.
//
// # Outputs
//
//   - *Plan: The plan, with at least one step.
//   - error: Non-nil if the goal is blank or the model call fails.
func (p *Planner) Plan(ctx context.Context, goal string) (*Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, errors.New("goal must not be blank")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	relevant := p.relevantFiles(goal)

	prompt, err := p.buildPrompt(relevant)
	if err != nil {
		return nil, fmt.Errorf("build plan prompt: %w", err)
	}

	reply, err := p.model.Chat(ctx, []llm.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: "Task: " + goal},
	}, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("plan call: %w", err)
	}

	steps, source := p.parseSteps(reply, relevant)
	if len(steps) == 0 {
		steps = []PlanStep{{Order: 1, Description: fallbackStep(reply, goal)}}
		source = "fallback"
	}

	plan := &Plan{
		Goal:      goal,
		Steps:     steps,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}

	p.logger.Debug("plan synthesized",
		slog.Int("steps", len(plan.Steps)),
		slog.String("source", plan.Source),
		slog.Int("relevant_files", len(relevant)))

	return plan, nil
}

// relevantFiles scores indexed files by term overlap with the goal and
// returns the best MaxFiles paths.
func (p *Planner) relevantFiles(goal string) []string {
	if p.index == nil {
		return nil
	}

	terms := tokenize(strings.ToLower(goal))

	type scored struct {
		path  string
		score int
	}
	var candidates []scored

	for _, f := range p.index.Files() {
		score := 0
		loweredPath := strings.ToLower(f.Path)
		for _, segment := range strings.FieldsFunc(loweredPath, func(r rune) bool {
			return r == '/' || r == '.' || r == '_' || r == '-'
		}) {
			if terms[segment] {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{path: f.Path, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].path < candidates[j].path
	})

	if len(candidates) > p.cfg.MaxFiles {
		candidates = candidates[:p.cfg.MaxFiles]
	}

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths
}

// buildPrompt renders the planning system prompt.
func (p *Planner) buildPrompt(relevant []string) (string, error) {
	data := struct {
		ModulePath string
		FileCount  int
		Files      []string
		MaxSteps   int
	}{
		Files:    relevant,
		MaxSteps: p.cfg.MaxSteps,
	}
	if p.index != nil {
		data.FileCount = p.index.Stats().FileCount
		if mod := p.index.Module(); mod != nil {
			data.ModulePath = mod.Path
		}
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// parseSteps extracts numbered list lines from the reply and attaches the
// relevant files each step names.
func (p *Planner) parseSteps(reply string, relevant []string) ([]PlanStep, string) {
	var steps []PlanStep

	for _, line := range strings.Split(reply, "\n") {
		match := stepLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		desc := strings.TrimSpace(match[2])
		if desc == "" {
			continue
		}

		steps = append(steps, PlanStep{
			Order:       len(steps) + 1,
			Description: desc,
			Files:       mentionedFiles(desc, relevant),
		})
		if len(steps) >= p.cfg.MaxSteps {
			break
		}
	}

	if len(steps) == 0 {
		return nil, ""
	}
	return steps, "model"
}

// mentionedFiles returns the relevant paths whose name appears in the text.
func mentionedFiles(text string, relevant []string) []string {
	var files []string
	for _, rel := range relevant {
		if strings.Contains(text, rel) || strings.Contains(text, path.Base(rel)) {
			files = append(files, rel)
		}
	}
	return files
}

// fallbackStep derives a single-step description from an unparseable reply.
func fallbackStep(reply, goal string) string {
	for _, line := range strings.Split(reply, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return goal
}
