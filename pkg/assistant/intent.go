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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/AleutianAI/KodiakCLI/pkg/llm"
)

// =============================================================================
// Intent Types
// =============================================================================

// Category classifies what the user is asking for.
type Category string

const (
	// CategoryExplain covers questions about existing code or concepts.
	CategoryExplain Category = "explain"

	// CategoryEdit covers requests to write or change code.
	CategoryEdit Category = "edit"

	// CategoryPlan covers multi-step tasks that need a plan first.
	CategoryPlan Category = "plan"

	// CategorySearch covers requests to locate something in the project.
	CategorySearch Category = "search"

	// CategoryChat is the catch-all for everything else.
	CategoryChat Category = "chat"
)

// Categories returns the closed set of intent categories.
func Categories() []Category {
	return []Category{CategoryExplain, CategoryEdit, CategoryPlan, CategorySearch, CategoryChat}
}

// knownCategory reports whether s names a category in the closed set.
func knownCategory(s string) (Category, bool) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Intent is the result of analyzing one user input.
type Intent struct {
	// Category is the classified intent.
	Category Category `json:"category"`

	// Confidence is in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// Reasoning is a short human-readable justification, when available.
	Reasoning string `json:"reasoning,omitempty"`

	// Source records which stage produced the result: "rules" or "model".
	Source string `json:"source"`
}

// =============================================================================
// Rule Tables
// =============================================================================

// categoryRule holds the trigger vocabulary for one category. Phrases are
// matched as substrings of the lowercased input; keywords as whole words.
type categoryRule struct {
	category Category
	phrases  []string
	keywords []string
}

// defaultRules is ordered by specificity. Earlier rules win ties.
var defaultRules = []categoryRule{
	{
		category: CategoryPlan,
		phrases:  []string{"step by step", "break down", "come up with a plan", "how should i approach"},
		keywords: []string{"plan", "roadmap", "steps", "approach", "strategy", "migrate", "migration", "refactor", "redesign"},
	},
	{
		category: CategoryEdit,
		phrases:  []string{"write a", "write me", "add a", "can you implement"},
		keywords: []string{"write", "implement", "add", "create", "fix", "change", "modify", "update", "rename", "delete", "remove", "generate"},
	},
	{
		category: CategorySearch,
		phrases:  []string{"where is", "where are", "which file", "look for"},
		keywords: []string{"find", "search", "locate", "grep", "where", "defined", "usages", "references"},
	},
	{
		category: CategoryExplain,
		phrases:  []string{"what does", "what is", "how does", "why does", "walk me through"},
		keywords: []string{"explain", "describe", "understand", "meaning", "documentation", "docs"},
	},
}

// =============================================================================
// Analyzer
// =============================================================================

// AnalyzerConfig tunes the intent analyzer.
type AnalyzerConfig struct {
	// RefineBelow triggers model refinement when the rule confidence is
	// below this value. Zero selects the default of 0.75. Set to a
	// negative value to disable refinement entirely.
	RefineBelow float64

	// RefineTimeout bounds the refinement call. Zero selects 5s.
	RefineTimeout time.Duration
}

// applyDefaults fills zero fields.
func (c AnalyzerConfig) applyDefaults() AnalyzerConfig {
	if c.RefineBelow == 0 {
		c.RefineBelow = 0.75
	}
	if c.RefineTimeout == 0 {
		c.RefineTimeout = 5 * time.Second
	}
	return c
}

// classifyPromptTemplate instructs the model to pick one category and answer
// with JSON only, in the same output contract the tool router uses.
const classifyPromptTemplate = `You classify requests to a code assistant into exactly one intent.

## Intents
{{range .Categories}}
- {{.Name}}: {{.Description}}
{{- end}}

## Instructions
1. Read the user input
2. Select the SINGLE best intent from the list above
3. Be decisive

## Output Format
Respond with ONLY a JSON object. No explanation, no markdown, just JSON:
{"intent": "<intent_name>", "confidence": <0.0-1.0>, "reasoning": "<brief explanation>"}`

// categoryDescriptions feed the classification prompt.
var categoryDescriptions = map[Category]string{
	CategoryExplain: "questions about existing code, behavior, or concepts",
	CategoryEdit:    "requests to write, change, or fix code",
	CategoryPlan:    "multi-step tasks that should be planned before acting",
	CategorySearch:  "requests to locate files, symbols, or text in the project",
	CategoryChat:    "greetings and anything that fits no other intent",
}

// Analyzer classifies user input, rules first, model second.
//
// # Description
//
// Analyze always produces a result from the keyword rules. When the rule
// confidence lands below the refinement threshold and a model is attached,
// the analyzer asks the model to classify and keeps whichever answer is more
// confident. Refinement failures are logged and never fail the analysis.
//
// # Thread Safety
//
// Analyzer is safe for concurrent use.
type Analyzer struct {
	model  ChatModel
	cfg    AnalyzerConfig
	logger *slog.Logger
	tmpl   *template.Template
}

// NewAnalyzer creates an intent analyzer. model may be nil, which disables
// refinement and leaves pure rule classification.
func NewAnalyzer(model ChatModel, cfg AnalyzerConfig, logger *slog.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := template.New("classify").Parse(classifyPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse classify template: %w", err)
	}

	return &Analyzer{
		model:  model,
		cfg:    cfg.applyDefaults(),
		logger: logger.With(slog.String("component", "intent_analyzer")),
		tmpl:   tmpl,
	}, nil
}

// Analyze classifies one user input.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - input: The user's request. Must not be blank.
//
// # Outputs
//
//   - Intent: The classification. Never empty on success.
//   - error: Non-nil only for blank input or context cancellation.
func (a *Analyzer) Analyze(ctx context.Context, input string) (Intent, error) {
	if strings.TrimSpace(input) == "" {
		return Intent{}, errors.New("input must not be blank")
	}
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}

	intent := a.classifyByRules(input)

	if a.model != nil && a.cfg.RefineBelow > 0 && intent.Confidence < a.cfg.RefineBelow {
		if refined, err := a.refine(ctx, input); err != nil {
			a.logger.Debug("intent refinement failed, keeping rule result",
				slog.String("error", err.Error()),
				slog.String("rule_category", string(intent.Category)))
		} else if refined.Confidence > intent.Confidence {
			intent = refined
		}
	}

	a.logger.Debug("intent analyzed",
		slog.String("category", string(intent.Category)),
		slog.Float64("confidence", intent.Confidence),
		slog.String("source", intent.Source))

	return intent, nil
}

// classifyByRules scores the input against the keyword tables.
//
// Confidence scale: no hits lands on chat at 0.3; each hit beyond the first
// adds 0.15 on top of a 0.5 base, capped at 0.95 so rules alone never claim
// certainty.
func (a *Analyzer) classifyByRules(input string) Intent {
	lowered := strings.ToLower(input)
	words := tokenize(lowered)

	bestCategory := CategoryChat
	bestHits := 0

	for _, rule := range defaultRules {
		hits := 0
		for _, phrase := range rule.phrases {
			if strings.Contains(lowered, phrase) {
				hits += 2
			}
		}
		for _, kw := range rule.keywords {
			if words[kw] {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			bestCategory = rule.category
		}
	}

	if bestHits == 0 {
		return Intent{Category: CategoryChat, Confidence: 0.3, Source: "rules"}
	}

	confidence := 0.5 + 0.15*float64(bestHits-1)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return Intent{Category: bestCategory, Confidence: confidence, Source: "rules"}
}

// refine asks the model to classify and parses its JSON answer.
func (a *Analyzer) refine(ctx context.Context, input string) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RefineTimeout)
	defer cancel()

	system, err := a.buildClassifyPrompt()
	if err != nil {
		return Intent{}, err
	}

	maxTokens := 128
	var temperature float32 = 0
	reply, err := a.model.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "User input: " + input + "\n\nClassify and respond with JSON only."},
	}, llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("classify call: %w", err)
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := extractJSON(reply, &parsed); err != nil {
		return Intent{}, fmt.Errorf("parse classify reply: %w", err)
	}

	category, ok := knownCategory(strings.ToLower(strings.TrimSpace(parsed.Intent)))
	if !ok {
		return Intent{}, fmt.Errorf("model returned unknown intent %q", parsed.Intent)
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Intent{
		Category:   category,
		Confidence: confidence,
		Reasoning:  parsed.Reasoning,
		Source:     "model",
	}, nil
}

// buildClassifyPrompt renders the system prompt from the category table.
func (a *Analyzer) buildClassifyPrompt() (string, error) {
	type entry struct {
		Name        string
		Description string
	}
	data := struct{ Categories []entry }{}
	for _, c := range Categories() {
		data.Categories = append(data.Categories, entry{Name: string(c), Description: categoryDescriptions[c]})
	}

	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// tokenize splits lowered text into a word set.
func tokenize(lowered string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		words[w] = true
	}
	return words
}

// extractJSON pulls a JSON object out of a model reply and unmarshals it.
// Tolerates markdown code fences and prose surrounding the object.
func extractJSON(reply string, target any) error {
	text := strings.TrimSpace(reply)

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return errors.New("no JSON object in reply")
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), target); err != nil {
		return fmt.Errorf("unmarshal reply: %w", err)
	}
	return nil
}
