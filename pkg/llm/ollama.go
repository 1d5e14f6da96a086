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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/KodiakCLI/pkg/telemetry"
)

const ollamaTracerName = "kodiak.llm.ollama"

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "qwen2.5-coder"
	defaultKeepAlive   = "5m"
	defaultHTTPTimeout = 5 * time.Minute
	modelCacheTTL      = 30 * time.Second
)

// Default sampling parameters applied when the caller leaves a field nil.
const (
	defaultTemperature = float32(0.2)
	defaultTopK        = 20
	defaultTopP        = float32(0.9)
	defaultNumPredict  = 8192
)

// OllamaClient talks to a local Ollama server over its HTTP API.
//
// The client rate-limits outbound requests, caches the model list for a
// short TTL, and attaches trace spans to every call.
//
// Thread Safety:
//
//	Safe for concurrent use.
type OllamaClient struct {
	baseURL    string
	keepAlive  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *telemetry.Metrics

	modelMu sync.RWMutex
	model   string

	cacheMu    sync.RWMutex
	modelCache []ModelInfo
	cacheTime  time.Time
	cacheTTL   time.Duration
}

// NewOllamaClient creates an Ollama client.
//
// Description:
//
//	The base URL resolves from config, then the OLLAMA_HOST environment
//	variable, then the standard localhost port. A missing scheme on
//	OLLAMA_HOST is treated as http.
//
// Inputs:
//
//	cfg - Backend configuration. Zero-value fields use defaults.
//	logger - Structured logger. If nil, slog.Default() is used.
//
// Outputs:
//
//	*OllamaClient - Ready to use. Construction does not contact the server.
func NewOllamaClient(cfg Config, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := cfg.Model
	if model == "" {
		model = os.Getenv("OLLAMA_MODEL")
	}
	if model == "" {
		model = defaultOllamaModel
	}

	keepAlive := cfg.KeepAlive
	if keepAlive == "" {
		keepAlive = defaultKeepAlive
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 4
	}

	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		keepAlive:  keepAlive,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
		cacheTTL:   modelCacheTTL,
	}
}

// WithMetrics attaches request metrics and returns the client.
func (c *OllamaClient) WithMetrics(m *telemetry.Metrics) *OllamaClient {
	c.metrics = m
	return c
}

// Name returns "ollama".
func (c *OllamaClient) Name() string {
	return "ollama"
}

// Model returns the current default model.
func (c *OllamaClient) Model() string {
	c.modelMu.RLock()
	defer c.modelMu.RUnlock()
	return c.model
}

// SetModel changes the default model for subsequent requests.
func (c *OllamaClient) SetModel(model string) {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	c.model = model
}

// BaseURL returns the server address this client targets.
func (c *OllamaClient) BaseURL() string {
	return c.baseURL
}

// ===========================================================================
// Generation
// ===========================================================================

type ollamaGenerateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

type ollamaChatRequest struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	Error           string  `json:"error,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// buildOptions translates GenerationParams into Ollama option fields,
// filling unset fields with conservative coding-assistant defaults.
func buildOptions(params GenerationParams) map[string]any {
	options := make(map[string]any)

	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	} else {
		options["temperature"] = defaultTemperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	} else {
		options["top_k"] = defaultTopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	} else {
		options["top_p"] = defaultTopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	} else {
		options["num_predict"] = defaultNumPredict
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

// Generate sends a single prompt to /api/generate.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	model := c.Model()
	ctx, span := telemetry.StartSpan(ctx, ollamaTracerName, "OllamaClient.Generate",
		trace.WithAttributes(
			attribute.String("llm.provider", "ollama"),
			attribute.String("llm.model", model),
		))
	defer span.End()

	start := time.Now()
	reqBody := ollamaGenerateRequest{
		Model:     model,
		Prompt:    prompt,
		Stream:    false,
		KeepAlive: c.keepAlive,
		Options:   buildOptions(params),
	}

	var result ollamaGenerateResponse
	if err := c.postJSON(ctx, "/api/generate", reqBody, &result); err != nil {
		telemetry.RecordError(span, err)
		recordRequest(ctx, c.metrics, "ollama", "generate", model, start, err)
		return "", err
	}
	if result.Error != "" {
		err := &ModelError{
			Type:    ModelErrorInvalidResponse,
			Model:   model,
			Message: fmt.Sprintf("ollama generate failed: %s", result.Error),
		}
		telemetry.RecordError(span, err)
		recordRequest(ctx, c.metrics, "ollama", "generate", model, start, err)
		return "", err
	}

	span.SetAttributes(attribute.Int("llm.eval_count", result.EvalCount))
	telemetry.SetSpanOK(span)
	recordRequest(ctx, c.metrics, "ollama", "generate", model, start, nil)
	recordTokens(ctx, c.metrics, "ollama", model, result.PromptEvalCount, result.EvalCount)
	return result.Response, nil
}

// Chat sends a conversation to /api/chat and returns the full reply.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	model := c.Model()
	ctx, span := telemetry.StartSpan(ctx, ollamaTracerName, "OllamaClient.Chat",
		trace.WithAttributes(
			attribute.String("llm.provider", "ollama"),
			attribute.String("llm.model", model),
			attribute.Int("llm.message_count", len(messages)),
		))
	defer span.End()

	start := time.Now()
	reqBody := ollamaChatRequest{
		Model:     model,
		Messages:  messages,
		Stream:    false,
		KeepAlive: c.keepAlive,
		Options:   buildOptions(params),
	}

	var result ollamaChatResponse
	if err := c.postJSON(ctx, "/api/chat", reqBody, &result); err != nil {
		telemetry.RecordError(span, err)
		recordRequest(ctx, c.metrics, "ollama", "chat", model, start, err)
		return "", err
	}
	if result.Error != "" {
		err := &ModelError{
			Type:    ModelErrorInvalidResponse,
			Model:   model,
			Message: fmt.Sprintf("ollama chat failed: %s", result.Error),
		}
		telemetry.RecordError(span, err)
		recordRequest(ctx, c.metrics, "ollama", "chat", model, start, err)
		return "", err
	}

	span.SetAttributes(attribute.Int("llm.eval_count", result.EvalCount))
	telemetry.SetSpanOK(span)
	recordRequest(ctx, c.metrics, "ollama", "chat", model, start, nil)
	recordTokens(ctx, c.metrics, "ollama", model, result.PromptEvalCount, result.EvalCount)
	return result.Message.Content, nil
}

// ChatStream streams a conversation reply using the default stream
// configuration.
func (c *OllamaClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	return c.ChatStreamWithConfig(ctx, messages, params, callback, DefaultStreamConfig())
}

// ChatStreamWithConfig streams a conversation reply from /api/chat.
//
// Description:
//
//	The response arrives as newline-delimited JSON chunks. Each chunk
//	passes through a stream processor that applies length limits and
//	thinking redaction before invoking the callback.
//
// Edge Cases:
//
//	Context cancellation mid-stream returns the context's error so
//	callers can match it with errors.Is. A non-200 status is reported
//	with the status code in the error text.
func (c *OllamaClient) ChatStreamWithConfig(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback, cfg StreamConfig) error {
	model := c.Model()
	ctx, span := telemetry.StartSpan(ctx, ollamaTracerName, "OllamaClient.ChatStream",
		trace.WithAttributes(
			attribute.String("llm.provider", "ollama"),
			attribute.String("llm.model", model),
			attribute.Int("llm.message_count", len(messages)),
		))
	defer span.End()

	start := time.Now()
	err := c.chatStream(ctx, model, messages, params, callback, cfg, start)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetSpanOK(span)
	}
	recordRequest(ctx, c.metrics, "ollama", "chat_stream", model, start, err)
	return err
}

func (c *OllamaClient) chatStream(ctx context.Context, model string, messages []Message, params GenerationParams, callback StreamCallback, cfg StreamConfig, start time.Time) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	reqBody := ollamaChatRequest{
		Model:     model,
		Messages:  messages,
		Stream:    true,
		KeepAlive: c.keepAlive,
		Options:   buildOptions(params),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req = telemetry.PropagateToRequest(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return connectionError(c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return modelNotFoundError(model)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama stream returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	processor := NewDefaultStreamProcessor(cfg, c.logger)
	firstToken := false
	wrapped := func(event StreamEvent) error {
		if event.Type == StreamEventToken && !firstToken {
			firstToken = true
			if c.metrics != nil {
				c.metrics.LLMFirstTokenDuration.Record(ctx, time.Since(start).Seconds(),
					metric.WithAttributes(
						attribute.String("provider", "ollama"),
						attribute.String("model", model),
					))
			}
		}
		if callback == nil {
			return nil
		}
		return callback(event)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		done, err := processor.ProcessChunk(ctx, chunk, wrapped)
		if err != nil {
			return err
		}
		if done {
			recordTokens(ctx, c.metrics, "ollama", model, chunk.PromptEvalCount, processor.GetTokenCount())
			return nil
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// ===========================================================================
// Model management
// ===========================================================================

type ollamaTagsResponse struct {
	Models []ollamaTagModel `json:"models"`
}

type ollamaTagModel struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Digest     string    `json:"digest"`
	Details    struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
}

// ListModels returns the installed models, served from a short-lived
// cache when fresh.
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	c.cacheMu.RLock()
	if c.modelCache != nil && time.Since(c.cacheTime) < c.cacheTTL {
		models := c.modelCache
		c.cacheMu.RUnlock()
		return models, nil
	}
	c.cacheMu.RUnlock()
	return c.fetchModels(ctx)
}

// RefreshModelCache discards the cache and fetches the model list.
func (c *OllamaClient) RefreshModelCache(ctx context.Context) ([]ModelInfo, error) {
	c.cacheMu.Lock()
	c.modelCache = nil
	c.cacheMu.Unlock()
	return c.fetchModels(ctx)
}

func (c *OllamaClient) fetchModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, span := telemetry.StartSpan(ctx, ollamaTracerName, "OllamaClient.fetchModels")
	defer span.End()

	var tags ollamaTagsResponse
	if err := c.getJSON(ctx, "/api/tags", &tags); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, ModelInfo{
			Name:              m.Name,
			Size:              m.Size,
			ModifiedAt:        m.ModifiedAt,
			Digest:            m.Digest,
			Family:            m.Details.Family,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
		})
	}

	c.cacheMu.Lock()
	c.modelCache = models
	c.cacheTime = time.Now()
	c.cacheMu.Unlock()

	span.SetAttributes(attribute.Int("llm.model_count", len(models)))
	telemetry.SetSpanOK(span)
	return models, nil
}

// HasModel reports whether the named model is installed.
//
// A bare name matches its ":latest" tag, so "qwen2.5-coder" finds
// "qwen2.5-coder:latest".
func (c *OllamaClient) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	want := normalizeModelName(name)
	for _, m := range models {
		if normalizeModelName(m.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

// normalizeModelName appends ":latest" to untagged model names.
func normalizeModelName(name string) string {
	if !strings.Contains(name, ":") {
		return name + ":latest"
	}
	return name
}

type ollamaPullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type ollamaPullChunk struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullModel downloads a model, reporting progress through the callback.
//
// Edge Cases:
//
//	A server-reported error mid-pull returns a ModelError with type
//	ModelErrorPullFailed. A successful pull invalidates the model cache
//	so the new model is visible immediately.
func (c *OllamaClient) PullModel(ctx context.Context, name string, progress PullProgressCallback) error {
	ctx, span := telemetry.StartSpan(ctx, ollamaTracerName, "OllamaClient.PullModel",
		trace.WithAttributes(attribute.String("llm.model", name)))
	defer span.End()

	payload, err := json.Marshal(ollamaPullRequest{Name: name, Stream: true})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req = telemetry.PropagateToRequest(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		connErr := connectionError(c.baseURL, err)
		telemetry.RecordError(span, connErr)
		return connErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := &ModelError{
			Type:    ModelErrorPullFailed,
			Model:   name,
			Message: fmt.Sprintf("pull of '%s' failed with status %d", name, resp.StatusCode),
			Detail:  strings.TrimSpace(string(body)),
		}
		telemetry.RecordError(span, err)
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaPullChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode pull chunk: %w", err)
		}
		if chunk.Error != "" {
			err := &ModelError{
				Type:        ModelErrorPullFailed,
				Model:       name,
				Message:     fmt.Sprintf("pull of '%s' failed", name),
				Detail:      chunk.Error,
				Remediation: "Check the model name and available disk space, then retry.",
			}
			telemetry.RecordError(span, err)
			return err
		}
		if progress != nil {
			progress(chunk.Status, chunk.Completed, chunk.Total)
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pull stream: %w", err)
	}

	// The new model should show up on the next ListModels.
	c.cacheMu.Lock()
	c.modelCache = nil
	c.cacheMu.Unlock()

	telemetry.SetSpanOK(span)
	return nil
}

// ===========================================================================
// Health
// ===========================================================================

type ollamaVersionResponse struct {
	Version string `json:"version"`
}

// Version returns the Ollama server version.
func (c *OllamaClient) Version(ctx context.Context) (string, error) {
	var v ollamaVersionResponse
	if err := c.getJSON(ctx, "/api/version", &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// Ping verifies the server is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	_, err := c.Version(ctx)
	return err
}

// ===========================================================================
// HTTP plumbing
// ===========================================================================

// postJSON sends a JSON request and decodes a JSON response, mapping
// transport and status failures to the model error taxonomy.
func (c *OllamaClient) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req = telemetry.PropagateToRequest(ctx, req)

	return c.do(req, respBody)
}

// getJSON sends a GET request and decodes a JSON response.
func (c *OllamaClient) getJSON(ctx context.Context, path string, respBody any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req = telemetry.PropagateToRequest(ctx, req)

	return c.do(req, respBody)
}

func (c *OllamaClient) do(req *http.Request, respBody any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return &ModelError{
				Type:    ModelErrorContextCancelled,
				Message: "request cancelled",
				Detail:  err.Error(),
				Err:     ctxErr,
			}
		}
		return connectionError(c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return modelNotFoundError(c.Model())
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ModelError{
			Type:    ModelErrorInvalidResponse,
			Message: fmt.Sprintf("ollama returned status %d", resp.StatusCode),
			Detail:  strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return &ModelError{
			Type:    ModelErrorInvalidResponse,
			Message: "failed to decode ollama response",
			Detail:  err.Error(),
			Err:     err,
		}
	}
	return nil
}

// recordRequest emits request count and duration metrics.
func recordRequest(ctx context.Context, m *telemetry.Metrics, provider, kind, model string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.LLMRequestsTotal.Add(ctx, 1, attrs)
	m.LLMRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// recordTokens emits prompt and completion token counters.
func recordTokens(ctx context.Context, m *telemetry.Metrics, provider, model string, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	if promptTokens > 0 {
		m.LLMTokensTotal.Add(ctx, int64(promptTokens),
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("model", model),
				attribute.String("direction", "prompt"),
			))
	}
	if completionTokens > 0 {
		m.LLMTokensTotal.Add(ctx, int64(completionTokens),
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("model", model),
				attribute.String("direction", "completion"),
			))
	}
}
