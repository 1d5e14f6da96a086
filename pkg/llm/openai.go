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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/KodiakCLI/pkg/telemetry"
)

const openaiTracerName = "kodiak.llm.openai"

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openaiSecretPath   = "/run/secrets/openai_api_key"
)

// OpenAIClient talks to OpenAI or any OpenAI-compatible endpoint.
//
// The API key lives in a memguard enclave and is only decrypted for the
// duration of each request.
//
// Thread Safety:
//
//	Safe for concurrent use.
type OpenAIClient struct {
	baseURL    string
	keyEnclave *memguard.Enclave
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *telemetry.Metrics

	modelMu sync.RWMutex
	model   string
}

// NewOpenAIClient creates an OpenAI-compatible client.
//
// Description:
//
//	The API key resolves from config, then the OPENAI_API_KEY
//	environment variable, then the container secret file. The key is
//	sealed into an encrypted enclave immediately after resolution.
//
// Inputs:
//
//	cfg - Backend configuration. BaseURL targets compatible providers.
//	logger - Structured logger. If nil, slog.Default() is used.
//
// Outputs:
//
//	*OpenAIClient - Ready to use.
//	error - If no API key could be found.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		if data, err := os.ReadFile(openaiSecretPath); err == nil {
			key = strings.TrimSpace(string(data))
		}
	}
	if key == "" {
		return nil, fmt.Errorf("openai api key not found: set OPENAI_API_KEY, provide backend.api_key, or mount %s", openaiSecretPath)
	}

	model := cfg.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 4
	}

	return &OpenAIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		keyEnclave: memguard.NewEnclave([]byte(key)),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
		model:      model,
	}, nil
}

// WithMetrics attaches request metrics and returns the client.
func (c *OpenAIClient) WithMetrics(m *telemetry.Metrics) *OpenAIClient {
	c.metrics = m
	return c
}

// Name returns "openai".
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Model returns the current default model.
func (c *OpenAIClient) Model() string {
	c.modelMu.RLock()
	defer c.modelMu.RUnlock()
	return c.model
}

// SetModel changes the default model for subsequent requests.
func (c *OpenAIClient) SetModel(model string) {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	c.model = model
}

// withAPI opens the key enclave, builds an SDK client, runs fn, and
// destroys the decrypted key buffer.
func (c *OpenAIClient) withAPI(fn func(api *openai.Client) error) error {
	buf, err := c.keyEnclave.Open()
	if err != nil {
		return fmt.Errorf("open api key enclave: %w", err)
	}
	defer buf.Destroy()

	config := openai.DefaultConfig(buf.String())
	if c.baseURL != "" {
		config.BaseURL = c.baseURL
	}
	config.HTTPClient = c.httpClient
	return fn(openai.NewClientWithConfig(config))
}

// buildChatRequest maps messages and params onto the SDK request type.
//
// TopK has no OpenAI equivalent and is ignored.
func (c *OpenAIClient) buildChatRequest(model string, messages []Message, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   stream,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	} else {
		req.Temperature = defaultTemperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	} else {
		req.TopP = defaultTopP
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate sends a single prompt as a one-message chat.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

// Chat sends a conversation and returns the assistant reply.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	model := c.Model()
	ctx, span := telemetry.StartSpan(ctx, openaiTracerName, "OpenAIClient.Chat",
		trace.WithAttributes(
			attribute.String("llm.provider", "openai"),
			attribute.String("llm.model", model),
			attribute.Int("llm.message_count", len(messages)),
		))
	defer span.End()

	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	var content string
	err := c.withAPI(func(api *openai.Client) error {
		resp, err := api.CreateChatCompletion(ctx, c.buildChatRequest(model, messages, params, false))
		if err != nil {
			return fmt.Errorf("openai chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return &ModelError{
				Type:    ModelErrorInvalidResponse,
				Model:   model,
				Message: "openai returned no choices",
			}
		}
		content = resp.Choices[0].Message.Content
		recordTokens(ctx, c.metrics, "openai", model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		recordRequest(ctx, c.metrics, "openai", "chat", model, start, err)
		return "", err
	}

	telemetry.SetSpanOK(span)
	recordRequest(ctx, c.metrics, "openai", "chat", model, start, nil)
	return content, nil
}

// ChatStream streams a conversation reply.
//
// Deltas pass through the same stream processor as the Ollama path, so
// length limits apply uniformly across backends.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	model := c.Model()
	ctx, span := telemetry.StartSpan(ctx, openaiTracerName, "OpenAIClient.ChatStream",
		trace.WithAttributes(
			attribute.String("llm.provider", "openai"),
			attribute.String("llm.model", model),
			attribute.Int("llm.message_count", len(messages)),
		))
	defer span.End()

	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	processor := NewDefaultStreamProcessor(DefaultStreamConfig(), c.logger)
	err := c.withAPI(func(api *openai.Client) error {
		stream, err := api.CreateChatCompletionStream(ctx, c.buildChatRequest(model, messages, params, true))
		if err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				_, perr := processor.ProcessChunk(ctx, ollamaStreamChunk{Done: true, DoneReason: "stop"}, callback)
				return perr
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return fmt.Errorf("openai stream recv: %w", err)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			done, perr := processor.ProcessChunk(ctx, ollamaStreamChunk{
				Message: Message{Role: "assistant", Content: delta},
			}, callback)
			if perr != nil {
				return perr
			}
			if done {
				return nil
			}
		}
	})
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetSpanOK(span)
	}
	recordRequest(ctx, c.metrics, "openai", "chat_stream", model, start, err)
	return err
}

// ListModels returns the models the endpoint offers.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var models []ModelInfo
	err := c.withAPI(func(api *openai.Client) error {
		list, err := api.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("openai list models: %w", err)
		}
		models = make([]ModelInfo, 0, len(list.Models))
		for _, m := range list.Models {
			models = append(models, ModelInfo{
				Name:       m.ID,
				ModifiedAt: time.Unix(m.CreatedAt, 0),
				Family:     m.OwnedBy,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// Ping verifies the endpoint accepts the configured credentials.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}
