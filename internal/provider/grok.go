// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	// GrokName is the registry name of the xAI provider.
	GrokName = "grok"
	// DefaultGrokEndpoint is xAI's OpenAI-compatible base URL.
	DefaultGrokEndpoint = "https://api.x.ai/v1"
	// DefaultGrokModel is used when no model is configured.
	DefaultGrokModel = "grok-4"
)

// GrokConfig configures a GrokProvider.
type GrokConfig struct {
	APIKey      string
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// GrokProvider calls xAI through the go-openai client.
type GrokProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewGrokProvider creates a Grok provider. Zero config values take the
// package defaults.
func NewGrokProvider(cfg GrokConfig, logger *zap.Logger) (*GrokProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("grok API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGrokEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGrokModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &GrokProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}, nil
}

// Name implements Provider.
func (p *GrokProvider) Name() string { return GrokName }

// Model implements Provider.
func (p *GrokProvider) Model() string { return p.model }

// Valuate sends the appraiser system prompt and prompt as one chat turn.
func (p *GrokProvider) Valuate(ctx context.Context, prompt string) (*Completion, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}

	p.logger.Debug("Sending valuation request to Grok",
		zap.String("model", p.model),
		zap.Int("max_tokens", p.maxTokens),
		zap.Int("prompt_chars", len(prompt)))

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		mapped := p.handleAPIError(err)
		p.logger.Warn("Grok request failed", zap.Error(mapped))
		return nil, mapped
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &Error{Provider: GrokName, Kind: ErrEmptyResponse}
	}

	completion := &Completion{
		Provider:     GrokName,
		Model:        p.model,
		RawText:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Duration:     time.Since(start),
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		completion.Usage = &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	p.logger.Debug("Grok valuation completed",
		zap.String("finish_reason", completion.FinishReason),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", completion.Duration))

	return completion, nil
}

// handleAPIError maps go-openai errors onto the provider error kinds.
func (p *GrokProvider) handleAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newStatusError(GrokName, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newStatusError(GrokName, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return &Error{Provider: GrokName, Kind: ErrGenerationFailed, Message: err.Error()}
}
