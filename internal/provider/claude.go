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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// ClaudeName is the registry name of the Anthropic provider.
	ClaudeName = "claude"
	// DefaultClaudeEndpoint is the Anthropic API base URL.
	DefaultClaudeEndpoint = "https://api.anthropic.com/v1"
	// DefaultClaudeModel is used when no model is configured.
	DefaultClaudeModel = "claude-3-haiku-20240307"
	// AnthropicVersion is sent in the anthropic-version header.
	AnthropicVersion = "2023-06-01"
)

// ClaudeConfig configures a ClaudeProvider.
type ClaudeConfig struct {
	APIKey      string
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ClaudeProvider calls the Anthropic Messages API.
type ClaudeProvider struct {
	cfg        ClaudeConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClaudeProvider creates a Claude provider. Zero config values take the
// package defaults.
func NewClaudeProvider(cfg ClaudeConfig, logger *zap.Logger) (*ClaudeProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("claude API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultClaudeEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultClaudeModel
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

	return &ClaudeProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Name implements Provider.
func (p *ClaudeProvider) Name() string { return ClaudeName }

// Model implements Provider.
func (p *ClaudeProvider) Model() string { return p.cfg.Model }

// Valuate sends prompt as a single user message.
func (p *ClaudeProvider) Valuate(ctx context.Context, prompt string) (*Completion, error) {
	payload := claudeRequest{
		Model:       p.cfg.Model,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal claude request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build claude request: %w", err)
	}
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", AnthropicVersion)
	req.Header.Set("content-type", "application/json")

	p.logger.Debug("Sending valuation request to Claude",
		zap.String("model", p.cfg.Model),
		zap.Int("max_tokens", p.cfg.MaxTokens),
		zap.Int("prompt_chars", len(prompt)))

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: ClaudeName, Kind: ErrGenerationFailed, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read claude response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(respBody))
		var apiErr claudeErrorBody
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		p.logger.Warn("Claude request failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", message))
		return nil, newStatusError(ClaudeName, resp.StatusCode, message)
	}

	var decoded claudeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode claude response: %w", err)
	}

	text := extractClaudeText(decoded)
	if text == "" {
		return nil, &Error{Provider: ClaudeName, StatusCode: resp.StatusCode, Kind: ErrEmptyResponse}
	}

	completion := &Completion{
		Provider:     ClaudeName,
		Model:        p.cfg.Model,
		RawText:      text,
		FinishReason: decoded.StopReason,
		Duration:     time.Since(start),
	}
	if decoded.Usage.InputTokens > 0 || decoded.Usage.OutputTokens > 0 {
		completion.Usage = &Usage{
			InputTokens:  decoded.Usage.InputTokens,
			OutputTokens: decoded.Usage.OutputTokens,
		}
	}

	p.logger.Debug("Claude valuation completed",
		zap.String("stop_reason", decoded.StopReason),
		zap.Int("input_tokens", decoded.Usage.InputTokens),
		zap.Int("output_tokens", decoded.Usage.OutputTokens),
		zap.Duration("duration", completion.Duration))

	return completion, nil
}

func extractClaudeText(resp claudeResponse) string {
	for _, content := range resp.Content {
		if content.Type == "text" && strings.TrimSpace(content.Text) != "" {
			return content.Text
		}
	}
	return ""
}
