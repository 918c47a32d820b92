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

// Package provider wraps the LLM services that produce vehicle valuations.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultMaxTokens caps the reply length of a valuation.
	DefaultMaxTokens = 4000
	// DefaultTemperature keeps valuations stable between calls.
	DefaultTemperature = 0.3
	// DefaultTimeout bounds one provider call.
	DefaultTimeout = 60 * time.Second
)

// SystemPrompt frames chat-style providers as an appraiser.
const SystemPrompt = "You are a professional automotive appraiser. Provide accurate, realistic vehicle valuations based on current market conditions. Always respond with valid JSON in the exact format requested."

// Error kinds. Use errors.Is against an *Error.
var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrGenerationFailed = errors.New("valuation generation failed")
	ErrEmptyResponse    = errors.New("empty response")
	ErrUnknownProvider  = errors.New("unknown provider")
)

// Usage is the token count a provider reports for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the raw reply of one valuation call.
type Completion struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	RawText      string        `json:"raw_text"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Provider produces a valuation reply for a prompt. Implementations make
// exactly one upstream call per invocation.
type Provider interface {
	Name() string
	Model() string
	Valuate(ctx context.Context, prompt string) (*Completion, error)
}

// Error is an upstream failure mapped to one of the error kinds.
type Error struct {
	Provider   string
	StatusCode int
	Kind       error
	Message    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// classifyStatus maps an upstream HTTP status to an error kind.
func classifyStatus(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case http.StatusBadRequest:
		return ErrInvalidRequest
	}
	return ErrGenerationFailed
}

func newStatusError(provider string, status int, message string) *Error {
	return &Error{
		Provider:   provider,
		StatusCode: status,
		Kind:       classifyStatus(status),
		Message:    strings.TrimSpace(message),
	}
}

// Registry looks providers up by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes providers by their lower-cased Name.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[strings.ToLower(p.Name())] = p
		}
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
