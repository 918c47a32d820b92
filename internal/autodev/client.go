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

// Package autodev decodes VINs through the auto.dev vehicle data API.
package autodev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/vin-valuation/internal/vehicle"
)

const (
	// DefaultBaseURL is the auto.dev API root.
	DefaultBaseURL = "https://api.auto.dev"
	// DefaultTimeout bounds one decode call.
	DefaultTimeout = 15 * time.Second

	paymentRequiredType = "PAYMENT_REQUIRED"
)

// Error kinds. Use errors.Is against an *Error.
var (
	ErrPaymentRequired = errors.New("auto.dev API requires Scale plan upgrade. Please upgrade at https://auto.dev/pricing")
	ErrRateLimited     = errors.New("rate limit exceeded - too many requests to auto.dev")
	ErrInvalidAPIKey   = errors.New("invalid auto.dev API key")
	ErrInvalidRequest  = errors.New("invalid request to auto.dev API")
	ErrDecodeFailed    = errors.New("auto.dev decode failed")
)

// Decoder turns a VIN into the decoder's raw payload.
type Decoder interface {
	Decode(ctx context.Context, vin string) (vehicle.Payload, error)
}

// Error is a failed decode call.
type Error struct {
	StatusCode int
	Kind       error
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Client calls the auto.dev VIN endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client. An empty baseURL uses DefaultBaseURL.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("auto.dev API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Decode fetches the raw specification payload for vin. A payment-required
// marker is treated as an error even on a 200 response.
func (c *Client) Decode(ctx context.Context, vin string) (vehicle.Payload, error) {
	vin = vehicle.NormalizeVIN(vin)
	if vin == "" {
		return nil, &Error{Kind: ErrInvalidRequest, Message: "VIN is required"}
	}

	query := url.Values{}
	query.Set("apikey", c.apiKey)
	query.Set("domains", "true")
	endpoint := fmt.Sprintf("%s/vin/%s?%s", c.baseURL, url.PathEscape(vin), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build auto.dev request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Decoding VIN with auto.dev", zap.String("vin", vin))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrDecodeFailed, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Kind: ErrDecodeFailed, Message: err.Error()}
	}

	var payload vehicle.Payload
	jsonErr := json.Unmarshal(body, &payload)

	if resp.StatusCode == http.StatusPaymentRequired || isPaymentRequired(payload) {
		c.logger.Warn("auto.dev plan does not cover this request",
			zap.String("vin", vin),
			zap.Int("status_code", resp.StatusCode))
		return nil, &Error{StatusCode: resp.StatusCode, Kind: ErrPaymentRequired}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("auto.dev request failed",
			zap.String("vin", vin),
			zap.Int("status_code", resp.StatusCode))
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Kind:       classifyStatus(resp.StatusCode),
			Message:    upstreamMessage(payload, body),
		}
	}

	if jsonErr != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Kind: ErrDecodeFailed, Message: "response is not a JSON object"}
	}

	c.logger.Info("VIN decoded",
		zap.String("vin", vin),
		zap.Int("fields", len(payload)),
		zap.Duration("duration", time.Since(start)))

	return payload, nil
}

func classifyStatus(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case http.StatusBadRequest:
		return ErrInvalidRequest
	}
	return ErrDecodeFailed
}

func isPaymentRequired(payload vehicle.Payload) bool {
	errorType, _ := payload["errorType"].(string)
	return errorType == paymentRequiredType
}

func upstreamMessage(payload vehicle.Payload, body []byte) string {
	for _, key := range []string{"message", "error"} {
		if msg, ok := payload[key].(string); ok && msg != "" {
			return msg
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
