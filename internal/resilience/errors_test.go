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

package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/vin-valuation/internal/autodev"
	"github.com/your-org/vin-valuation/internal/pricing"
	"github.com/your-org/vin-valuation/internal/provider"
	"github.com/your-org/vin-valuation/internal/vehicle"
)

func TestServiceError(t *testing.T) {
	internal := errors.New("internal error")
	serviceErr := NewServiceError("user message", ErrorCodeInternalError, http.StatusInternalServerError, internal)

	assert.Equal(t, "user message", serviceErr.Error())
	assert.Same(t, internal, serviceErr.Unwrap())
	assert.ErrorIs(t, serviceErr, internal)

	resp := serviceErr.WithDetails("vin is required").ToErrorResponse("req_1234abcd")
	assert.False(t, resp.Success)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
	assert.Equal(t, []string{"vin is required"}, resp.Details)
	assert.Equal(t, "req_1234abcd", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *ServiceError
		code   ErrorCode
		status int
	}{
		{"bad request", NewBadRequestError("x", nil), ErrorCodeBadRequest, http.StatusBadRequest},
		{"invalid vin", NewInvalidVINError("ABC"), ErrorCodeInvalidVIN, http.StatusBadRequest},
		{"not found", NewNotFoundError("x", nil), ErrorCodeNotFound, http.StatusNotFound},
		{"internal", NewInternalError("x", nil), ErrorCodeInternalError, http.StatusInternalServerError},
		{"unavailable", NewServiceUnavailableError("x", nil), ErrorCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"timeout", NewTimeoutError("x", nil), ErrorCodeTimeout, http.StatusGatewayTimeout},
		{"dependency", NewDependencyFailureError("x", nil), ErrorCodeDependencyFailure, http.StatusBadGateway},
		{"rate limit", NewTooManyRequestsError("x", nil), ErrorCodeTooManyRequests, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
		})
	}
}

func TestWrapErrorClassification(t *testing.T) {
	handler := NewErrorHandler(zaptest.NewLogger(t))

	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{
			name:   "invalid vin",
			err:    fmt.Errorf("%w %q", vehicle.ErrInvalidVIN, "123"),
			code:   ErrorCodeInvalidVIN,
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid condition",
			err:    fmt.Errorf("%w %q", vehicle.ErrInvalidCondition, "mint"),
			code:   ErrorCodeBadRequest,
			status: http.StatusBadRequest,
		},
		{
			name:   "decoder payment required",
			err:    &autodev.Error{StatusCode: 402, Kind: autodev.ErrPaymentRequired},
			code:   ErrorCodePaymentRequired,
			status: http.StatusPaymentRequired,
		},
		{
			name:   "decoder rate limited",
			err:    fmt.Errorf("decode: %w", &autodev.Error{StatusCode: 429, Kind: autodev.ErrRateLimited}),
			code:   ErrorCodeTooManyRequests,
			status: http.StatusTooManyRequests,
		},
		{
			name:   "provider rate limited",
			err:    &provider.Error{Provider: "grok", StatusCode: 429, Kind: provider.ErrRateLimited},
			code:   ErrorCodeTooManyRequests,
			status: http.StatusTooManyRequests,
		},
		{
			name:   "decoder bad request",
			err:    &autodev.Error{StatusCode: 400, Kind: autodev.ErrInvalidRequest},
			code:   ErrorCodeBadRequest,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown provider",
			err:    fmt.Errorf("%w: %q", provider.ErrUnknownProvider, "gemini"),
			code:   ErrorCodeBadRequest,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown model",
			err:    fmt.Errorf("%w: gpt-x", pricing.ErrUnknownModel),
			code:   ErrorCodeUnknownModel,
			status: http.StatusBadRequest,
		},
		{
			name:   "bad provider key",
			err:    &provider.Error{Provider: "claude", StatusCode: 401, Kind: provider.ErrInvalidAPIKey},
			code:   ErrorCodeDependencyFailure,
			status: http.StatusBadGateway,
		},
		{
			name:   "deadline",
			err:    fmt.Errorf("claude valuation failed: %w", context.DeadlineExceeded),
			code:   ErrorCodeTimeout,
			status: http.StatusGatewayTimeout,
		},
		{
			name:   "generation failed inside joined errors",
			err:    errors.Join(errors.New("other"), &provider.Error{Provider: "grok", StatusCode: 500, Kind: provider.ErrGenerationFailed}),
			code:   ErrorCodeDependencyFailure,
			status: http.StatusBadGateway,
		},
		{
			name:   "connection refused text",
			err:    errors.New("dial tcp 127.0.0.1:1: connect: connection refused"),
			code:   ErrorCodeDependencyFailure,
			status: http.StatusBadGateway,
		},
		{
			name:   "generic",
			err:    errors.New("boom"),
			code:   ErrorCodeInternalError,
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := handler.WrapError(tt.err, "generating valuation")
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Same(t, tt.err, got.Unwrap())
		})
	}
}

func TestWrapErrorPaymentMessage(t *testing.T) {
	got := NewErrorHandler(nil).WrapError(&autodev.Error{StatusCode: 402, Kind: autodev.ErrPaymentRequired}, "decoding VIN")
	assert.Contains(t, got.Message, "https://auto.dev/pricing")
}

func TestWrapErrorGenericMessage(t *testing.T) {
	got := NewErrorHandler(nil).WrapError(errors.New("boom"), "processing data")
	assert.Equal(t, "An error occurred while processing data. Please try again.", got.Message)
}

func TestWrapErrorNilAndPassthrough(t *testing.T) {
	handler := NewErrorHandler(nil)
	assert.Nil(t, handler.WrapError(nil, "noop"))

	original := NewBadRequestError("bad request", nil)
	assert.Same(t, original, handler.WrapError(original, "noop"))
	assert.Same(t, original, handler.WrapError(fmt.Errorf("wrapped: %w", original), "noop"))

	var nilHandler *ErrorHandler
	got := nilHandler.WrapError(errors.New("boom"), "noop")
	assert.Equal(t, ErrorCodeInternalError, got.Code)
}

func TestWriteErrorResponse(t *testing.T) {
	handler := NewErrorHandler(zaptest.NewLogger(t))

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"service error", NewInvalidVINError("123"), http.StatusBadRequest, "INVALID_VIN"},
		{"provider error", &provider.Error{Provider: "claude", StatusCode: 429, Kind: provider.ErrRateLimited}, http.StatusTooManyRequests, "TOO_MANY_REQUESTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.WriteErrorResponse(w, tt.err, "req_1")

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, "req_1", body.RequestID)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestLogError(t *testing.T) {
	handler := NewErrorHandler(zaptest.NewLogger(t))
	handler.LogError(NewBadRequestError("bad request", nil), "validating request")
	handler.LogError(errors.New("plain"), "validating request")
	handler.LogError(nil, "validating request")

	var nilHandler *ErrorHandler
	nilHandler.LogError(errors.New("plain"), "validating request")
}
