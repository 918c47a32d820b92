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

// Package resilience converts failures from the decoder, the LLM providers
// and the pricing tables into client-facing API errors.
package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/vin-valuation/internal/autodev"
	"github.com/your-org/vin-valuation/internal/pricing"
	"github.com/your-org/vin-valuation/internal/provider"
	"github.com/your-org/vin-valuation/internal/vehicle"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Details   []string  `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	// Client errors (4xx)
	ErrorCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrorCodeInvalidVIN      ErrorCode = "INVALID_VIN"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodePaymentRequired ErrorCode = "PAYMENT_REQUIRED"
	ErrorCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrorCodeUnknownModel    ErrorCode = "UNKNOWN_MODEL"

	// Server errors (5xx)
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout            ErrorCode = "TIMEOUT"
	ErrorCodeDependencyFailure  ErrorCode = "DEPENDENCY_FAILURE"
)

// ServiceError is an error with the status and code to report to clients.
type ServiceError struct {
	Message    string
	Code       ErrorCode
	StatusCode int
	Details    []string
	Internal   error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// ToErrorResponse renders e for the given request.
func (e *ServiceError) ToErrorResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		Success:   false,
		Error:     e.Message,
		Code:      string(e.Code),
		Details:   e.Details,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

// WithDetails attaches per-field messages, typically validation failures.
func (e *ServiceError) WithDetails(details ...string) *ServiceError {
	e.Details = append(e.Details, details...)
	return e
}

// NewServiceError creates a ServiceError.
func NewServiceError(message string, code ErrorCode, statusCode int, internal error) *ServiceError {
	return &ServiceError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// NewBadRequestError creates a 400 error.
func NewBadRequestError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeBadRequest, http.StatusBadRequest, internal)
}

// NewInvalidVINError creates a 400 error for a malformed VIN.
func NewInvalidVINError(vin string) *ServiceError {
	return NewServiceError(
		fmt.Sprintf("Invalid VIN %q: expected 17 characters excluding I, O and Q", vin),
		ErrorCodeInvalidVIN, http.StatusBadRequest, nil)
}

// NewNotFoundError creates a 404 error.
func NewNotFoundError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeNotFound, http.StatusNotFound, internal)
}

// NewInternalError creates a 500 error.
func NewInternalError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeInternalError, http.StatusInternalServerError, internal)
}

// NewServiceUnavailableError creates a 503 error.
func NewServiceUnavailableError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeServiceUnavailable, http.StatusServiceUnavailable, internal)
}

// NewTimeoutError creates a 504 error.
func NewTimeoutError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeTimeout, http.StatusGatewayTimeout, internal)
}

// NewDependencyFailureError creates a 502 error.
func NewDependencyFailureError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeDependencyFailure, http.StatusBadGateway, internal)
}

// NewTooManyRequestsError creates a 429 error.
func NewTooManyRequestsError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeTooManyRequests, http.StatusTooManyRequests, internal)
}

// ErrorHandler classifies errors and writes them as JSON.
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates an ErrorHandler. A nil logger discards output.
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger}
}

// WrapError converts err into a ServiceError. Errors that already are
// ServiceErrors are returned unchanged.
func (eh *ErrorHandler) WrapError(err error, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if AsServiceError(err, &serviceErr) {
		return serviceErr
	}

	serviceErr = classify(err, operation)
	if eh != nil {
		eh.logger.Error("Operation failed",
			zap.String("operation", operation),
			zap.Error(err),
			zap.String("user_message", serviceErr.Message),
			zap.String("error_code", string(serviceErr.Code)))
	}
	return serviceErr
}

// AsServiceError reports whether err wraps a ServiceError and stores it in target.
func AsServiceError(err error, target **ServiceError) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}

func classify(err error, operation string) *ServiceError {
	switch {
	case errors.Is(err, vehicle.ErrInvalidVIN):
		return NewServiceError(err.Error(), ErrorCodeInvalidVIN, http.StatusBadRequest, err)
	case errors.Is(err, vehicle.ErrInvalidCondition), errors.Is(err, vehicle.ErrInvalidMileage):
		return NewBadRequestError(err.Error(), err)
	case errors.Is(err, autodev.ErrPaymentRequired):
		return NewServiceError(autodev.ErrPaymentRequired.Error(), ErrorCodePaymentRequired, http.StatusPaymentRequired, err)
	case errors.Is(err, autodev.ErrRateLimited), errors.Is(err, provider.ErrRateLimited):
		return NewTooManyRequestsError("Too many requests to an upstream service. Please wait a moment and try again.", err)
	case errors.Is(err, autodev.ErrInvalidRequest):
		return NewBadRequestError("The VIN decoder rejected the request. Please check the VIN and try again.", err)
	case errors.Is(err, provider.ErrUnknownProvider):
		return NewBadRequestError(err.Error(), err)
	case errors.Is(err, pricing.ErrUnknownModel):
		return NewServiceError(err.Error(), ErrorCodeUnknownModel, http.StatusBadRequest, err)
	case errors.Is(err, autodev.ErrInvalidAPIKey), errors.Is(err, provider.ErrInvalidAPIKey):
		return NewDependencyFailureError("An upstream service rejected the configured credentials.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError("The operation is taking longer than expected. Please try again.", err)
	case errors.Is(err, autodev.ErrDecodeFailed):
		return NewDependencyFailureError("Failed to decode VIN. Please try again later.", err)
	case errors.Is(err, provider.ErrInvalidRequest),
		errors.Is(err, provider.ErrGenerationFailed),
		errors.Is(err, provider.ErrEmptyResponse):
		return NewDependencyFailureError("The AI valuation service failed to produce a valuation.", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return NewTimeoutError("The operation is taking longer than expected. Please try again.", err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return NewDependencyFailureError("Unable to connect to an upstream service. Please try again later.", err)
	}
	return NewInternalError(fmt.Sprintf("An error occurred while %s. Please try again.", operation), err)
}

// WriteErrorResponse writes err as a JSON error body.
func (eh *ErrorHandler) WriteErrorResponse(w http.ResponseWriter, err error, requestID string) {
	var serviceErr *ServiceError
	if !AsServiceError(err, &serviceErr) {
		serviceErr = eh.WrapError(err, "processing request")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serviceErr.StatusCode)

	if encErr := json.NewEncoder(w).Encode(serviceErr.ToErrorResponse(requestID)); encErr != nil && eh != nil {
		eh.logger.Error("Failed to encode error response", zap.Error(encErr))
	}
}

// LogError logs err with its classification.
func (eh *ErrorHandler) LogError(err error, operation string, fields ...zap.Field) {
	if err == nil || eh == nil {
		return
	}

	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	logFields = append(logFields, fields...)

	var serviceErr *ServiceError
	if AsServiceError(err, &serviceErr) {
		logFields = append(logFields,
			zap.String("error_code", string(serviceErr.Code)),
			zap.Int("status_code", serviceErr.StatusCode))
	}

	eh.logger.Error("Operation failed", logFields...)
}
