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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/vin-valuation/internal/appraisal"
	"github.com/your-org/vin-valuation/internal/prompt"
	"github.com/your-org/vin-valuation/internal/resilience"
	"github.com/your-org/vin-valuation/internal/usage"
	"github.com/your-org/vin-valuation/internal/valuation"
	"github.com/your-org/vin-valuation/internal/vehicle"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"

	defaultUsageLimit = 20
	maxUsageLimit     = 500
)

// ValuationRequest is the body of the valuation and consensus routes.
type ValuationRequest struct {
	VIN       string `json:"vin" binding:"required"`
	Condition string `json:"condition"`
	// Mileage accepts a number or a numeric string.
	Mileage   any                   `json:"mileage"`
	Provider  string                `json:"provider"`
	Benchmark *valuation.Benchmark  `json:"benchmark"`
	Market    *prompt.MarketContext `json:"market_context"`
}

// DecodeRequest is the body of the VIN decode route.
type DecodeRequest struct {
	VIN string `json:"vin" binding:"required"`
}

// CostEstimateRequest prices a prompt, explicit token counts, or a typical
// valuation for a condition, in that order of precedence.
type CostEstimateRequest struct {
	Model          string   `json:"model" binding:"required"`
	Prompt         string   `json:"prompt"`
	InputTokens    *int     `json:"input_tokens"`
	OutputTokens   *int     `json:"output_tokens"`
	CachedFraction *float64 `json:"cached_fraction"`
	Condition      string   `json:"condition"`
}

// toAppraisal validates the request the way clients expect: VIN, then
// condition, then mileage.
func (r ValuationRequest) toAppraisal(requestID string) (appraisal.Request, error) {
	vin, err := vehicle.ValidateVIN(r.VIN)
	if err != nil {
		return appraisal.Request{}, resilience.NewInvalidVINError(r.VIN)
	}

	condition, err := vehicle.ParseCondition(r.Condition)
	if err != nil {
		return appraisal.Request{}, resilience.NewBadRequestError("Invalid condition", err).
			WithDetails("Condition must be one of: excellent, good, fair, poor")
	}

	var mileage *int
	if r.Mileage != nil {
		m, err := parseMileage(r.Mileage)
		if err != nil || m < 0 || m > vehicle.MaxMileage {
			return appraisal.Request{}, resilience.NewBadRequestError("Invalid mileage", err).
				WithDetails("Mileage must be a number between 0 and 1,000,000")
		}
		mileage = &m
	}

	return appraisal.Request{
		RequestID: requestID,
		VIN:       vin,
		Condition: condition,
		Mileage:   mileage,
		Provider:  r.Provider,
		Benchmark: r.Benchmark,
		Market:    r.Market,
	}, nil
}

// parseMileage accepts whole numbers and base-10 integer strings.
func parseMileage(v any) (int, error) {
	switch m := v.(type) {
	case string:
		return strconv.Atoi(strings.TrimSpace(m))
	case json.Number:
		return parseMileage(m.String())
	case float64:
		if m != math.Trunc(m) || math.Abs(m) > math.MaxInt32 {
			return 0, fmt.Errorf("mileage %v is not a whole number", m)
		}
		return int(m), nil
	case int:
		return m, nil
	case int64:
		return int(m), nil
	default:
		return 0, fmt.Errorf("unsupported mileage type %T", v)
	}
}

func setupRouter(a *app) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(a.logger))
	router.Use(timeoutMiddleware(a.cfg.Server.RequestTimeout))

	router.NoRoute(func(c *gin.Context) {
		a.errors.WriteErrorResponse(c.Writer,
			resilience.NewNotFoundError("Route "+c.Request.Method+" "+c.Request.URL.Path+" not found", nil),
			requestID(c))
	})

	api := router.Group("/api")
	api.GET("/health", a.health.Handler())
	api.POST("/valuation", a.handleValuation)
	api.POST("/valuation/consensus", a.handleConsensus)
	api.POST("/vin/decode", a.handleDecode)
	api.POST("/cost/estimate", a.handleCostEstimate)
	api.GET("/pricing/models", a.handlePricingModels)
	api.GET("/usage", a.handleUsage)

	return router
}

// requestIDMiddleware tags each request with "req_" and eight hex digits,
// or keeps the caller's X-Request-ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = "req_" + uuid.New().String()[:8]
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request completed",
			zap.String("request_id", requestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)))
	}
}

func timeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func (a *app) fail(c *gin.Context, err error, operation string) {
	serviceErr := a.errors.WrapError(err, operation)
	c.AbortWithStatusJSON(serviceErr.StatusCode, serviceErr.ToErrorResponse(requestID(c)))
}

func bindError(err error) error {
	return resilience.NewBadRequestError("Invalid request format", err).WithDetails(err.Error())
}

func (a *app) handleValuation(c *gin.Context) {
	var body ValuationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		a.fail(c, bindError(err), "parsing valuation request")
		return
	}
	req, err := body.toAppraisal(requestID(c))
	if err != nil {
		a.fail(c, err, "validating valuation request")
		return
	}

	report, err := a.service.Appraise(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err, "generating valuation")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (a *app) handleConsensus(c *gin.Context) {
	var body ValuationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		a.fail(c, bindError(err), "parsing consensus request")
		return
	}
	req, err := body.toAppraisal(requestID(c))
	if err != nil {
		a.fail(c, err, "validating consensus request")
		return
	}

	result, err := a.service.Consensus(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err, "generating consensus valuation")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"request_id": requestID(c),
		"consensus":  result,
	})
}

func (a *app) handleDecode(c *gin.Context) {
	var body DecodeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		a.fail(c, bindError(err), "parsing decode request")
		return
	}

	result, err := a.service.Decode(c.Request.Context(), body.VIN)
	if err != nil {
		a.fail(c, err, "decoding VIN")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"vehicle": result.Vehicle,
		"raw":     result.Raw,
	})
}

func (a *app) handleCostEstimate(c *gin.Context) {
	var body CostEstimateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		a.fail(c, bindError(err), "parsing cost request")
		return
	}

	cached := a.cfg.Valuation.CachedFraction
	if body.CachedFraction != nil {
		cached = *body.CachedFraction
		if cached < 0 || cached > 1 {
			a.fail(c, resilience.NewBadRequestError("cached_fraction must be between 0 and 1", nil), "validating cost request")
			return
		}
	}

	switch {
	case body.Prompt != "":
		estimate, err := a.estimator.EstimateBeforeCall(body.Model, body.Prompt)
		if err != nil {
			a.fail(c, err, "estimating cost")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "estimate": estimate})

	case body.InputTokens != nil || body.OutputTokens != nil:
		var in, out int
		if body.InputTokens != nil {
			in = *body.InputTokens
		}
		if body.OutputTokens != nil {
			out = *body.OutputTokens
		}
		if in < 0 || out < 0 {
			a.fail(c, resilience.NewBadRequestError("token counts must not be negative", nil), "validating cost request")
			return
		}
		breakdown, err := a.estimator.Cost(body.Model, in, out, cached)
		if err != nil {
			a.fail(c, err, "estimating cost")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "cost": breakdown})

	default:
		condition, err := vehicle.ParseCondition(body.Condition)
		if err != nil {
			a.fail(c, err, "validating cost request")
			return
		}
		breakdown, err := a.estimator.EstimateValuationCost(body.Model, string(condition), cached)
		if err != nil {
			a.fail(c, err, "estimating cost")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "condition": condition, "cost": breakdown})
	}
}

func (a *app) handlePricingModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"models":     a.estimator.Table().Models(),
		"comparison": a.estimator.CompareModels(a.cfg.Valuation.CachedFraction),
	})
}

func (a *app) handleUsage(c *gin.Context) {
	if a.ledger == nil {
		a.fail(c, resilience.NewServiceUnavailableError("Usage ledger is disabled", nil), "reading usage")
		return
	}

	limit := defaultUsageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxUsageLimit {
			a.fail(c, resilience.NewBadRequestError("limit must be between 1 and 500", err), "reading usage")
			return
		}
		limit = n
	}

	summary, err := a.ledger.Summary()
	if err != nil {
		if errors.Is(err, usage.ErrReportingUnsupported) {
			err = resilience.NewServiceUnavailableError("Usage reporting requires sqlite storage", err)
		}
		a.fail(c, err, "reading usage")
		return
	}
	recent, err := a.ledger.Recent(limit)
	if err != nil {
		a.fail(c, err, "reading usage")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary,
		"recent":  recent,
	})
}
