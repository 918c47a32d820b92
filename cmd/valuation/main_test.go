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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/vin-valuation/internal/autodev"
	"github.com/your-org/vin-valuation/internal/config"
	"github.com/your-org/vin-valuation/internal/pricing"
	"github.com/your-org/vin-valuation/internal/provider"
	"github.com/your-org/vin-valuation/internal/resilience"
	"github.com/your-org/vin-valuation/internal/usage"
	"github.com/your-org/vin-valuation/internal/vehicle"
)

const testVIN = "JF1GR8H6XBL831881"

const decodedPayload = `{
  "years": [{"year": 2011, "styles": [{"name": "WRX STI 4dr Hatchback AWD", "trim": "WRX STI"}]}],
  "make": {"name": "Subaru"},
  "model": {"name": "Impreza"},
  "engine": {"cylinder": 4, "size": 2.5, "horsepower": 305},
  "transmission": {"transmissionType": "MANUAL"},
  "categories": {"market": "Factory Tuner,High-Performance", "vehicleType": "Car"},
  "mpg": {"highway": "23", "city": "17"}
}`

const valuationReply = `{
  "market_values": {
    "retail_value": {"min": 19000, "max": 22000, "suggested_ai_price": 20500},
    "private_party_value": {"min": 16500, "max": 18500},
    "trade_in_value": {"min": 14000, "max": 15500}
  },
  "ai_reasoning": {"pricing_strategy": "Conservative"},
  "performance_factors": {"transmission_preference": "enthusiast manual"}
}`

type stubDecoder struct {
	err error
}

func (d stubDecoder) Decode(context.Context, string) (vehicle.Payload, error) {
	if d.err != nil {
		return nil, d.err
	}
	var p vehicle.Payload
	err := json.Unmarshal([]byte(decodedPayload), &p)
	return p, err
}

type stubProvider struct {
	name, model, reply string
	err                error
}

func (p stubProvider) Name() string  { return p.name }
func (p stubProvider) Model() string { return p.model }

func (p stubProvider) Valuate(context.Context, string) (*provider.Completion, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &provider.Completion{
		Provider: p.name,
		Model:    p.model,
		RawText:  p.reply,
		Usage:    &provider.Usage{InputTokens: 1000, OutputTokens: 1000},
	}, nil
}

type testEnv struct {
	app    *app
	router *gin.Engine
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "0", RequestTimeout: 5 * time.Second},
		AutoDev:   config.AutoDevConfig{APIKey: "autodev-key"},
		Claude:    config.LLMConfig{APIKey: "claude-key", Model: "claude-3-haiku-20240307"},
		Grok:      config.LLMConfig{APIKey: "grok-key", Model: "grok-4"},
		Valuation: config.ValuationConfig{Provider: config.ProviderClaude, ReferenceYear: 2025, AnnualMileage: 12000},
	}
}

func newTestEnv(t *testing.T, cfg *config.Config, decoder autodev.Decoder, withLedger bool, providers ...provider.Provider) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	if len(providers) == 0 {
		providers = []provider.Provider{
			stubProvider{name: provider.ClaudeName, model: "claude-3-haiku-20240307", reply: valuationReply},
			stubProvider{name: provider.GrokName, model: "grok-4", reply: valuationReply},
		}
	}

	var ledger *usage.Ledger
	if withLedger {
		var err error
		ledger, err = usage.NewLedger(usage.Config{
			StorageType: usage.StorageTypeSQLite,
			DBPath:      filepath.Join(t.TempDir(), "usage.db"),
		}, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ledger.Close() })
	}

	a, err := assemble(cfg, logger, decoder, provider.NewRegistry(providers...), pricing.NewEstimator(nil, logger), ledger)
	require.NoError(t, err)
	return &testEnv{app: a, router: setupRouter(a)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) resilience.ErrorResponse {
	t.Helper()
	var resp resilience.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestValuationRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, true)

	w := env.do(t, http.MethodPost, "/api/valuation", map[string]any{
		"vin":       strings.ToLower(testVIN),
		"condition": "excellent",
		"mileage":   "65000",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req_"))

	var report struct {
		Success  bool   `json:"success"`
		ReportID string `json:"report_id"`
		Service  string `json:"ai_service"`
		Vehicle  struct {
			VIN  string `json:"vin"`
			Make string `json:"make"`
		} `json:"vehicle"`
		Parameters struct {
			Condition string `json:"condition"`
		} `json:"valuation_parameters"`
		Summary struct {
			RecommendedPrice struct {
				Retail  float64 `json:"retail"`
				TradeIn float64 `json:"trade_in"`
			} `json:"recommended_price"`
			ConfidenceLevel string `json:"confidence_level"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Success)
	assert.True(t, strings.HasPrefix(report.ReportID, "DVai-"))
	assert.Equal(t, provider.ClaudeName, report.Service)
	assert.Equal(t, testVIN, report.Vehicle.VIN)
	assert.Equal(t, "Subaru", report.Vehicle.Make)
	assert.Equal(t, "excellent", report.Parameters.Condition)
	assert.Equal(t, 20500.0, report.Summary.RecommendedPrice.Retail)
	assert.Equal(t, 14750.0, report.Summary.RecommendedPrice.TradeIn)
	assert.Equal(t, "high", report.Summary.ConfidenceLevel)

	entries, err := env.app.ledger.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, usage.OperationValuation, entries[0].Operation)
	assert.Equal(t, testVIN, entries[0].VIN)
}

func TestValuationRouteRejectsInput(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, false)

	tests := []struct {
		name    string
		body    any
		code    resilience.ErrorCode
		message string
	}{
		{name: "malformed json", body: "{", code: resilience.ErrorCodeBadRequest, message: "Invalid request format"},
		{name: "missing vin", body: map[string]any{"condition": "good"}, code: resilience.ErrorCodeBadRequest},
		{name: "short vin", body: map[string]any{"vin": "ABC"}, code: resilience.ErrorCodeInvalidVIN, message: "Invalid VIN"},
		{name: "vin with letter O", body: map[string]any{"vin": "JF1GR8H6XBL83188O"}, code: resilience.ErrorCodeInvalidVIN},
		{name: "bad condition", body: map[string]any{"vin": testVIN, "condition": "mint"}, code: resilience.ErrorCodeBadRequest, message: "Invalid condition"},
		{name: "negative mileage", body: map[string]any{"vin": testVIN, "mileage": -5}, code: resilience.ErrorCodeBadRequest, message: "Invalid mileage"},
		{name: "mileage too high", body: map[string]any{"vin": testVIN, "mileage": 1000001}, code: resilience.ErrorCodeBadRequest, message: "Invalid mileage"},
		{name: "mileage not numeric", body: map[string]any{"vin": testVIN, "mileage": "lots"}, code: resilience.ErrorCodeBadRequest, message: "Invalid mileage"},
		{name: "mileage in hex", body: map[string]any{"vin": testVIN, "mileage": "0x100"}, code: resilience.ErrorCodeBadRequest, message: "Invalid mileage"},
		{name: "fractional mileage", body: map[string]any{"vin": testVIN, "mileage": 80000.9}, code: resilience.ErrorCodeBadRequest, message: "Invalid mileage"},
		{name: "mileage as bool", body: map[string]any{"vin": testVIN, "mileage": true}, code: resilience.ErrorCodeBadRequest, message: "Invalid mileage"},
		{name: "unknown provider", body: map[string]any{"vin": testVIN, "provider": "gemini"}, code: resilience.ErrorCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/valuation", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := decodeError(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, string(tt.code), resp.Code)
			assert.NotEmpty(t, resp.RequestID)
			if tt.message != "" {
				assert.Contains(t, resp.Error, tt.message)
			}
		})
	}
}

func TestParseMileage(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int
		wantErr bool
	}{
		{name: "whole number", in: 80000.0, want: 80000},
		{name: "numeric string", in: "65000", want: 65000},
		{name: "padded string", in: " 42000 ", want: 42000},
		{name: "leading zero", in: "080000", want: 80000},
		{name: "json number", in: json.Number("1200"), want: 1200},
		{name: "int", in: 7, want: 7},
		{name: "hex string", in: "0x100", wantErr: true},
		{name: "octal prefix", in: "0o17", wantErr: true},
		{name: "decimal string", in: "80000.5", wantErr: true},
		{name: "fractional number", in: 80000.9, wantErr: true},
		{name: "empty string", in: "", wantErr: true},
		{name: "bool", in: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMileage(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValuationRouteAcceptsLeadingZeroMileage(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, false)

	w := env.do(t, http.MethodPost, "/api/valuation", map[string]any{"vin": testVIN, "mileage": "080000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestValuationRouteUpstreamFailures(t *testing.T) {
	tests := []struct {
		name      string
		decoder   autodev.Decoder
		providers []provider.Provider
		status    int
		code      resilience.ErrorCode
	}{
		{
			name:    "decoder payment required",
			decoder: stubDecoder{err: &autodev.Error{StatusCode: http.StatusPaymentRequired, Kind: autodev.ErrPaymentRequired}},
			status:  http.StatusPaymentRequired,
			code:    resilience.ErrorCodePaymentRequired,
		},
		{
			name:    "decoder rate limited",
			decoder: stubDecoder{err: autodev.ErrRateLimited},
			status:  http.StatusTooManyRequests,
			code:    resilience.ErrorCodeTooManyRequests,
		},
		{
			name:    "provider generation failed",
			decoder: stubDecoder{},
			providers: []provider.Provider{
				stubProvider{name: provider.ClaudeName, model: "claude-3-haiku-20240307", err: provider.ErrGenerationFailed},
			},
			status: http.StatusBadGateway,
			code:   resilience.ErrorCodeDependencyFailure,
		},
		{
			name:    "provider timed out",
			decoder: stubDecoder{},
			providers: []provider.Provider{
				stubProvider{name: provider.ClaudeName, model: "claude-3-haiku-20240307", err: context.DeadlineExceeded},
			},
			status: http.StatusGatewayTimeout,
			code:   resilience.ErrorCodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(), tt.decoder, false, tt.providers...)
			w := env.do(t, http.MethodPost, "/api/valuation", map[string]any{"vin": testVIN})
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, string(tt.code), decodeError(t, w).Code)
		})
	}
}

func TestConsensusRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, true)

	w := env.do(t, http.MethodPost, "/api/valuation/consensus", map[string]any{"vin": testVIN, "condition": "good"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success   bool `json:"success"`
		Consensus struct {
			AgreementLevel float64 `json:"agreement_level"`
			Confidence     string  `json:"confidence"`
		} `json:"consensus"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.InDelta(t, 1.0, resp.Consensus.AgreementLevel, 1e-9)
	assert.Equal(t, "high", resp.Consensus.Confidence)

	summary, err := env.app.ledger.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Calls)
}

func TestConsensusRouteNeedsBothProviders(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, false,
		stubProvider{name: provider.ClaudeName, model: "claude-3-haiku-20240307", reply: valuationReply})

	w := env.do(t, http.MethodPost, "/api/valuation/consensus", map[string]any{"vin": testVIN})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecodeRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, false)

	w := env.do(t, http.MethodPost, "/api/vin/decode", map[string]any{"vin": testVIN})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool           `json:"success"`
		Vehicle vehicle.Record `json:"vehicle"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Subaru", resp.Vehicle.Make.Name)
	require.NotNil(t, resp.Vehicle.Year)
	assert.Equal(t, 2011, *resp.Vehicle.Year)

	w = env.do(t, http.MethodPost, "/api/vin/decode", map[string]any{"vin": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(resilience.ErrorCodeInvalidVIN), decodeError(t, w).Code)
}

func TestCostEstimateRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, false)

	t.Run("explicit tokens", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/cost/estimate", map[string]any{
			"model":         "claude-3-haiku-20240307",
			"input_tokens":  1000000,
			"output_tokens": 0,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Cost struct {
				TotalCost string `json:"total_cost"`
			} `json:"cost"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "0.25", resp.Cost.TotalCost)
	})

	t.Run("prompt", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/cost/estimate", map[string]any{
			"model":  "grok-4",
			"prompt": strings.Repeat("a", 380),
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Estimate struct {
				InputTokens int `json:"input_tokens"`
			} `json:"estimate"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 100, resp.Estimate.InputTokens)
	})

	t.Run("typical valuation", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/cost/estimate", map[string]any{"model": "grok-4", "condition": "fair"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"condition":"fair"`)
	})

	t.Run("unknown model", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/cost/estimate", map[string]any{"model": "gpt-99", "input_tokens": 10})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(resilience.ErrorCodeUnknownModel), decodeError(t, w).Code)
	})

	t.Run("cached fraction out of range", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/cost/estimate", map[string]any{"model": "grok-4", "cached_fraction": 1.5})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("negative tokens", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/cost/estimate", map[string]any{"model": "grok-4", "input_tokens": -1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPricingModelsRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, false)

	w := env.do(t, http.MethodGet, "/api/pricing/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Models     []pricing.Model `json:"models"`
		Comparison []any           `json:"comparison"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Models, pricing.DefaultTable().Len())
	assert.Len(t, resp.Comparison, pricing.DefaultTable().Len())
}

func TestUsageRoute(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), stubDecoder{}, false)
		w := env.do(t, http.MethodGet, "/api/usage", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, string(resilience.ErrorCodeServiceUnavailable), decodeError(t, w).Code)
	})

	t.Run("reports recorded calls", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), stubDecoder{}, true)
		for i := 0; i < 3; i++ {
			w := env.do(t, http.MethodPost, "/api/valuation", map[string]any{"vin": testVIN})
			require.Equal(t, http.StatusOK, w.Code)
		}

		w := env.do(t, http.MethodGet, "/api/usage?limit=2", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Summary usage.Summary `json:"summary"`
			Recent  []usage.Entry `json:"recent"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Summary.Calls)
		assert.Len(t, resp.Recent, 2)
	})

	t.Run("bad limit", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), stubDecoder{}, true)
		w := env.do(t, http.MethodGet, "/api/usage?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealthRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, true)
	w := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"ai_service":"claude"`)

	cfg := testConfig()
	cfg.AutoDev.APIKey = ""
	env = newTestEnv(t, cfg, stubDecoder{}, false)
	w = env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "auto.dev API key not configured")
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, false)

	req := httptest.NewRequest(http.MethodPost, "/api/valuation", strings.NewReader(`{"vin":"bad"}`))
	req.Header.Set("X-Request-ID", "req_custom01")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "req_custom01", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req_custom01", decodeError(t, w).RequestID)
}

func TestNoRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), stubDecoder{}, false)
	w := env.do(t, http.MethodGet, "/api/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, string(resilience.ErrorCodeNotFound), resp.Code)
	assert.Contains(t, resp.Error, "/api/unknown")
}

func TestNewProviders(t *testing.T) {
	logger := zaptest.NewLogger(t)

	cfg := testConfig()
	registry, err := newProviders(cfg, logger)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{provider.ClaudeName, provider.GrokName}, registry.Names())

	cfg.Grok.APIKey = ""
	registry, err = newProviders(cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{provider.ClaudeName}, registry.Names())

	cfg.Claude.APIKey = ""
	_, err = newProviders(cfg, logger)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("debug").String())
	assert.Equal(t, "warn", parseLevel("warn").String())
	assert.Equal(t, "error", parseLevel("error").String())
	assert.Equal(t, "info", parseLevel("verbose").String())
}
