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

package pricing

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// CharsPerToken is the empirical characters-per-token ratio for
	// technical automotive English. It is an approximation, not a tokenizer.
	CharsPerToken = "3.8"
	// AssumedOutputTokens is the reply size used for pre-flight estimates.
	AssumedOutputTokens = 1500
)

var (
	charsPerToken = decimal.RequireFromString(CharsPerToken)
	million       = decimal.NewFromInt(1_000_000)
)

// EstimateTokens approximates the token count of text as ceil(chars / 3.8).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(decimal.NewFromInt(int64(n)).Div(charsPerToken).Ceil().IntPart())
}

// CostBreakdown is the priced result of one request/response pair.
type CostBreakdown struct {
	Model              string           `json:"model"`
	Provider           string           `json:"provider"`
	InputTokens        int              `json:"input_tokens"`
	OutputTokens       int              `json:"output_tokens"`
	CachedFraction     float64          `json:"cached_fraction"`
	InputCost          decimal.Decimal  `json:"input_cost"`
	OutputCost         decimal.Decimal  `json:"output_cost"`
	TotalCost          decimal.Decimal  `json:"total_cost"`
	InputRate          decimal.Decimal  `json:"input_cost_per_1m"`
	CachedInputRate    *decimal.Decimal `json:"cached_input_cost_per_1m,omitempty"`
	EffectiveInputRate decimal.Decimal  `json:"effective_input_cost_per_1m"`
	OutputRate         decimal.Decimal  `json:"output_cost_per_1m"`
}

// PreflightEstimate is a budget estimate computed before calling a model.
type PreflightEstimate struct {
	Model               string          `json:"model"`
	InputTokens         int             `json:"input_tokens"`
	AssumedOutputTokens int             `json:"assumed_output_tokens"`
	EstimatedCost       decimal.Decimal `json:"estimated_cost"`
	Breakdown           CostBreakdown   `json:"breakdown"`
}

// TokenUsage carries provider-reported token counts.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UsageRecord describes one completed LLM call for logging and the usage ledger.
type UsageRecord struct {
	Timestamp             time.Time       `json:"timestamp"`
	Model                 string          `json:"model"`
	Provider              string          `json:"provider"`
	PromptChars           int             `json:"prompt_chars"`
	ResponseChars         int             `json:"response_chars"`
	EstimatedInputTokens  int             `json:"estimated_input_tokens"`
	EstimatedOutputTokens int             `json:"estimated_output_tokens"`
	ActualInputTokens     *int            `json:"actual_input_tokens,omitempty"`
	ActualOutputTokens    *int            `json:"actual_output_tokens,omitempty"`
	CharsPerToken         float64         `json:"chars_per_token"`
	EstimatedCost         decimal.Decimal `json:"estimated_cost"`
	Cost                  CostBreakdown   `json:"cost"`
}

// Estimator prices requests against a Table. It holds no mutable state and
// is safe for concurrent use.
type Estimator struct {
	table  *Table
	logger *zap.Logger
}

// NewEstimator creates an estimator. A nil table uses DefaultTable.
func NewEstimator(table *Table, logger *zap.Logger) *Estimator {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{table: table, logger: logger}
}

// Table returns the pricing table in use.
func (e *Estimator) Table() *Table {
	return e.table
}

func clampFraction(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Cost prices inputTokens and outputTokens for modelID. cachedFraction is the
// share of input tokens served from the prompt cache, clamped to [0,1]. Models
// with a dedicated cached rate bill that share at it; others apply the fraction
// as a uniform discount on the input rate. Unknown models return ErrUnknownModel.
func (e *Estimator) Cost(modelID string, inputTokens, outputTokens int, cachedFraction float64) (CostBreakdown, error) {
	model, err := e.table.Lookup(modelID)
	if err != nil {
		return CostBreakdown{}, err
	}

	fraction := clampFraction(cachedFraction)
	f := decimal.NewFromFloat(fraction)
	in := decimal.NewFromInt(int64(inputTokens))
	out := decimal.NewFromInt(int64(outputTokens))
	uncachedShare := decimal.NewFromInt(1).Sub(f)

	breakdown := CostBreakdown{
		Model:           model.ID,
		Provider:        model.Provider,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		CachedFraction:  fraction,
		InputRate:       model.InputCostPerMillion,
		CachedInputRate: model.CachedInputCostPerMillion,
		OutputRate:      model.OutputCostPerMillion,
	}

	if fraction > 0 && model.SupportsCachedRate() {
		cachedTokens := in.Mul(f)
		uncachedTokens := in.Mul(uncachedShare)
		breakdown.InputCost = cachedTokens.Mul(*model.CachedInputCostPerMillion).Div(million).
			Add(uncachedTokens.Mul(model.InputCostPerMillion).Div(million))
		breakdown.EffectiveInputRate = f.Mul(*model.CachedInputCostPerMillion).
			Add(uncachedShare.Mul(model.InputCostPerMillion))
	} else {
		breakdown.EffectiveInputRate = model.InputCostPerMillion.Mul(uncachedShare)
		breakdown.InputCost = in.Mul(breakdown.EffectiveInputRate).Div(million)
	}

	breakdown.OutputCost = out.Mul(model.OutputCostPerMillion).Div(million)
	breakdown.TotalCost = breakdown.InputCost.Add(breakdown.OutputCost)

	return breakdown, nil
}

// EstimateBeforeCall prices promptText with an assumed reply of
// AssumedOutputTokens. It is informational and never gates the real call.
func (e *Estimator) EstimateBeforeCall(modelID, promptText string) (PreflightEstimate, error) {
	inputTokens := EstimateTokens(promptText)
	breakdown, err := e.Cost(modelID, inputTokens, AssumedOutputTokens, 0)
	if err != nil {
		return PreflightEstimate{}, err
	}

	e.logger.Debug("Pre-flight cost estimate",
		zap.String("model", modelID),
		zap.Int("input_tokens", inputTokens),
		zap.Int("assumed_output_tokens", AssumedOutputTokens),
		zap.String("estimated_cost", breakdown.TotalCost.StringFixed(6)))

	return PreflightEstimate{
		Model:               modelID,
		InputTokens:         inputTokens,
		AssumedOutputTokens: AssumedOutputTokens,
		EstimatedCost:       breakdown.TotalCost,
		Breakdown:           breakdown,
	}, nil
}

// LogUsage prices a finished call. Provider-reported token counts are used
// for the cost when present; the character-based estimate is kept alongside.
func (e *Estimator) LogUsage(modelID, prompt, response string, actual *TokenUsage, cachedFraction float64) (UsageRecord, error) {
	estIn := EstimateTokens(prompt)
	estOut := EstimateTokens(response)

	estimated, err := e.Cost(modelID, estIn, estOut, cachedFraction)
	if err != nil {
		return UsageRecord{}, err
	}

	record := UsageRecord{
		Timestamp:             time.Now().UTC(),
		Model:                 modelID,
		Provider:              estimated.Provider,
		PromptChars:           utf8.RuneCountInString(prompt),
		ResponseChars:         utf8.RuneCountInString(response),
		EstimatedInputTokens:  estIn,
		EstimatedOutputTokens: estOut,
		EstimatedCost:         estimated.TotalCost,
		Cost:                  estimated,
	}

	if actual != nil && (actual.InputTokens > 0 || actual.OutputTokens > 0) {
		in, out := actual.InputTokens, actual.OutputTokens
		record.ActualInputTokens = &in
		record.ActualOutputTokens = &out
		if priced, err := e.Cost(modelID, in, out, cachedFraction); err == nil {
			record.Cost = priced
		}
	}

	if total := record.Cost.InputTokens + record.Cost.OutputTokens; total > 0 {
		record.CharsPerToken = float64(record.PromptChars+record.ResponseChars) / float64(total)
	}

	e.logger.Info("Token usage",
		zap.String("provider", record.Provider),
		zap.String("model", modelID),
		zap.Int("input_tokens", record.Cost.InputTokens),
		zap.Int("output_tokens", record.Cost.OutputTokens),
		zap.Bool("provider_reported", record.ActualInputTokens != nil),
		zap.String("cost", record.Cost.TotalCost.StringFixed(6)),
		zap.Float64("chars_per_token", record.CharsPerToken))

	return record, nil
}
