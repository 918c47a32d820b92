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
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Baseline token budget of one valuation request.
const (
	BaseValuationInputTokens  = 1500
	BaseValuationOutputTokens = 1000
)

// conditionMultipliers scale the token budget; rougher vehicles get longer prompts and replies.
var conditionMultipliers = map[string]decimal.Decimal{
	"excellent": decimal.RequireFromString("1.1"),
	"good":      decimal.NewFromInt(1),
	"fair":      decimal.NewFromInt(1),
	"poor":      decimal.RequireFromString("1.2"),
	"salvage":   decimal.RequireFromString("1.3"),
}

// Subscription price points used for margin analysis, USD per valuation.
var (
	ConsumerPrice   = decimal.RequireFromString("4.99")
	DealerPrice     = decimal.RequireFromString("1.00")
	EnterprisePrice = decimal.RequireFromString("0.50")
)

func conditionMultiplier(condition string) decimal.Decimal {
	if m, ok := conditionMultipliers[condition]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

func scaledTokens(base int, m decimal.Decimal) int {
	return int(decimal.NewFromInt(int64(base)).Mul(m).Round(0).IntPart())
}

// EstimateValuationCost prices a typical valuation request for condition.
func (e *Estimator) EstimateValuationCost(modelID, condition string, cachedFraction float64) (CostBreakdown, error) {
	m := conditionMultiplier(condition)
	return e.Cost(modelID,
		scaledTokens(BaseValuationInputTokens, m),
		scaledTokens(BaseValuationOutputTokens, m),
		cachedFraction)
}

// Margins are profit margins in percent at each price point.
type Margins struct {
	ConsumerPrice    decimal.Decimal `json:"consumer_pricing"`
	DealerPrice      decimal.Decimal `json:"dealer_pricing"`
	EnterprisePrice  decimal.Decimal `json:"enterprise_pricing"`
	ConsumerMargin   decimal.Decimal `json:"profit_margin_consumer"`
	DealerMargin     decimal.Decimal `json:"profit_margin_dealer"`
	EnterpriseMargin decimal.Decimal `json:"profit_margin_enterprise"`
}

// Projection is a monthly spend forecast for one model.
type Projection struct {
	Model             string          `json:"model"`
	RequestsPerMonth  int             `json:"requests_per_month"`
	CachedFraction    float64         `json:"cached_fraction"`
	AvgCostPerRequest decimal.Decimal `json:"avg_cost_per_request"`
	MonthlyCost       decimal.Decimal `json:"total_monthly_cost"`
	DailyCost         decimal.Decimal `json:"cost_per_day"`
	AnnualCost        decimal.Decimal `json:"annual_cost"`
	Margins           Margins         `json:"roi_analysis"`
}

func margin(price, cost decimal.Decimal) decimal.Decimal {
	return price.Sub(cost).Div(price).Mul(decimal.NewFromInt(100))
}

// ProjectMonthly forecasts spend for requestsPerMonth good-condition valuations.
func (e *Estimator) ProjectMonthly(modelID string, requestsPerMonth int, cachedFraction float64) (Projection, error) {
	if requestsPerMonth < 0 {
		return Projection{}, fmt.Errorf("requests per month must not be negative: %d", requestsPerMonth)
	}

	perRequest, err := e.EstimateValuationCost(modelID, "good", cachedFraction)
	if err != nil {
		return Projection{}, err
	}

	avg := perRequest.TotalCost
	monthly := avg.Mul(decimal.NewFromInt(int64(requestsPerMonth)))

	return Projection{
		Model:             modelID,
		RequestsPerMonth:  requestsPerMonth,
		CachedFraction:    perRequest.CachedFraction,
		AvgCostPerRequest: avg,
		MonthlyCost:       monthly,
		DailyCost:         monthly.Div(decimal.NewFromInt(30)),
		AnnualCost:        monthly.Mul(decimal.NewFromInt(12)),
		Margins: Margins{
			ConsumerPrice:    ConsumerPrice,
			DealerPrice:      DealerPrice,
			EnterprisePrice:  EnterprisePrice,
			ConsumerMargin:   margin(ConsumerPrice, avg),
			DealerMargin:     margin(DealerPrice, avg),
			EnterpriseMargin: margin(EnterprisePrice, avg),
		},
	}, nil
}

// ScenarioCost compares cached and uncached pricing for one scenario.
type ScenarioCost struct {
	Condition        string          `json:"condition"`
	InputTokens      int             `json:"input_tokens"`
	OutputTokens     int             `json:"output_tokens"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	TotalCostNoCache decimal.Decimal `json:"total_cost_no_caching"`
	CachingSavings   decimal.Decimal `json:"caching_savings"`
	CostPer1000      decimal.Decimal `json:"estimated_cost_per_1000_requests"`
}

// ModelComparison collects the scenario costs of one model.
type ModelComparison struct {
	Model     string          `json:"model"`
	Provider  string          `json:"provider"`
	InputRate decimal.Decimal `json:"input_cost_per_1m"`
	OutRate   decimal.Decimal `json:"output_cost_per_1m"`
	Scenarios []ScenarioCost  `json:"scenarios"`
}

var comparisonConditions = []string{"good", "excellent", "poor"}

// CompareModels prices the good, excellent and poor scenarios for every model
// in the table, with and without caching.
func (e *Estimator) CompareModels(cachedFraction float64) []ModelComparison {
	thousand := decimal.NewFromInt(1000)
	var out []ModelComparison

	for _, model := range e.table.Models() {
		cmp := ModelComparison{
			Model:     model.ID,
			Provider:  model.Provider,
			InputRate: model.InputCostPerMillion,
			OutRate:   model.OutputCostPerMillion,
		}
		for _, condition := range comparisonConditions {
			cached, err := e.EstimateValuationCost(model.ID, condition, cachedFraction)
			if err != nil {
				continue
			}
			plain, err := e.EstimateValuationCost(model.ID, condition, 0)
			if err != nil {
				continue
			}
			cmp.Scenarios = append(cmp.Scenarios, ScenarioCost{
				Condition:        condition,
				InputTokens:      cached.InputTokens,
				OutputTokens:     cached.OutputTokens,
				TotalCost:        cached.TotalCost,
				TotalCostNoCache: plain.TotalCost,
				CachingSavings:   plain.TotalCost.Sub(cached.TotalCost),
				CostPer1000:      cached.TotalCost.Mul(thousand),
			})
		}
		out = append(out, cmp)
	}

	return out
}

// Alternative is a cheaper model than the current one.
type Alternative struct {
	Model          string          `json:"model"`
	Description    string          `json:"description,omitempty"`
	MonthlyCost    decimal.Decimal `json:"monthly_cost"`
	Savings        decimal.Decimal `json:"savings"`
	SavingsPercent decimal.Decimal `json:"savings_percent"`
	WithinBudget   bool            `json:"within_budget"`
}

// Optimization lists cheaper alternatives for a monthly workload.
type Optimization struct {
	CurrentModel       string          `json:"current_model"`
	CurrentMonthlyCost decimal.Decimal `json:"current_monthly_cost"`
	TargetBudget       decimal.Decimal `json:"target_budget"`
	CachedFraction     float64         `json:"cached_fraction"`
	Alternatives       []Alternative   `json:"alternatives"`
	Recommendations    []Alternative   `json:"recommendations"`
}

// Optimize finds models cheaper than currentModel for the workload. It returns
// up to five alternatives, cheapest first, and up to three that fit the budget.
func (e *Estimator) Optimize(currentModel string, requestsPerMonth int, budget decimal.Decimal, cachedFraction float64) (Optimization, error) {
	current, err := e.ProjectMonthly(currentModel, requestsPerMonth, cachedFraction)
	if err != nil {
		return Optimization{}, err
	}

	alternatives := []Alternative{}
	for _, model := range e.table.Models() {
		projection, err := e.ProjectMonthly(model.ID, requestsPerMonth, cachedFraction)
		if err != nil {
			return Optimization{}, err
		}
		if !projection.MonthlyCost.LessThan(current.MonthlyCost) {
			continue
		}
		savings := current.MonthlyCost.Sub(projection.MonthlyCost)
		alt := Alternative{
			Model:        model.ID,
			Description:  model.Description,
			MonthlyCost:  projection.MonthlyCost,
			Savings:      savings,
			WithinBudget: projection.MonthlyCost.LessThanOrEqual(budget),
		}
		if current.MonthlyCost.IsPositive() {
			alt.SavingsPercent = savings.Div(current.MonthlyCost).Mul(decimal.NewFromInt(100))
		}
		alternatives = append(alternatives, alt)
	}

	sort.SliceStable(alternatives, func(i, j int) bool {
		return alternatives[i].MonthlyCost.LessThan(alternatives[j].MonthlyCost)
	})

	result := Optimization{
		CurrentModel:       currentModel,
		CurrentMonthlyCost: current.MonthlyCost,
		TargetBudget:       budget,
		CachedFraction:     current.CachedFraction,
		Alternatives:       alternatives,
		Recommendations:    []Alternative{},
	}
	if len(result.Alternatives) > 5 {
		result.Alternatives = result.Alternatives[:5]
	}
	for _, alt := range alternatives {
		if alt.WithinBudget && len(result.Recommendations) < 3 {
			result.Recommendations = append(result.Recommendations, alt)
		}
	}

	return result, nil
}
