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

package appraisal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/your-org/vin-valuation/internal/pricing"
	"github.com/your-org/vin-valuation/internal/valuation"
	"github.com/your-org/vin-valuation/internal/vehicle"
)

const (
	// GeneratedBy identifies the report producer.
	GeneratedBy = "DriveValueAI API v2.0"
	// ReportIDPrefix starts every report ID.
	ReportIDPrefix = "DVai-"
)

// Report is the merged valuation returned to clients.
type Report struct {
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
	ReportID    string    `json:"report_id"`
	GeneratedBy string    `json:"generated_by"`
	AIService   string    `json:"ai_service"`
	Model       string    `json:"model"`

	Vehicle     VehicleInfo  `json:"vehicle"`
	Parameters  Parameters   `json:"valuation_parameters"`
	AIValuation *AIValuation `json:"ai_valuation,omitempty"`
	Summary     *Summary     `json:"summary,omitempty"`
	Cost        *Cost        `json:"cost,omitempty"`

	// Set instead of AIValuation when the reply held no usable JSON.
	RawAnalysis string `json:"raw_analysis,omitempty"`
	ParseError  string `json:"parse_error,omitempty"`
}

// VINValidation is the decoder's own VIN check.
type VINValidation struct {
	Valid      *bool  `json:"valid"`
	CheckDigit string `json:"check_digit,omitempty"`
	Checksum   *bool  `json:"checksum"`
	WMI        string `json:"wmi,omitempty"`
	SquishVIN  string `json:"squish_vin,omitempty"`
}

// VehicleInfo identifies the appraised vehicle.
type VehicleInfo struct {
	VIN           string        `json:"vin"`
	Year          *int          `json:"year"`
	Make          string        `json:"make"`
	Model         string        `json:"model"`
	Trim          string        `json:"trim"`
	BodyStyle     string        `json:"body_style"`
	VehicleType   string        `json:"vehicle_type"`
	Origin        string        `json:"origin"`
	FullStyle     string        `json:"full_style"`
	VINValidation VINValidation `json:"vin_validation"`
	Manufacturer  string        `json:"manufacturer"`
}

// Parameters echoes the valuation inputs.
type Parameters struct {
	Condition vehicle.Condition         `json:"condition"`
	Mileage   vehicle.MileageAssessment `json:"mileage"`
}

// ConfidenceMetrics combines the model's self-assessment with the validator.
type ConfidenceMetrics struct {
	OverallConfidence any              `json:"overall_confidence,omitempty"`
	ValidationResults valuation.Result `json:"validation_results"`
}

// AIValuation is the structured model answer.
type AIValuation struct {
	MarketValues          valuation.MarketValues       `json:"market_values"`
	Analysis              any                          `json:"analysis,omitempty"`
	KeyInsights           any                          `json:"key_insights,omitempty"`
	ValueAdjustments      any                          `json:"value_adjustments,omitempty"`
	PerformanceAssessment valuation.PerformanceFactors `json:"performance_assessment"`
	MarketIntelligence    any                          `json:"market_intelligence,omitempty"`
	RiskAnalysis          any                          `json:"risk_analysis,omitempty"`
	Recommendations       any                          `json:"recommendations,omitempty"`
	ConfidenceMetrics     ConfidenceMetrics            `json:"confidence_metrics"`
}

// RecommendedPrice holds one point price per perspective.
type RecommendedPrice struct {
	Retail       *float64 `json:"retail"`
	PrivateParty *float64 `json:"private_party"`
	TradeIn      *float64 `json:"trade_in"`
}

// Summary is the short form shown first in a UI.
type Summary struct {
	RecommendedPrice RecommendedPrice     `json:"recommended_price"`
	KeyHighlights    []string             `json:"key_highlights"`
	ConfidenceLevel  valuation.Confidence `json:"confidence_level"`
}

// Cost reports what the call was expected to cost and what it did cost.
type Cost struct {
	Preflight *pricing.PreflightEstimate `json:"preflight,omitempty"`
	Usage     *pricing.UsageRecord       `json:"usage,omitempty"`
}

func newReportID() string {
	return ReportIDPrefix + uuid.New().String()
}

func vehicleInfo(rec vehicle.Record) VehicleInfo {
	id := rec.Identification
	return VehicleInfo{
		VIN:         rec.VIN,
		Year:        rec.Year,
		Make:        rec.Make.Name,
		Model:       rec.Model.Name,
		Trim:        rec.Trim,
		BodyStyle:   rec.BodyStyle,
		VehicleType: rec.VehicleType,
		Origin:      rec.Origin,
		FullStyle:   rec.FullStyle,
		VINValidation: VINValidation{
			Valid:      id.VINValid,
			CheckDigit: id.CheckDigit,
			Checksum:   id.Checksum,
			WMI:        id.ManufacturerCode,
			SquishVIN:  id.SquishVIN,
		},
		Manufacturer: id.Manufacturer,
	}
}

func aiValuation(est *valuation.Estimate, result valuation.Result) *AIValuation {
	return &AIValuation{
		MarketValues:          est.MarketValues,
		Analysis:              est.Reasoning,
		KeyInsights:           est.KeyInsights,
		ValueAdjustments:      est.DetailedAdjustments,
		PerformanceAssessment: est.PerformanceFactors,
		MarketIntelligence:    est.MarketAnalysis,
		RiskAnalysis:          est.RiskFactors,
		Recommendations:       est.Recommendations,
		ConfidenceMetrics: ConfidenceMetrics{
			OverallConfidence: est.ConfidenceAssessment,
			ValidationResults: result,
		},
	}
}

func summarize(est *valuation.Estimate, result valuation.Result, mileage vehicle.MileageAssessment) *Summary {
	mv := est.MarketValues
	return &Summary{
		RecommendedPrice: RecommendedPrice{
			Retail:       suggested(mv.Retail),
			PrivateParty: suggested(mv.PrivateParty),
			TradeIn:      suggested(mv.TradeIn),
		},
		KeyHighlights: []string{
			mileageHighlight(mileage),
			"AI-powered valuation based on comprehensive market analysis",
			strategyHighlight(est),
		},
		ConfidenceLevel: result.Confidence,
	}
}

func suggested(b *valuation.PriceBand) *float64 {
	if b == nil {
		return nil
	}
	v := b.Suggested()
	return &v
}

func mileageHighlight(m vehicle.MileageAssessment) string {
	if m.Actual == nil || m.VariancePercent == nil {
		return "Standard mileage assumed"
	}
	variance := *m.VariancePercent
	if variance < 0 {
		variance = -variance
	}
	switch {
	case strings.Contains(m.Status, "below"):
		return fmt.Sprintf("%d%% below average mileage", variance)
	case strings.Contains(m.Status, "above"):
		return fmt.Sprintf("%d%% above average mileage", variance)
	}
	return "Average mileage for age"
}

func strategyHighlight(est *valuation.Estimate) string {
	strategy := cast.ToString(cast.ToStringMap(est.Reasoning)["pricing_strategy"])
	if strings.Contains(strings.ToLower(strategy), "aggressive") {
		return "Aggressive pricing strategy"
	}
	return "Conservative pricing strategy"
}
