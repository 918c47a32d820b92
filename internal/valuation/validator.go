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

package valuation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/vin-valuation/internal/vehicle"
)

// Confidence is a coarse trust label.
type Confidence string

// Confidence levels, best first
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	}
	return 0
}

// Degrade returns the lower of c and limit. Confidence never improves.
func (c Confidence) Degrade(limit Confidence) Confidence {
	if limit.rank() < c.rank() {
		return limit
	}
	return c
}

// Rule thresholds
const (
	MaxRetailSpread         = 0.30
	MaxBenchmarkDeviation   = 0.25
	ClassicAgeYears         = 20
	ClassicMinRetail        = 50000
	NearNewAgeYears         = 3
	NearNewMinRetail        = 15000
	PerformanceMinHP        = 300
	PerformanceMinRetail    = 25000
	PerformanceMaxAgeYears  = 10
	LuxuryMaxAgeYears       = 5
	LuxuryMinRetail         = 20000
	EconomyMinAgeYears      = 8
	EconomyMaxRetail        = 25000
	EfficientCombinedMPG    = 35
	ThirstyCombinedMPG      = 20
	ThirstyMaxAgeYears      = 5
	BenchmarkAdjustmentLow  = 0.9
	BenchmarkAdjustmentHigh = 1.1
)

// Validation messages
const (
	MsgHierarchy             = "Value hierarchy incorrect: retail should > private party > trade-in"
	MsgSpread                = "Retail value spread seems too wide (>30%)"
	MsgClassic               = "High value for 20+ year old vehicle - verify if classic/collectible"
	MsgNearNew               = "Low value for near-new vehicle - check for issues"
	MsgPerformanceUndervalue = "High-performance vehicle may be undervalued"
	MsgLuxuryUndervalue      = "Luxury brand vehicle may be undervalued"
	MsgEconomyOvervalue      = "Economy brand vehicle may be overvalued for age"
	MsgEfficiencyIgnored     = "High fuel economy not adequately reflected in valuation"
	MsgPoorEconomy           = "Poor fuel economy may negatively impact value more than estimated"
	MsgManualPremium         = "Manual transmission premium for performance vehicle not reflected"
	MsgBenchmarkAdjustment   = "Adjusted to align with current market data"
)

// Brand tiers, lower case.
var (
	LuxuryBrands  = []string{"bmw", "mercedes-benz", "audi", "lexus", "acura", "infiniti"}
	EconomyBrands = []string{"nissan", "hyundai", "kia", "mitsubishi"}
)

// Benchmark is an external market reference.
type Benchmark struct {
	AveragePrice float64 `json:"average_price"`
}

// RetailRange is a suggested retail band.
type RetailRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Adjustment is the validator's suggested correction.
type Adjustment struct {
	Retail RetailRange `json:"suggested_retail"`
	Reason string      `json:"reason"`
}

// Result is the outcome of one validation pass. IsValid is false exactly
// when Errors is non-empty.
type Result struct {
	IsValid             bool        `json:"is_valid"`
	Errors              []string    `json:"errors"`
	Warnings            []string    `json:"warnings"`
	Confidence          Confidence  `json:"confidence"`
	SuggestedAdjustment *Adjustment `json:"suggested_adjustment,omitempty"`
}

func (r *Result) fail(msg string) {
	r.Errors = append(r.Errors, msg)
	r.IsValid = false
}

func (r *Result) warn(msg string, limit Confidence) {
	r.Warnings = append(r.Warnings, msg)
	r.Confidence = r.Confidence.Degrade(limit)
}

// Validator applies the plausibility rules to an Estimate. It is stateless
// apart from its reference year and safe for concurrent use.
type Validator struct {
	referenceYear func() int
}

// Option configures a Validator.
type Option func(*Validator)

// WithReferenceYear pins the year vehicle ages are computed against.
// Zero or negative keeps the current calendar year.
func WithReferenceYear(year int) Option {
	return func(v *Validator) {
		if year > 0 {
			v.referenceYear = func() int { return year }
		}
	}
}

// NewValidator creates a Validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{referenceYear: func() int { return time.Now().Year() }}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ReferenceYear returns the year ages are computed against.
func (v *Validator) ReferenceYear() int {
	return v.referenceYear()
}

// Validate runs every rule and accumulates findings. It never panics on
// missing data; rules whose inputs are absent are skipped. Each advisory
// warning caps confidence at medium; benchmark divergence caps it at low.
func (v *Validator) Validate(rec vehicle.Record, est *Estimate, benchmark *Benchmark) Result {
	result := Result{
		IsValid:    true,
		Errors:     []string{},
		Warnings:   []string{},
		Confidence: ConfidenceHigh,
	}

	var retail, privateParty, tradeIn *PriceBand
	if est != nil {
		retail = est.MarketValues.Retail
		privateParty = est.MarketValues.PrivateParty
		tradeIn = est.MarketValues.TradeIn
	}

	age, ageKnown := rec.Age(v.referenceYear())
	performance := rec.IsPerformance()

	// Hierarchy
	if retail != nil && privateParty != nil && tradeIn != nil {
		if retail.Min <= privateParty.Min || privateParty.Min <= tradeIn.Min {
			result.fail(MsgHierarchy)
		}
	}

	// Spread
	if retail != nil && retail.Min > 0 {
		spread := float64(retail.Max-retail.Min) / float64(retail.Min)
		if spread > MaxRetailSpread {
			result.warn(MsgSpread, ConfidenceMedium)
		}
	}

	// Age
	if retail != nil && ageKnown {
		if age > ClassicAgeYears && retail.Min > ClassicMinRetail {
			result.warn(MsgClassic, ConfidenceMedium)
		}
		if age < NearNewAgeYears && retail.Max < NearNewMinRetail {
			result.warn(MsgNearNew, ConfidenceMedium)
		}
	}

	// Performance undervaluation
	if retail != nil && ageKnown && performance && rec.Engine.HorsepowerHP != nil {
		if *rec.Engine.HorsepowerHP > PerformanceMinHP && retail.Max < PerformanceMinRetail && age < PerformanceMaxAgeYears {
			result.warn(MsgPerformanceUndervalue, ConfidenceMedium)
		}
	}

	// Benchmark divergence
	if retail != nil && benchmark != nil && benchmark.AveragePrice > 0 {
		avg := benchmark.AveragePrice
		if math.Abs(retail.Midpoint()-avg)/avg > MaxBenchmarkDeviation {
			result.warn(fmt.Sprintf("AI valuation differs significantly from market average ($%s)",
				strconv.FormatFloat(avg, 'f', -1, 64)), ConfidenceLow)
			result.SuggestedAdjustment = &Adjustment{
				Retail: RetailRange{
					Min: roundHalfUp(avg * BenchmarkAdjustmentLow),
					Max: roundHalfUp(avg * BenchmarkAdjustmentHigh),
				},
				Reason: MsgBenchmarkAdjustment,
			}
		}
	}

	// Brand tier
	if retail != nil && ageKnown {
		brand := strings.ToLower(strings.TrimSpace(rec.Make.Name))
		if containsString(LuxuryBrands, brand) && age < LuxuryMaxAgeYears && retail.Min < LuxuryMinRetail {
			result.warn(MsgLuxuryUndervalue, ConfidenceMedium)
		}
		if containsString(EconomyBrands, brand) && age > EconomyMinAgeYears && retail.Max > EconomyMaxRetail {
			result.warn(MsgEconomyOvervalue, ConfidenceMedium)
		}
	}

	// Fuel economy
	if combined, ok := rec.CombinedMPG(); ok {
		if combined > EfficientCombinedMPG && est != nil && !est.MentionsEfficiency {
			result.warn(MsgEfficiencyIgnored, ConfidenceMedium)
		}
		if combined < ThirstyCombinedMPG && est != nil && ageKnown && age < ThirstyMaxAgeYears && !performance {
			result.warn(MsgPoorEconomy, ConfidenceMedium)
		}
	}

	// Manual transmission premium
	if est != nil && rec.IsManual() && performance && !est.MentionsEnthusiastPremium {
		result.warn(MsgManualPremium, ConfidenceMedium)
	}

	return result
}

func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
