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

// Package valuation parses AI price opinions, sanity-checks them against the
// vehicle, and reconciles two opinions into a consensus.
package valuation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// ErrNoJSON is returned when a model reply contains no JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

// Keyword sets behind the capability flags. Matching is case-insensitive.
var (
	EfficiencyKeywords        = []string{"efficiency"}
	EnthusiastPremiumKeywords = []string{"enthusiast"}
)

// Amount is a dollar figure that tolerates models quoting numbers as strings
// ("18,500", "$21000").
type Amount float64

// UnmarshalJSON accepts JSON numbers and numeric strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*a = 0
		return nil
	}
	if s, ok := raw.(string); ok {
		raw = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
		if raw == "" {
			*a = 0
			return nil
		}
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", string(data), err)
	}
	*a = Amount(f)
	return nil
}

// Text is a narrative field. Models sometimes answer with an object or list
// instead of a sentence; those are kept as compact JSON.
type Text string

// UnmarshalJSON accepts any JSON value.
func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = ""
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*t = Text(buf.String())
	return nil
}

// PriceBand is one price perspective, e.g. retail.
type PriceBand struct {
	Min             Amount  `json:"min"`
	Max             Amount  `json:"max"`
	SuggestedPrice  *Amount `json:"suggested_ai_price,omitempty"`
	Description     Text    `json:"description,omitempty"`
	MarketAnalysis  Text    `json:"market_analysis,omitempty"`
	ConfidenceLevel Text    `json:"confidence_level,omitempty"`
}

// UnmarshalJSON also accepts the short "desc" key used by compact prompts.
func (b *PriceBand) UnmarshalJSON(data []byte) error {
	type plain PriceBand
	var wire struct {
		plain
		Desc Text `json:"desc"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*b = PriceBand(wire.plain)
	if b.Description == "" {
		b.Description = wire.Desc
	}
	return nil
}

// Midpoint is (min+max)/2.
func (b *PriceBand) Midpoint() float64 {
	return (float64(b.Min) + float64(b.Max)) / 2
}

// Suggested returns the model's point price, falling back to the midpoint.
func (b *PriceBand) Suggested() float64 {
	if b.SuggestedPrice != nil && *b.SuggestedPrice > 0 {
		return float64(*b.SuggestedPrice)
	}
	return b.Midpoint()
}

// MarketValues holds the four standard price perspectives. A nil band means
// the model did not provide it.
type MarketValues struct {
	Retail       *PriceBand `json:"retail_value,omitempty"`
	PrivateParty *PriceBand `json:"private_party_value,omitempty"`
	TradeIn      *PriceBand `json:"trade_in_value,omitempty"`
	Auction      *PriceBand `json:"auction_value,omitempty"`
}

// PerformanceFactors are the model's narrative on value drivers.
type PerformanceFactors struct {
	EngineAssessment       Text `json:"engine_assessment,omitempty"`
	DrivetrainImpact       Text `json:"drivetrain_impact,omitempty"`
	TransmissionPreference Text `json:"transmission_preference,omitempty"`
	FuelEconomyImpact      Text `json:"fuel_economy_impact,omitempty"`
}

// Estimate is an AI-produced price opinion.
type Estimate struct {
	MarketValues         MarketValues       `json:"market_values"`
	Reasoning            any                `json:"ai_reasoning,omitempty"`
	KeyInsights          any                `json:"key_insights,omitempty"`
	DetailedAdjustments  any                `json:"detailed_adjustments,omitempty"`
	PerformanceFactors   PerformanceFactors `json:"performance_factors"`
	MarketAnalysis       any                `json:"market_analysis,omitempty"`
	RiskFactors          any                `json:"risk_factors,omitempty"`
	Recommendations      any                `json:"recommendations,omitempty"`
	ConfidenceAssessment any                `json:"confidence_assessment,omitempty"`

	// Derived by ParseEstimate from the narrative fields.
	MentionsEfficiency        bool `json:"-"`
	MentionsEnthusiastPremium bool `json:"-"`
}

// HasRetail reports whether a usable retail band is present.
func (e *Estimate) HasRetail() bool {
	return e != nil && e.MarketValues.Retail != nil
}

// ExtractJSON returns the span from the first '{' to the last '}' of raw.
func ExtractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// ParseEstimate extracts and decodes the JSON object embedded in a model
// reply, then derives the capability flags. Callers fall back to the raw
// text when it fails.
func ParseEstimate(raw string) (*Estimate, error) {
	body, ok := ExtractJSON(raw)
	if !ok {
		return nil, ErrNoJSON
	}

	var est Estimate
	if err := json.Unmarshal([]byte(body), &est); err != nil {
		return nil, fmt.Errorf("failed to decode valuation JSON: %w", err)
	}

	est.MentionsEfficiency = mentionsAny(string(est.PerformanceFactors.FuelEconomyImpact), EfficiencyKeywords)
	est.MentionsEnthusiastPremium = mentionsAny(string(est.PerformanceFactors.TransmissionPreference), EnthusiastPremiumKeywords)

	return &est, nil
}

func mentionsAny(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
