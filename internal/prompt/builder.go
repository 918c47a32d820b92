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

// Package prompt builds the valuation prompt sent to the LLM providers.
package prompt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/vin-valuation/internal/vehicle"
)

// MarketContext is optional external listing data.
type MarketContext struct {
	AveragePrice float64 `json:"average_price"`
	MinPrice     float64 `json:"min_price,omitempty"`
	MaxPrice     float64 `json:"max_price,omitempty"`
	DaysOnMarket int     `json:"average_days_on_market,omitempty"`
	ListingCount int     `json:"listing_count,omitempty"`
	Trend        string  `json:"trend,omitempty"`
}

// Input holds everything the prompt mentions.
type Input struct {
	Vehicle       vehicle.Record
	Condition     vehicle.Condition
	Mileage       vehicle.MileageAssessment
	ReferenceYear int
	AnnualMileage int
	Market        *MarketContext
}

// BuildValuationPrompt renders the appraisal request for in.
func BuildValuationPrompt(in Input) string {
	rec := in.Vehicle
	condition := in.Condition
	if condition == "" {
		condition = vehicle.ConditionGood
	}
	referenceYear := in.ReferenceYear
	if referenceYear <= 0 {
		referenceYear = time.Now().Year()
	}
	annual := in.AnnualMileage
	if annual <= 0 {
		annual = vehicle.DefaultAnnualMileage
	}

	var b strings.Builder

	b.WriteString("You are an automotive appraiser. Provide a more accurate valuation than the baseline decoder data by applying current market knowledge.\n\n")

	b.WriteString("VEHICLE SPECIFICATIONS:\n")
	writeLine(&b, "Year", optionalInt(rec.Year))
	writeLine(&b, "Make", rec.Make.Name)
	writeLine(&b, "Model", rec.Model.Name)
	writeLine(&b, "Trim", rec.Trim)
	writeLine(&b, "Full Style", rec.FullStyle)
	writeLine(&b, "Engine", describeEngine(rec.Engine))
	writeLine(&b, "Transmission", describeTransmission(rec.Transmission))
	writeLine(&b, "Drivetrain", rec.DriveType)
	writeLine(&b, "Body Style", rec.BodyStyle)
	writeLine(&b, "Market Category", rec.MarketCategory)
	writeLine(&b, "EPA Class", rec.EPAClass)
	writeLine(&b, "Fuel Economy", describeFuelEconomy(rec))
	writeLine(&b, "Doors", optionalInt(rec.Doors))
	writeLine(&b, "Vehicle Type", rec.VehicleType)
	writeLine(&b, "VIN Pattern", orUnknown(rec.Identification.SquishVIN))
	writeLine(&b, "Condition", condition.Title())
	writeLine(&b, "Mileage", describeMileage(in.Mileage, annual))
	b.WriteString("\n")

	b.WriteString("BASELINE DATA (decoder, starting point only):\n")
	b.WriteString(pricingSection(rec.BaselinePricing))
	b.WriteString("\n\n")

	if m := in.Market; m != nil {
		b.WriteString("EXTERNAL MARKET CONTEXT:\n")
		writeLine(&b, "Average listing price", money(m.AveragePrice))
		writeLine(&b, "Price range", fmt.Sprintf("%s - %s", money(m.MinPrice), money(m.MaxPrice)))
		if m.DaysOnMarket > 0 {
			writeLine(&b, "Days on market", strconv.Itoa(m.DaysOnMarket))
		}
		if m.ListingCount > 0 {
			writeLine(&b, "Total listings", strconv.Itoa(m.ListingCount))
		}
		writeLine(&b, "Market trend", m.Trend)
		b.WriteString("\n")
	}

	b.WriteString("SPECIAL CONSIDERATIONS:\n")
	if age, ok := rec.Age(referenceYear); ok {
		writeLine(&b, "Vehicle age", fmt.Sprintf("%d years", age))
	}
	if rec.IsAllWheelDrive() {
		b.WriteString("- All-wheel or four-wheel drive affects regional demand\n")
	}
	if rec.IsManual() && rec.IsPerformance() {
		b.WriteString("- Manual gearbox in a performance model; assess the enthusiast premium\n")
	}
	if in.Mileage.Actual != nil && in.Mileage.Expected != nil {
		fmt.Fprintf(&b, "- Odometer %s miles vs %s expected; weight this heavily\n",
			thousands(*in.Mileage.Actual), thousands(*in.Mileage.Expected))
	}
	b.WriteString("\n")

	b.WriteString("Respond with JSON only, in exactly this shape (amounts in USD, numbers not strings):\n")
	b.WriteString(responseShape(condition))
	b.WriteString("\n")

	b.WriteString(`INSTRUCTIONS:
1. Keep retail above private party and private party above trade-in.
2. Keep each retail range within 30% of its minimum.
3. Explain in performance_factors.fuel_economy_impact how fuel efficiency affects value.
4. Explain in performance_factors.transmission_preference whether an enthusiast premium applies.
5. Say why your values differ from the baseline.
`)

	return b.String()
}

func responseShape(condition vehicle.Condition) string {
	band := func(label string) string {
		return fmt.Sprintf(`{"min": 0, "max": 0, "suggested_ai_price": 0, "description": "%s for %s condition", "confidence_level": "High/Medium/Low and reasoning"}`,
			label, condition)
	}
	return `{
  "market_values": {
    "retail_value": ` + band("Dealer retail range") + `,
    "private_party_value": ` + band("Private seller range") + `,
    "trade_in_value": ` + band("Dealer trade-in range") + `,
    "auction_value": ` + band("Wholesale auction range") + `
  },
  "ai_reasoning": {"primary_value_drivers": "", "market_position": "", "pricing_strategy": "aggressive, conservative or neutral and why"},
  "key_insights": [],
  "detailed_adjustments": {"mileage_impact": "", "condition_impact": "", "market_trend_adjustment": "", "total_adjustment": ""},
  "performance_factors": {"engine_assessment": "", "drivetrain_impact": "", "transmission_preference": "", "fuel_economy_impact": ""},
  "market_analysis": {"demand_level": "", "price_trend": "", "seasonal_factors": ""},
  "risk_factors": {"maintenance_costs": "", "reliability_outlook": "", "age_concerns": ""},
  "recommendations": {"selling_strategy": "", "timing_advice": "", "negotiation_points": ""},
  "confidence_assessment": {"data_quality": "", "valuation_accuracy": "high, medium or low"}
}
`
}

func pricingSection(p vehicle.BaselinePricing) string {
	var lines []string
	add := func(label string, v *float64) {
		if v != nil {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, money(*v)))
		}
	}
	add("Used Retail", p.Retail)
	add("Used Private Party", p.PrivateParty)
	add("Used Trade-In", p.TradeIn)
	add("Original MSRP", p.MSRP)
	if len(lines) == 0 {
		return "- No baseline pricing available"
	}
	return strings.Join(lines, "\n")
}

func describeEngine(e vehicle.Engine) string {
	var parts []string
	if e.DisplacementLiters != nil {
		parts = append(parts, strconv.FormatFloat(*e.DisplacementLiters, 'f', 1, 64)+"L")
	}
	if e.Cylinders != nil {
		parts = append(parts, fmt.Sprintf("%d-cylinder", *e.Cylinders))
	}
	if e.Turbocharged != nil && *e.Turbocharged {
		parts = append(parts, "turbocharged")
	}
	if e.HorsepowerHP != nil {
		parts = append(parts, fmt.Sprintf("%d hp", *e.HorsepowerHP))
	}
	if len(parts) == 0 {
		return vehicle.Unknown
	}
	return strings.Join(parts, " ")
}

func describeTransmission(t vehicle.Transmission) string {
	kind := string(t.Type)
	if kind == "" {
		kind = string(vehicle.TransmissionUnknown)
	}
	if t.Speeds != nil {
		return fmt.Sprintf("%d-speed %s", *t.Speeds, kind)
	}
	return kind
}

func describeFuelEconomy(rec vehicle.Record) string {
	combined, ok := rec.CombinedMPG()
	if !ok {
		return vehicle.Unknown
	}
	return fmt.Sprintf("%d/%d mpg (combined %s)",
		*rec.FuelEconomy.CityMPG, *rec.FuelEconomy.HighwayMPG,
		strconv.FormatFloat(combined, 'f', -1, 64))
}

func describeMileage(m vehicle.MileageAssessment, annual int) string {
	switch {
	case m.Actual != nil && m.VariancePercent != nil:
		direction := "AT"
		if strings.Contains(m.Status, "below") {
			direction = "BELOW"
		} else if strings.Contains(m.Status, "above") {
			direction = "ABOVE"
		}
		return fmt.Sprintf("%s miles (%s for age, %d%% %s average)",
			thousands(*m.Actual), m.Status, *m.VariancePercent, direction)
	case m.Actual != nil:
		return fmt.Sprintf("%s miles", thousands(*m.Actual))
	case m.Expected != nil:
		return fmt.Sprintf("~%s miles estimated (%s/year average)", thousands(*m.Expected), thousands(annual))
	}
	return "Unknown"
}

func writeLine(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "- %s: %s\n", label, orUnknown(value))
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return vehicle.Unknown
	}
	return s
}

func optionalInt(v *int) string {
	if v == nil {
		return vehicle.Unknown
	}
	return strconv.Itoa(*v)
}

func money(v float64) string {
	if v <= 0 {
		return vehicle.Unknown
	}
	return "$" + thousands(int(v+0.5))
}

// thousands formats n with comma separators.
func thousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
