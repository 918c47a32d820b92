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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vin-valuation/internal/vehicle"
)

const testReferenceYear = 2025

func intPtr(v int) *int { return &v }

func car(year int, brand string) vehicle.Record {
	return vehicle.Record{
		Year:         intPtr(year),
		Make:         vehicle.Named{Name: brand},
		Model:        vehicle.Named{Name: "Test"},
		Transmission: vehicle.Transmission{Type: vehicle.TransmissionAutomatic},
	}
}

func band(min, max float64) *PriceBand {
	return &PriceBand{Min: Amount(min), Max: Amount(max)}
}

func retailOnly(min, max float64) *Estimate {
	return &Estimate{MarketValues: MarketValues{Retail: band(min, max)}}
}

func fullEstimate() *Estimate {
	return &Estimate{MarketValues: MarketValues{
		Retail:       band(20000, 23000),
		PrivateParty: band(17000, 19000),
		TradeIn:      band(14000, 16000),
	}}
}

func newTestValidator() *Validator {
	return NewValidator(WithReferenceYear(testReferenceYear))
}

func TestConfidenceDegrade(t *testing.T) {
	assert.Equal(t, ConfidenceMedium, ConfidenceHigh.Degrade(ConfidenceMedium))
	assert.Equal(t, ConfidenceLow, ConfidenceMedium.Degrade(ConfidenceLow))
	assert.Equal(t, ConfidenceLow, ConfidenceLow.Degrade(ConfidenceMedium))
	assert.Equal(t, ConfidenceMedium, ConfidenceMedium.Degrade(ConfidenceHigh))
}

func TestReferenceYear(t *testing.T) {
	assert.Equal(t, testReferenceYear, newTestValidator().ReferenceYear())
	assert.Equal(t, time.Now().Year(), NewValidator().ReferenceYear())
	assert.Equal(t, time.Now().Year(), NewValidator(WithReferenceYear(0)).ReferenceYear())
}

func TestValidateCleanEstimate(t *testing.T) {
	result := newTestValidator().Validate(car(2015, "Honda"), fullEstimate(), nil)

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, ConfidenceHigh, result.Confidence)
	assert.Nil(t, result.SuggestedAdjustment)
}

func TestValidateHierarchy(t *testing.T) {
	tests := []struct {
		name  string
		est   *Estimate
		valid bool
	}{
		{"ordered", fullEstimate(), true},
		{"retail below private party", &Estimate{MarketValues: MarketValues{
			Retail: band(15000, 23000), PrivateParty: band(17000, 19000), TradeIn: band(14000, 16000),
		}}, false},
		{"private party equals trade-in", &Estimate{MarketValues: MarketValues{
			Retail: band(20000, 23000), PrivateParty: band(14000, 19000), TradeIn: band(14000, 16000),
		}}, false},
		{"trade-in missing skips rule", &Estimate{MarketValues: MarketValues{
			Retail: band(15000, 16000), PrivateParty: band(17000, 19000),
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newTestValidator().Validate(car(2015, "Honda"), tt.est, nil)
			assert.Equal(t, tt.valid, result.IsValid)
			if tt.valid {
				assert.Empty(t, result.Errors)
			} else {
				assert.Equal(t, []string{MsgHierarchy}, result.Errors)
			}
		})
	}
}

func TestValidateSpreadBoundary(t *testing.T) {
	result := newTestValidator().Validate(car(2015, "Honda"), retailOnly(10000, 13000), nil)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, ConfidenceHigh, result.Confidence)

	result = newTestValidator().Validate(car(2015, "Honda"), retailOnly(10000, 13001), nil)
	assert.Equal(t, []string{MsgSpread}, result.Warnings)
	assert.Equal(t, ConfidenceMedium, result.Confidence)
	assert.True(t, result.IsValid)
}

func TestValidateAgeRules(t *testing.T) {
	result := newTestValidator().Validate(car(2000, "Porsche"), retailOnly(60000, 70000), nil)
	assert.Contains(t, result.Warnings, MsgClassic)
	assert.Equal(t, ConfidenceMedium, result.Confidence)

	result = newTestValidator().Validate(car(2024, "Honda"), retailOnly(10000, 12000), nil)
	assert.Contains(t, result.Warnings, MsgNearNew)
	assert.Equal(t, ConfidenceMedium, result.Confidence)

	noYear := car(2024, "Honda")
	noYear.Year = nil
	result = newTestValidator().Validate(noYear, retailOnly(10000, 12000), nil)
	assert.Empty(t, result.Warnings)
}

func TestValidatePerformanceUndervalued(t *testing.T) {
	rec := car(2020, "Subaru")
	rec.MarketCategory = "Factory Tuner,Performance"
	rec.Engine.HorsepowerHP = intPtr(305)

	result := newTestValidator().Validate(rec, retailOnly(20000, 24000), nil)
	assert.Contains(t, result.Warnings, MsgPerformanceUndervalue)
	assert.Equal(t, ConfidenceMedium, result.Confidence)

	rec.Engine.HorsepowerHP = intPtr(300)
	result = newTestValidator().Validate(rec, retailOnly(20000, 24000), nil)
	assert.NotContains(t, result.Warnings, MsgPerformanceUndervalue)
}

func TestValidateBenchmark(t *testing.T) {
	result := newTestValidator().Validate(car(2015, "Honda"), retailOnly(20000, 24000), &Benchmark{AveragePrice: 30000})

	assert.Equal(t, []string{"AI valuation differs significantly from market average ($30000)"}, result.Warnings)
	assert.Equal(t, ConfidenceLow, result.Confidence)
	require.NotNil(t, result.SuggestedAdjustment)
	assert.Equal(t, RetailRange{Min: 27000, Max: 33000}, result.SuggestedAdjustment.Retail)
	assert.Equal(t, MsgBenchmarkAdjustment, result.SuggestedAdjustment.Reason)

	result = newTestValidator().Validate(car(2015, "Honda"), retailOnly(20000, 24000), &Benchmark{AveragePrice: 25000})
	assert.Empty(t, result.Warnings)
	assert.Nil(t, result.SuggestedAdjustment)

	result = newTestValidator().Validate(car(2015, "Honda"), retailOnly(20000, 24000), &Benchmark{})
	assert.Empty(t, result.Warnings)
}

func TestValidateBenchmarkRounding(t *testing.T) {
	result := newTestValidator().Validate(car(2015, "Honda"), retailOnly(1000, 1100), &Benchmark{AveragePrice: 12345})
	require.NotNil(t, result.SuggestedAdjustment)
	assert.Equal(t, 11111.0, result.SuggestedAdjustment.Retail.Min)
	assert.Equal(t, 13580.0, result.SuggestedAdjustment.Retail.Max)
}

func TestValidateBrandTiers(t *testing.T) {
	result := newTestValidator().Validate(car(2023, "BMW"), retailOnly(15000, 18000), nil)
	assert.Contains(t, result.Warnings, MsgLuxuryUndervalue)

	result = newTestValidator().Validate(car(2023, "Mercedes-Benz"), retailOnly(25000, 28000), nil)
	assert.NotContains(t, result.Warnings, MsgLuxuryUndervalue)

	result = newTestValidator().Validate(car(2012, "Nissan"), retailOnly(26000, 30000), nil)
	assert.Contains(t, result.Warnings, MsgEconomyOvervalue)

	result = newTestValidator().Validate(car(2020, "Kia"), retailOnly(26000, 30000), nil)
	assert.NotContains(t, result.Warnings, MsgEconomyOvervalue)
}

func TestValidateFuelEconomy(t *testing.T) {
	efficient := car(2018, "Toyota")
	efficient.FuelEconomy = vehicle.FuelEconomy{CityMPG: intPtr(40), HighwayMPG: intPtr(45)}

	result := newTestValidator().Validate(efficient, retailOnly(15000, 17000), nil)
	assert.Contains(t, result.Warnings, MsgEfficiencyIgnored)

	est := retailOnly(15000, 17000)
	est.MentionsEfficiency = true
	result = newTestValidator().Validate(efficient, est, nil)
	assert.NotContains(t, result.Warnings, MsgEfficiencyIgnored)

	thirsty := car(2022, "Ford")
	thirsty.FuelEconomy = vehicle.FuelEconomy{CityMPG: intPtr(15), HighwayMPG: intPtr(22)}
	result = newTestValidator().Validate(thirsty, retailOnly(30000, 34000), nil)
	assert.Contains(t, result.Warnings, MsgPoorEconomy)

	thirsty.MarketCategory = "High-Performance"
	result = newTestValidator().Validate(thirsty, retailOnly(30000, 34000), nil)
	assert.NotContains(t, result.Warnings, MsgPoorEconomy)
}

func TestValidateManualPremium(t *testing.T) {
	rec := car(2011, "Subaru")
	rec.MarketCategory = "Factory Tuner,Performance"
	rec.Transmission.Type = vehicle.TransmissionManual

	result := newTestValidator().Validate(rec, retailOnly(20000, 23000), nil)
	assert.Contains(t, result.Warnings, MsgManualPremium)

	est := retailOnly(20000, 23000)
	est.MentionsEnthusiastPremium = true
	result = newTestValidator().Validate(rec, est, nil)
	assert.NotContains(t, result.Warnings, MsgManualPremium)
}

func TestValidateWarningsAccumulate(t *testing.T) {
	rec := car(2024, "BMW")
	result := newTestValidator().Validate(rec, retailOnly(5000, 9000), &Benchmark{AveragePrice: 40000})

	assert.Equal(t, []string{
		MsgSpread,
		MsgNearNew,
		"AI valuation differs significantly from market average ($40000)",
		MsgLuxuryUndervalue,
	}, result.Warnings)
	assert.Equal(t, ConfidenceLow, result.Confidence)
	assert.True(t, result.IsValid)
}

func TestValidateMissingData(t *testing.T) {
	v := newTestValidator()
	rec := vehicle.Normalize(vehicle.Payload{}, "")

	assert.NotPanics(t, func() {
		result := v.Validate(rec, nil, &Benchmark{AveragePrice: 20000})
		assert.True(t, result.IsValid)
		assert.Empty(t, result.Warnings)
		assert.Equal(t, ConfidenceHigh, result.Confidence)
	})

	assert.NotPanics(t, func() {
		result := v.Validate(rec, &Estimate{}, nil)
		assert.True(t, result.IsValid)
	})

	assert.NotPanics(t, func() {
		result := v.Validate(rec, retailOnly(0, 0), &Benchmark{AveragePrice: 20000})
		assert.Contains(t, result.Warnings[0], "differs significantly")
	})
}
