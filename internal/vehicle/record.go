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

// Package vehicle turns VIN decoder payloads into a stable vehicle record
// and hosts the VIN, condition and mileage helpers used around it.
package vehicle

import (
	"fmt"
	"strings"
)

// Unknown is the sentinel used for every string field that could not be located.
const Unknown = "Unknown"

// Payload is an untyped VIN decoder response.
type Payload = map[string]any

// TransmissionType classifies a gearbox.
type TransmissionType string

// Supported transmission types
const (
	TransmissionManual    TransmissionType = "MANUAL"
	TransmissionAutomatic TransmissionType = "AUTOMATIC"
	TransmissionCVT       TransmissionType = "CVT"
	TransmissionUnknown   TransmissionType = "UNKNOWN"
)

// Named wraps a make or model name.
type Named struct {
	Name string `json:"name"`
}

// Engine describes the power unit. Nil means the decoder did not say.
type Engine struct {
	DisplacementLiters *float64 `json:"displacement_liters"`
	HorsepowerHP       *int     `json:"horsepower_hp"`
	Cylinders          *int     `json:"cylinders"`
	Turbocharged       *bool    `json:"turbocharged"`
}

// Transmission describes the gearbox.
type Transmission struct {
	Type   TransmissionType `json:"type"`
	Speeds *int             `json:"speeds"`
}

// FuelEconomy holds EPA ratings in miles per gallon.
type FuelEconomy struct {
	CityMPG    *int `json:"city_mpg"`
	HighwayMPG *int `json:"highway_mpg"`
}

// BaselinePricing holds the decoder's own used-vehicle price points in USD.
type BaselinePricing struct {
	Retail       *float64 `json:"retail"`
	PrivateParty *float64 `json:"private_party"`
	TradeIn      *float64 `json:"trade_in"`
	MSRP         *float64 `json:"msrp"`
}

// Identification carries VIN-derived metadata reported by the decoder.
type Identification struct {
	SquishVIN        string `json:"squish_vin"`
	ManufacturerCode string `json:"manufacturer_code"`
	Manufacturer     string `json:"manufacturer"`
	CheckDigit       string `json:"check_digit"`
	VINValid         *bool  `json:"vin_valid"`
	Checksum         *bool  `json:"checksum"`
}

// Record is the normalized vehicle description. Every field is independently
// optional: strings fall back to Unknown and numerics to nil.
type Record struct {
	VIN             string          `json:"vin"`
	Year            *int            `json:"year"`
	Make            Named           `json:"make"`
	Model           Named           `json:"model"`
	Trim            string          `json:"trim"`
	FullStyle       string          `json:"full_style"`
	BodyStyle       string          `json:"body_style"`
	VehicleType     string          `json:"vehicle_type"`
	MarketCategory  string          `json:"market_category"`
	EPAClass        string          `json:"epa_class"`
	Origin          string          `json:"origin"`
	DriveType       string          `json:"drive_type"`
	Doors           *int            `json:"doors"`
	Engine          Engine          `json:"engine"`
	Transmission    Transmission    `json:"transmission"`
	FuelEconomy     FuelEconomy     `json:"fuel_economy"`
	BaselinePricing BaselinePricing `json:"baseline_pricing"`
	Identification  Identification  `json:"identification"`
}

// Age returns the vehicle age relative to referenceYear.
func (r Record) Age(referenceYear int) (int, bool) {
	if r.Year == nil {
		return 0, false
	}
	return referenceYear - *r.Year, true
}

// CombinedMPG averages city and highway ratings when both are known.
func (r Record) CombinedMPG() (float64, bool) {
	if r.FuelEconomy.CityMPG == nil || r.FuelEconomy.HighwayMPG == nil {
		return 0, false
	}
	return float64(*r.FuelEconomy.CityMPG+*r.FuelEconomy.HighwayMPG) / 2, true
}

// IsPerformance reports whether the market category places the vehicle in a
// performance or tuner segment.
func (r Record) IsPerformance() bool {
	return strings.Contains(r.MarketCategory, "Performance") || strings.Contains(r.MarketCategory, "Tuner")
}

// IsManual reports whether the gearbox is a manual.
func (r Record) IsManual() bool {
	return r.Transmission.Type == TransmissionManual
}

// IsAllWheelDrive reports whether the drive type is AWD or 4WD.
func (r Record) IsAllWheelDrive() bool {
	drive := strings.ToLower(r.DriveType)
	return strings.Contains(drive, "four") || strings.Contains(drive, "4wd") ||
		strings.Contains(drive, "awd") || strings.Contains(drive, "all wheel")
}

// Describe renders "2011 Subaru Impreza WRX STI", skipping unknown parts.
func (r Record) Describe() string {
	var parts []string
	if r.Year != nil {
		parts = append(parts, fmt.Sprintf("%d", *r.Year))
	}
	for _, s := range []string{r.Make.Name, r.Model.Name, r.Trim} {
		if s != "" && s != Unknown {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return Unknown
	}
	return strings.Join(parts, " ")
}
