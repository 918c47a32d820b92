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

package vehicle

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Source is what a strategy reads from: the decoder payload plus the VIN the
// caller asked about.
type Source struct {
	Payload Payload
	VIN     string
}

// Strategy is one named way of locating a field. Strategies for a field are
// tried in order and the first one that reports ok wins.
type Strategy[T any] struct {
	Name    string
	Extract func(Source) (T, bool)
}

func firstOf[T any](src Source, strategies []Strategy[T]) (T, bool) {
	for _, s := range strategies {
		if v, ok := s.Extract(src); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func names[T any](strategies []Strategy[T]) []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = s.Name
	}
	return out
}

// lookup walks a dotted path such as "years.0.styles.0.trim"; numeric
// segments index into arrays.
func lookup(data any, path string) (any, bool) {
	cur := data
	for _, step := range strings.Split(path, ".") {
		if cur == nil {
			return nil, false
		}
		if idx, err := strconv.Atoi(step); err == nil {
			items, err := cast.ToSliceE(cur)
			if err != nil || idx < 0 || idx >= len(items) {
				return nil, false
			}
			cur = items[idx]
			continue
		}
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[step]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func asMap(v any) (map[string]any, bool) {
	switch v.(type) {
	case map[string]any, map[any]any, map[string]string:
		m, err := cast.ToStringMapE(v)
		return m, err == nil
	}
	return nil, false
}

func asString(v any) (string, bool) {
	switch v.(type) {
	case nil, bool, []any, map[string]any, map[any]any:
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != "" && !strings.EqualFold(s, "null") && !strings.EqualFold(s, "undefined")
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil, bool, []any, map[string]any:
		return 0, false
	case string:
		t = strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if t == "" {
			return 0, false
		}
		v = t
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func asBool(v any) (bool, bool) {
	switch v.(type) {
	case bool, string:
		b, err := cast.ToBoolE(v)
		return b, err == nil
	}
	return false, false
}

func strAt(path string) Strategy[string] {
	return Strategy[string]{Name: path, Extract: func(src Source) (string, bool) {
		v, ok := lookup(src.Payload, path)
		if !ok {
			return "", false
		}
		return asString(v)
	}}
}

func intAt(path string) Strategy[int] {
	return Strategy[int]{Name: path, Extract: func(src Source) (int, bool) {
		v, ok := lookup(src.Payload, path)
		if !ok {
			return 0, false
		}
		return asInt(v)
	}}
}

// positiveIntAt rejects zero and negative readings, which decoders use for "not rated"
func positiveIntAt(path string) Strategy[int] {
	inner := intAt(path)
	return Strategy[int]{Name: path, Extract: func(src Source) (int, bool) {
		n, ok := inner.Extract(src)
		return n, ok && n > 0
	}}
}

func moneyAt(path string) Strategy[float64] {
	return Strategy[float64]{Name: path, Extract: func(src Source) (float64, bool) {
		v, ok := lookup(src.Payload, path)
		if !ok {
			return 0, false
		}
		f, ok := asFloat(v)
		return f, ok && f > 0
	}}
}

func boolAt(path string) Strategy[bool] {
	return Strategy[bool]{Name: path, Extract: func(src Source) (bool, bool) {
		v, ok := lookup(src.Payload, path)
		if !ok {
			return false, false
		}
		return asBool(v)
	}}
}

func yearAt(path string) Strategy[int] {
	inner := intAt(path)
	return Strategy[int]{Name: path, Extract: func(src Source) (int, bool) {
		y, ok := inner.Extract(src)
		return y, ok && y >= 1900 && y <= 2100
	}}
}

var (
	litersPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*L\b`)
	speedsPattern = regexp.MustCompile(`(?i)(\d+)\s*-?\s*speed`)
)

var vinStrategies = []Strategy[string]{
	{Name: "request vin", Extract: func(src Source) (string, bool) {
		vin := NormalizeVIN(src.VIN)
		return vin, vin != ""
	}},
	strAt("vin"),
}

var yearStrategies = []Strategy[int]{
	yearAt("year"),
	yearAt("years.0.year"),
	yearAt("vehicle.year"),
}

var makeStrategies = []Strategy[string]{
	strAt("make"),
	strAt("make.name"),
	strAt("vehicle.make"),
}

var modelStrategies = []Strategy[string]{
	strAt("model"),
	strAt("model.name"),
	strAt("vehicle.model"),
}

var trimStrategies = []Strategy[string]{
	strAt("trim"),
	strAt("years.0.styles.0.trim"),
	strAt("vehicle.trim"),
}

var fullStyleStrategies = []Strategy[string]{
	strAt("style"),
	strAt("years.0.styles.0.name"),
}

var bodyStyleStrategies = []Strategy[string]{
	strAt("body"),
	strAt("years.0.styles.0.submodel.body"),
	strAt("categories.vehicleStyle"),
}

var vehicleTypeStrategies = []Strategy[string]{
	strAt("type"),
	strAt("categories.vehicleType"),
}

var marketCategoryStrategies = []Strategy[string]{
	strAt("categories.market"),
	strAt("market"),
}

var epaClassStrategies = []Strategy[string]{
	strAt("categories.epaClass"),
	strAt("epaClass"),
}

var originStrategies = []Strategy[string]{
	strAt("origin"),
}

var driveTypeStrategies = []Strategy[string]{
	strAt("drive"),
	strAt("drivenWheels"),
}

var doorsStrategies = []Strategy[int]{
	positiveIntAt("numOfDoors"),
	positiveIntAt("doors"),
}

var displacementStrategies = []Strategy[float64]{
	{Name: "engine.size", Extract: func(src Source) (float64, bool) {
		v, ok := lookup(src.Payload, "engine.size")
		if !ok {
			return 0, false
		}
		f, ok := asFloat(v)
		return f, ok && f > 0
	}},
	{Name: "engine.displacement (cc)", Extract: func(src Source) (float64, bool) {
		v, ok := lookup(src.Payload, "engine.displacement")
		if !ok {
			return 0, false
		}
		cc, ok := asFloat(v)
		if !ok || cc <= 0 {
			return 0, false
		}
		return math.Round(cc/100) / 10, true
	}},
	{Name: "engine (text)", Extract: func(src Source) (float64, bool) {
		v, ok := lookup(src.Payload, "engine")
		if !ok {
			return 0, false
		}
		text, ok := v.(string)
		if !ok {
			return 0, false
		}
		m := litersPattern.FindStringSubmatch(text)
		if m == nil {
			return 0, false
		}
		return asFloat(m[1])
	}},
}

var horsepowerStrategies = []Strategy[int]{
	positiveIntAt("engine.horsepower"),
	positiveIntAt("horsepower"),
}

var cylinderStrategies = []Strategy[int]{
	positiveIntAt("engine.cylinder"),
	positiveIntAt("engine.cylinders"),
	positiveIntAt("cylinders"),
}

var turboStrategies = []Strategy[bool]{
	{Name: "engine.compressorType", Extract: func(src Source) (bool, bool) {
		v, ok := lookup(src.Payload, "engine.compressorType")
		if !ok {
			return false, false
		}
		s, ok := asString(v)
		if !ok {
			return false, false
		}
		return strings.Contains(strings.ToLower(s), "turbo"), true
	}},
	boolAt("engine.turbocharged"),
	{Name: "engine (text)", Extract: func(src Source) (bool, bool) {
		v, ok := lookup(src.Payload, "engine")
		if !ok {
			return false, false
		}
		text, ok := v.(string)
		if !ok || !strings.Contains(strings.ToLower(text), "turbo") {
			return false, false
		}
		return true, true
	}},
}

func transmissionTypeAt(path string) Strategy[TransmissionType] {
	return Strategy[TransmissionType]{Name: path, Extract: func(src Source) (TransmissionType, bool) {
		v, ok := lookup(src.Payload, path)
		if !ok {
			return "", false
		}
		s, ok := asString(v)
		if !ok {
			return "", false
		}
		t := ParseTransmissionType(s)
		return t, t != TransmissionUnknown
	}}
}

var transmissionTypeStrategies = []Strategy[TransmissionType]{
	transmissionTypeAt("transmission.transmissionType"),
	transmissionTypeAt("transmission"),
}

var speedsStrategies = []Strategy[int]{
	positiveIntAt("transmission.numberOfSpeeds"),
	{Name: "transmission (text)", Extract: func(src Source) (int, bool) {
		v, ok := lookup(src.Payload, "transmission")
		if !ok {
			return 0, false
		}
		text, ok := v.(string)
		if !ok {
			return 0, false
		}
		m := speedsPattern.FindStringSubmatch(text)
		if m == nil {
			return 0, false
		}
		return asInt(m[1])
	}},
}

var cityMPGStrategies = []Strategy[int]{
	positiveIntAt("mpg.city"),
	positiveIntAt("cityMpg"),
}

var highwayMPGStrategies = []Strategy[int]{
	positiveIntAt("mpg.highway"),
	positiveIntAt("highwayMpg"),
}

var retailStrategies = []Strategy[float64]{moneyAt("price.usedTmvRetail")}
var privatePartyStrategies = []Strategy[float64]{moneyAt("price.usedPrivateParty")}
var tradeInStrategies = []Strategy[float64]{moneyAt("price.usedTradeIn")}
var msrpStrategies = []Strategy[float64]{moneyAt("price.baseMsrp")}

var squishVINStrategies = []Strategy[string]{
	strAt("squishVin"),
	{Name: "request vin prefix", Extract: func(src Source) (string, bool) {
		if !IsValidVIN(src.VIN) {
			return "", false
		}
		return SquishVIN(src.VIN), true
	}},
}

var manufacturerCodeStrategies = []Strategy[string]{
	strAt("manufacturerCode"),
	strAt("wmi"),
}

var manufacturerStrategies = []Strategy[string]{strAt("manufacturer")}
var checkDigitStrategies = []Strategy[string]{strAt("checkDigit")}
var vinValidStrategies = []Strategy[bool]{boolAt("vinValid")}
var checksumStrategies = []Strategy[bool]{boolAt("checksum")}

// ParseTransmissionType maps free-form decoder text onto a TransmissionType.
func ParseTransmissionType(s string) TransmissionType {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "manual"):
		return TransmissionManual
	case strings.Contains(s, "cvt") || strings.Contains(s, "continuously"):
		return TransmissionCVT
	case strings.Contains(s, "auto"):
		return TransmissionAutomatic
	}
	return TransmissionUnknown
}

// Strategies lists, per record field, the extraction strategies in the order
// Normalize tries them.
func Strategies() map[string][]string {
	return map[string][]string{
		"vin":                      names(vinStrategies),
		"year":                     names(yearStrategies),
		"make":                     names(makeStrategies),
		"model":                    names(modelStrategies),
		"trim":                     names(trimStrategies),
		"full_style":               names(fullStyleStrategies),
		"body_style":               names(bodyStyleStrategies),
		"vehicle_type":             names(vehicleTypeStrategies),
		"market_category":          names(marketCategoryStrategies),
		"epa_class":                names(epaClassStrategies),
		"origin":                   names(originStrategies),
		"drive_type":               names(driveTypeStrategies),
		"doors":                    names(doorsStrategies),
		"engine.displacement":      names(displacementStrategies),
		"engine.horsepower":        names(horsepowerStrategies),
		"engine.cylinders":         names(cylinderStrategies),
		"engine.turbocharged":      names(turboStrategies),
		"transmission.type":        names(transmissionTypeStrategies),
		"transmission.speeds":      names(speedsStrategies),
		"fuel_economy.city":        names(cityMPGStrategies),
		"fuel_economy.highway":     names(highwayMPGStrategies),
		"pricing.retail":           names(retailStrategies),
		"pricing.private_party":    names(privatePartyStrategies),
		"pricing.trade_in":         names(tradeInStrategies),
		"pricing.msrp":             names(msrpStrategies),
		"identification.squish":    names(squishVINStrategies),
		"identification.wmi":       names(manufacturerCodeStrategies),
		"identification.mfr":       names(manufacturerStrategies),
		"identification.check":     names(checkDigitStrategies),
		"identification.vin_valid": names(vinValidStrategies),
		"identification.checksum":  names(checksumStrategies),
	}
}

func stringOr(src Source, strategies []Strategy[string]) string {
	if v, ok := firstOf(src, strategies); ok {
		return v
	}
	return Unknown
}

func ptr[T any](src Source, strategies []Strategy[T]) *T {
	if v, ok := firstOf(src, strategies); ok {
		return &v
	}
	return nil
}

// Normalize maps a decoder payload of any supported shape onto a Record.
// It never fails: fields that cannot be located are Unknown or nil.
func Normalize(payload Payload, vin string) Record {
	src := Source{Payload: payload, VIN: vin}

	transmission := TransmissionUnknown
	if t, ok := firstOf(src, transmissionTypeStrategies); ok {
		transmission = t
	}

	return Record{
		VIN:            stringOr(src, vinStrategies),
		Year:           ptr(src, yearStrategies),
		Make:           Named{Name: stringOr(src, makeStrategies)},
		Model:          Named{Name: stringOr(src, modelStrategies)},
		Trim:           stringOr(src, trimStrategies),
		FullStyle:      stringOr(src, fullStyleStrategies),
		BodyStyle:      stringOr(src, bodyStyleStrategies),
		VehicleType:    stringOr(src, vehicleTypeStrategies),
		MarketCategory: stringOr(src, marketCategoryStrategies),
		EPAClass:       stringOr(src, epaClassStrategies),
		Origin:         stringOr(src, originStrategies),
		DriveType:      stringOr(src, driveTypeStrategies),
		Doors:          ptr(src, doorsStrategies),
		Engine: Engine{
			DisplacementLiters: ptr(src, displacementStrategies),
			HorsepowerHP:       ptr(src, horsepowerStrategies),
			Cylinders:          ptr(src, cylinderStrategies),
			Turbocharged:       ptr(src, turboStrategies),
		},
		Transmission: Transmission{
			Type:   transmission,
			Speeds: ptr(src, speedsStrategies),
		},
		FuelEconomy: FuelEconomy{
			CityMPG:    ptr(src, cityMPGStrategies),
			HighwayMPG: ptr(src, highwayMPGStrategies),
		},
		BaselinePricing: BaselinePricing{
			Retail:       ptr(src, retailStrategies),
			PrivateParty: ptr(src, privatePartyStrategies),
			TradeIn:      ptr(src, tradeInStrategies),
			MSRP:         ptr(src, msrpStrategies),
		},
		Identification: Identification{
			SquishVIN:        stringOr(src, squishVINStrategies),
			ManufacturerCode: stringOr(src, manufacturerCodeStrategies),
			Manufacturer:     stringOr(src, manufacturerStrategies),
			CheckDigit:       stringOr(src, checkDigitStrategies),
			VINValid:         ptr(src, vinValidStrategies),
			Checksum:         ptr(src, checksumStrategies),
		},
	}
}
