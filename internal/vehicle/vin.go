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
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// VINLength is the length of a modern (post-1981) VIN.
const VINLength = 17

// Input errors
var (
	ErrInvalidVIN       = errors.New("invalid VIN")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidMileage   = errors.New("invalid mileage")
)

// I, O and Q are never used in a VIN
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// IsValidVIN checks the VIN character set and length, case-insensitively.
func IsValidVIN(vin string) bool {
	return vinPattern.MatchString(strings.ToUpper(vin))
}

// NormalizeVIN trims and upper-cases a VIN.
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// ValidateVIN normalizes vin and checks it.
func ValidateVIN(vin string) (string, error) {
	vin = NormalizeVIN(vin)
	if !IsValidVIN(vin) {
		return "", fmt.Errorf("%w %q: must be exactly 17 characters and contain only valid characters", ErrInvalidVIN, vin)
	}
	return vin, nil
}

// SquishVIN returns the 11-character prefix used for model and trim lookups.
func SquishVIN(vin string) string {
	vin = NormalizeVIN(vin)
	if len(vin) < 11 {
		return ""
	}
	return vin[:11]
}

// Condition is the owner-reported condition of the vehicle.
type Condition string

// Supported conditions
const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

// Conditions lists the accepted condition values.
var Conditions = []Condition{ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor}

// ParseCondition validates a condition string. An empty value defaults to good.
func ParseCondition(s string) (Condition, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ConditionGood, nil
	}
	for _, c := range Conditions {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q: must be one of excellent, good, fair, poor", ErrInvalidCondition, s)
}

// Title returns the condition with a leading capital, as used in prompts.
func (c Condition) Title() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}
