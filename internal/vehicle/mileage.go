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

import "math"

// DefaultAnnualMileage is the average miles driven per year.
const DefaultAnnualMileage = 12000

// MaxMileage is the largest odometer reading accepted.
const MaxMileage = 1_000_000

// Mileage status labels
const (
	MileageSignificantlyBelow = "significantly below average"
	MileageBelow              = "below average"
	MileageAverage            = "average"
	MileageAbove              = "above average"
	MileageSignificantlyAbove = "significantly above average"
	MileageEstimated          = "estimated"
)

// MileageAssessment compares the reported odometer reading with the
// expectation for the vehicle's age.
type MileageAssessment struct {
	Actual          *int   `json:"actual,omitempty"`
	Expected        *int   `json:"expected"`
	Status          string `json:"status"`
	VariancePercent *int   `json:"variance_percentage,omitempty"`
}

// AssessMileage classifies actual mileage against (referenceYear - year) * milesPerYear.
// Below 80% of expected is significantly below, above 120% significantly above.
// Without a usable year there is no expectation and the status is estimated.
func AssessMileage(year *int, actual *int, referenceYear, milesPerYear int) MileageAssessment {
	if milesPerYear <= 0 {
		milesPerYear = DefaultAnnualMileage
	}

	assessment := MileageAssessment{Actual: actual, Status: MileageEstimated}
	if year == nil {
		return assessment
	}

	age := referenceYear - *year
	if age < 0 {
		age = 0
	}
	expected := age * milesPerYear
	assessment.Expected = &expected

	if actual == nil || expected == 0 {
		return assessment
	}

	a, e := float64(*actual), float64(expected)
	switch {
	case a < e*0.8:
		assessment.Status = MileageSignificantlyBelow
	case a < e:
		assessment.Status = MileageBelow
	case a > e*1.2:
		assessment.Status = MileageSignificantlyAbove
	case a > e:
		assessment.Status = MileageAbove
	default:
		assessment.Status = MileageAverage
	}

	variance := int(math.Abs(math.Floor((e-a)/e*100 + 0.5)))
	assessment.VariancePercent = &variance

	return assessment
}
