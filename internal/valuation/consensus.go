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
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/your-org/vin-valuation/internal/provider"
	"github.com/your-org/vin-valuation/internal/vehicle"
)

// AgreementThreshold is the level above which two opinions are averaged.
const AgreementThreshold = 0.85

// Descriptions attached to averaged bands.
const (
	ConsensusRetailDescription       = "Consensus retail value"
	ConsensusPrivatePartyDescription = "Consensus private party value"
	ConsensusTradeInDescription      = "Consensus trade-in value"
)

// Agreement measures how closely two retail midpoints agree, relative to
// their average, clamped to [0,1]. Missing retail bands or a non-positive
// average give 0.
func Agreement(a, b *Estimate) float64 {
	if !a.HasRetail() || !b.HasRetail() {
		return 0
	}
	midA := a.MarketValues.Retail.Midpoint()
	midB := b.MarketValues.Retail.Midpoint()
	avg := (midA + midB) / 2
	if avg <= 0 {
		return 0
	}
	return math.Max(0, 1-math.Abs(midA-midB)/avg)
}

// Average combines two estimates band by band with half-up rounding. Bands
// missing from either side are left out.
func Average(a, b *Estimate) *Estimate {
	if a == nil || b == nil {
		return nil
	}
	return &Estimate{
		MarketValues: MarketValues{
			Retail:       averageBand(a.MarketValues.Retail, b.MarketValues.Retail, ConsensusRetailDescription),
			PrivateParty: averageBand(a.MarketValues.PrivateParty, b.MarketValues.PrivateParty, ConsensusPrivatePartyDescription),
			TradeIn:      averageBand(a.MarketValues.TradeIn, b.MarketValues.TradeIn, ConsensusTradeInDescription),
		},
		MentionsEfficiency:        a.MentionsEfficiency || b.MentionsEfficiency,
		MentionsEnthusiastPremium: a.MentionsEnthusiastPremium || b.MentionsEnthusiastPremium,
	}
}

func averageBand(a, b *PriceBand, description string) *PriceBand {
	if a == nil || b == nil {
		return nil
	}
	return &PriceBand{
		Min:         Amount(roundHalfUp(float64(a.Min+b.Min) / 2)),
		Max:         Amount(roundHalfUp(float64(a.Max+b.Max) / 2)),
		Description: Text(description),
	}
}

// Opinion is one provider's contribution to a consensus.
type Opinion struct {
	Provider   string               `json:"provider"`
	Model      string               `json:"model"`
	Estimate   *Estimate            `json:"estimate,omitempty"`
	RawText    string               `json:"raw_text,omitempty"`
	ParseError string               `json:"parse_error,omitempty"`
	Completion *provider.Completion `json:"-"`
}

// ConsensusResult pairs two opinions with their agreement level.
type ConsensusResult struct {
	First          Opinion    `json:"first"`
	Second         Opinion    `json:"second"`
	AgreementLevel float64    `json:"agreement_level"`
	Recommended    *Estimate  `json:"recommended,omitempty"`
	Confidence     Confidence `json:"confidence"`
	Duration       string     `json:"duration"`
}

// ConsensusCalculator asks two providers for the same valuation and
// reconciles the answers.
type ConsensusCalculator struct {
	first  provider.Provider
	second provider.Provider
	logger *zap.Logger
}

// NewConsensusCalculator creates a calculator over two distinct providers.
func NewConsensusCalculator(first, second provider.Provider, logger *zap.Logger) (*ConsensusCalculator, error) {
	if first == nil || second == nil {
		return nil, errors.New("consensus requires two providers")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsensusCalculator{first: first, second: second, logger: logger}, nil
}

// Consensus sends prompt, built once for rec and condition, to both
// providers concurrently. Either provider failing fails the whole call and
// cancels the other. An unparseable reply is kept as raw text and counts as
// no agreement.
func (c *ConsensusCalculator) Consensus(ctx context.Context, rec vehicle.Record, condition vehicle.Condition, prompt string) (*ConsensusResult, error) {
	start := time.Now()
	providers := [2]provider.Provider{c.first, c.second}
	var opinions [2]Opinion

	p := pool.New().WithContext(ctx).WithCancelOnError()
	for i, prov := range providers {
		p.Go(func(ctx context.Context) error {
			completion, err := prov.Valuate(ctx, prompt)
			if err != nil {
				return fmt.Errorf("%s valuation failed: %w", prov.Name(), err)
			}
			opinions[i] = newOpinion(prov, completion)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		c.logger.Error("Consensus valuation failed",
			zap.String("vehicle", rec.Describe()),
			zap.Error(err))
		return nil, err
	}

	result := &ConsensusResult{
		First:          opinions[0],
		Second:         opinions[1],
		AgreementLevel: Agreement(opinions[0].Estimate, opinions[1].Estimate),
		Confidence:     ConfidenceLow,
		Duration:       time.Since(start).String(),
	}
	if result.AgreementLevel > AgreementThreshold {
		result.Recommended = Average(opinions[0].Estimate, opinions[1].Estimate)
		result.Confidence = ConfidenceHigh
	}

	c.logger.Info("Consensus valuation completed",
		zap.String("vehicle", rec.Describe()),
		zap.String("condition", string(condition)),
		zap.String("first", opinions[0].Provider),
		zap.String("second", opinions[1].Provider),
		zap.Float64("agreement_level", result.AgreementLevel),
		zap.String("confidence", string(result.Confidence)))

	return result, nil
}

func newOpinion(prov provider.Provider, completion *provider.Completion) Opinion {
	op := Opinion{
		Provider:   prov.Name(),
		Model:      prov.Model(),
		Completion: completion,
	}
	est, err := ParseEstimate(completion.RawText)
	if err != nil {
		op.RawText = completion.RawText
		op.ParseError = err.Error()
		return op
	}
	op.Estimate = est
	return op
}
