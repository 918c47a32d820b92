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

// Package appraisal runs a VIN through decoding, prompting, an LLM
// provider and validation, and assembles the resulting report.
package appraisal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/vin-valuation/internal/autodev"
	"github.com/your-org/vin-valuation/internal/pricing"
	"github.com/your-org/vin-valuation/internal/prompt"
	"github.com/your-org/vin-valuation/internal/provider"
	"github.com/your-org/vin-valuation/internal/usage"
	"github.com/your-org/vin-valuation/internal/valuation"
	"github.com/your-org/vin-valuation/internal/vehicle"
)

// UsageRecorder persists usage entries.
type UsageRecorder interface {
	Record(entry usage.Entry) error
}

// Request is one valuation request. Only VIN is required.
type Request struct {
	RequestID string
	VIN       string
	Condition vehicle.Condition
	Mileage   *int
	// Provider selects the LLM; empty means the service default.
	Provider  string
	Benchmark *valuation.Benchmark
	Market    *prompt.MarketContext
}

// DecodeResult is the normalized decoder output with the raw payload.
type DecodeResult struct {
	Vehicle vehicle.Record  `json:"vehicle"`
	Raw     vehicle.Payload `json:"raw"`
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) Option {
	return func(s *Service) { s.defaultProvider = name }
}

// WithReferenceYear pins the year vehicle age is measured from.
func WithReferenceYear(year int) Option {
	return func(s *Service) { s.referenceYear = year }
}

// WithAnnualMileage sets the expected miles per year.
func WithAnnualMileage(miles int) Option {
	return func(s *Service) { s.annualMileage = miles }
}

// WithCachedFraction sets the share of prompt tokens priced at cached rates.
func WithCachedFraction(f float64) Option {
	return func(s *Service) { s.cachedFraction = f }
}

// WithUsageRecorder enables the usage ledger.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(s *Service) { s.usage = r }
}

// Service produces valuation reports.
type Service struct {
	decoder   autodev.Decoder
	providers *provider.Registry
	estimator *pricing.Estimator
	usage     UsageRecorder
	logger    *zap.Logger

	defaultProvider string
	referenceYear   int
	annualMileage   int
	cachedFraction  float64

	now func() time.Time
}

// NewService creates a Service.
func NewService(decoder autodev.Decoder, providers *provider.Registry, estimator *pricing.Estimator, logger *zap.Logger, opts ...Option) (*Service, error) {
	if decoder == nil {
		return nil, errors.New("decoder is required")
	}
	if providers == nil || len(providers.Names()) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if estimator == nil {
		estimator = pricing.NewEstimator(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		decoder:         decoder,
		providers:       providers,
		estimator:       estimator,
		logger:          logger,
		defaultProvider: provider.ClaudeName,
		annualMileage:   vehicle.DefaultAnnualMileage,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) year() int {
	if s.referenceYear > 0 {
		return s.referenceYear
	}
	return s.now().Year()
}

// Decode decodes and normalizes vin without calling an LLM.
func (s *Service) Decode(ctx context.Context, vin string) (*DecodeResult, error) {
	vin, err := vehicle.ValidateVIN(vin)
	if err != nil {
		return nil, err
	}
	payload, err := s.decoder.Decode(ctx, vin)
	if err != nil {
		return nil, fmt.Errorf("failed to decode VIN: %w", err)
	}
	return &DecodeResult{Vehicle: vehicle.Normalize(payload, vin), Raw: payload}, nil
}

// prepared is the shared front half of Appraise and Consensus.
type prepared struct {
	vin       string
	condition vehicle.Condition
	record    vehicle.Record
	mileage   vehicle.MileageAssessment
	prompt    string
}

func (s *Service) prepare(ctx context.Context, req Request) (*prepared, error) {
	vin, err := vehicle.ValidateVIN(req.VIN)
	if err != nil {
		return nil, err
	}
	condition, err := vehicle.ParseCondition(string(req.Condition))
	if err != nil {
		return nil, err
	}
	if req.Mileage != nil && (*req.Mileage < 0 || *req.Mileage > vehicle.MaxMileage) {
		return nil, fmt.Errorf("%w: mileage must be between 0 and 1,000,000", vehicle.ErrInvalidMileage)
	}

	payload, err := s.decoder.Decode(ctx, vin)
	if err != nil {
		return nil, fmt.Errorf("failed to decode VIN: %w", err)
	}
	rec := vehicle.Normalize(payload, vin)

	year := s.year()
	mileage := vehicle.AssessMileage(rec.Year, req.Mileage, year, s.annualMileage)

	text := prompt.BuildValuationPrompt(prompt.Input{
		Vehicle:       rec,
		Condition:     condition,
		Mileage:       mileage,
		ReferenceYear: year,
		AnnualMileage: s.annualMileage,
		Market:        req.Market,
	})

	s.logger.Info("Vehicle decoded",
		zap.String("request_id", req.RequestID),
		zap.String("vin", vin),
		zap.String("vehicle", rec.Describe()),
		zap.String("condition", string(condition)),
		zap.String("mileage_status", mileage.Status))

	return &prepared{vin: vin, condition: condition, record: rec, mileage: mileage, prompt: text}, nil
}

// Appraise produces a validated valuation report for one provider. Any
// decoder or provider failure aborts the request.
func (s *Service) Appraise(ctx context.Context, req Request) (*Report, error) {
	name := req.Provider
	if name == "" {
		name = s.defaultProvider
	}
	prov, err := s.providers.Get(name)
	if err != nil {
		return nil, err
	}

	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	cost := &Cost{}
	if pre, err := s.estimator.EstimateBeforeCall(prov.Model(), p.prompt); err != nil {
		s.logger.Warn("Skipping cost estimate",
			zap.String("model", prov.Model()),
			zap.Error(err))
	} else {
		cost.Preflight = &pre
		s.logger.Info("Estimated valuation cost",
			zap.String("request_id", req.RequestID),
			zap.String("model", pre.Model),
			zap.Int("input_tokens", pre.InputTokens),
			zap.String("estimated_cost", pre.EstimatedCost.String()))
	}

	completion, err := prov.Valuate(ctx, p.prompt)
	if err != nil {
		return nil, fmt.Errorf("%s valuation failed: %w", prov.Name(), err)
	}
	cost.Usage = s.recordUsage(req, usage.OperationValuation, prov, p, completion)

	report := &Report{
		Success:     true,
		Timestamp:   s.now().UTC(),
		ReportID:    newReportID(),
		GeneratedBy: GeneratedBy,
		AIService:   prov.Name(),
		Model:       prov.Model(),
		Vehicle:     vehicleInfo(p.record),
		Parameters:  Parameters{Condition: p.condition, Mileage: p.mileage},
	}
	if cost.Preflight != nil || cost.Usage != nil {
		report.Cost = cost
	}

	est, err := valuation.ParseEstimate(completion.RawText)
	if err != nil {
		s.logger.Warn("Valuation reply was not structured",
			zap.String("request_id", req.RequestID),
			zap.String("provider", prov.Name()),
			zap.Error(err))
		report.RawAnalysis = completion.RawText
		report.ParseError = err.Error()
		return report, nil
	}

	validator := valuation.NewValidator(valuation.WithReferenceYear(s.year()))
	result := validator.Validate(p.record, est, req.Benchmark)
	if !result.IsValid || len(result.Warnings) > 0 {
		s.logger.Warn("Valuation flagged by validation",
			zap.String("request_id", req.RequestID),
			zap.String("vin", p.vin),
			zap.Strings("errors", result.Errors),
			zap.Strings("warnings", result.Warnings),
			zap.String("confidence", string(result.Confidence)))
	}

	report.AIValuation = aiValuation(est, result)
	report.Summary = summarize(est, result, p.mileage)

	s.logger.Info("Valuation completed",
		zap.String("request_id", req.RequestID),
		zap.String("report_id", report.ReportID),
		zap.String("provider", prov.Name()),
		zap.Bool("valid", result.IsValid),
		zap.Duration("llm_duration", completion.Duration))

	return report, nil
}

// Consensus asks Claude and Grok for the same valuation and reconciles them.
func (s *Service) Consensus(ctx context.Context, req Request) (*valuation.ConsensusResult, error) {
	first, err := s.providers.Get(provider.ClaudeName)
	if err != nil {
		return nil, err
	}
	second, err := s.providers.Get(provider.GrokName)
	if err != nil {
		return nil, err
	}
	calc, err := valuation.NewConsensusCalculator(first, second, s.logger)
	if err != nil {
		return nil, err
	}

	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := calc.Consensus(ctx, p.record, p.condition, p.prompt)
	if err != nil {
		return nil, err
	}

	for _, op := range []valuation.Opinion{result.First, result.Second} {
		prov, err := s.providers.Get(op.Provider)
		if err != nil || op.Completion == nil {
			continue
		}
		s.recordUsage(req, usage.OperationConsensus, prov, p, op.Completion)
	}
	return result, nil
}

// recordUsage prices a completed call and appends it to the ledger. Pricing
// and ledger failures are logged, never returned.
func (s *Service) recordUsage(req Request, operation string, prov provider.Provider, p *prepared, completion *provider.Completion) *pricing.UsageRecord {
	var actual *pricing.TokenUsage
	if completion.Usage != nil {
		actual = &pricing.TokenUsage{
			InputTokens:  completion.Usage.InputTokens,
			OutputTokens: completion.Usage.OutputTokens,
		}
	}

	rec, err := s.estimator.LogUsage(prov.Model(), p.prompt, completion.RawText, actual, s.cachedFraction)
	if err != nil {
		s.logger.Warn("Skipping usage cost",
			zap.String("model", prov.Model()),
			zap.Error(err))
		return nil
	}

	if s.usage != nil {
		entry := usage.FromRecord(rec)
		entry.RequestID = req.RequestID
		entry.Operation = operation
		entry.Provider = prov.Name()
		entry.VIN = p.vin
		entry.Vehicle = p.record.Describe()
		entry.Condition = string(p.condition)
		if err := s.usage.Record(entry); err != nil {
			s.logger.Error("Failed to record usage",
				zap.String("request_id", req.RequestID),
				zap.Error(err))
		}
	}
	return &rec
}
