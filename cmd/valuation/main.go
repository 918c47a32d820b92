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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/vin-valuation/internal/appraisal"
	"github.com/your-org/vin-valuation/internal/autodev"
	"github.com/your-org/vin-valuation/internal/config"
	"github.com/your-org/vin-valuation/internal/health"
	"github.com/your-org/vin-valuation/internal/pricing"
	"github.com/your-org/vin-valuation/internal/provider"
	"github.com/your-org/vin-valuation/internal/resilience"
	"github.com/your-org/vin-valuation/internal/usage"
)

const (
	serviceName    = "vin-valuation"
	serviceVersion = "1.1.0"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, level, err := initializeLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("service", serviceName),
		zap.String("environment", cfg.Environment),
		zap.String("ai_service", masked.Valuation.Provider),
		zap.String("claude_model", masked.Claude.Model),
		zap.String("claude_api_key", masked.Claude.APIKey),
		zap.String("grok_model", masked.Grok.Model),
		zap.String("grok_api_key", masked.Grok.APIKey),
		zap.String("autodev_api_key", masked.AutoDev.APIKey),
		zap.Bool("usage_enabled", masked.Usage.Enabled),
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer a.close()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		err := config.WatchConfig(path, func(updated *config.Config) {
			level.SetLevel(parseLevel(updated.Logging.Level))
			logger.Info("Configuration reloaded", zap.String("log_level", updated.Logging.Level))
		}, func(err error) {
			logger.Warn("Configuration reload failed", zap.Error(err))
		})
		if err != nil {
			logger.Warn("Config watching disabled", zap.Error(err))
		}
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           setupRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting valuation service",
			zap.String("port", cfg.Server.Port),
			zap.Strings("providers", a.providers.Names()),
			zap.String("default_provider", cfg.Valuation.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	logger.Info("Valuation service stopped")
}

// app holds the wired dependencies of the HTTP service.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	service   *appraisal.Service
	providers *provider.Registry
	estimator *pricing.Estimator
	ledger    *usage.Ledger
	health    *health.Manager
	errors    *resilience.ErrorHandler
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	decoder, err := autodev.NewClient(cfg.AutoDev.APIKey, cfg.AutoDev.BaseURL, cfg.AutoDev.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auto.dev client: %w", err)
	}

	providers, err := newProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	table := pricing.DefaultTable()
	if cfg.Pricing.TablePath != "" {
		table, err = pricing.LoadTable(cfg.Pricing.TablePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load pricing table: %w", err)
		}
	}
	estimator := pricing.NewEstimator(table, logger)

	var ledger *usage.Ledger
	if cfg.Usage.Enabled {
		ledger, err = usage.NewLedger(usage.Config{
			StorageType: cfg.Usage.StorageType,
			FilePath:    cfg.Usage.FilePath,
			DBPath:      cfg.Usage.DBPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage ledger: %w", err)
		}
	}

	return assemble(cfg, logger, decoder, providers, estimator, ledger)
}

// assemble wires the service from already-built collaborators.
func assemble(cfg *config.Config, logger *zap.Logger, decoder autodev.Decoder, providers *provider.Registry,
	estimator *pricing.Estimator, ledger *usage.Ledger) (*app, error) {
	opts := []appraisal.Option{
		appraisal.WithDefaultProvider(cfg.Valuation.Provider),
		appraisal.WithReferenceYear(cfg.Valuation.ReferenceYear),
		appraisal.WithAnnualMileage(cfg.Valuation.AnnualMileage),
		appraisal.WithCachedFraction(cfg.Valuation.CachedFraction),
	}
	if ledger != nil {
		opts = append(opts, appraisal.WithUsageRecorder(ledger))
	}

	service, err := appraisal.NewService(decoder, providers, estimator, logger, opts...)
	if err != nil {
		return nil, err
	}

	checks := health.NewManager(serviceName, serviceVersion, logger)
	checks.SetAIService(cfg.Valuation.Provider)
	checks.AddChecker("autodev", health.APIKeyChecker("auto.dev", cfg.AutoDev.APIKey, true))
	checks.AddChecker(provider.ClaudeName, health.APIKeyChecker(provider.ClaudeName, cfg.Claude.APIKey, cfg.Valuation.Provider == config.ProviderClaude))
	checks.AddChecker(provider.GrokName, health.APIKeyChecker(provider.GrokName, cfg.Grok.APIKey, cfg.Valuation.Provider == config.ProviderGrok))
	if ledger != nil {
		checks.AddChecker("usage", health.PingChecker(ledger.StorageType(), ledger.Ping))
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		service:   service,
		providers: providers,
		estimator: estimator,
		ledger:    ledger,
		health:    checks,
		errors:    resilience.NewErrorHandler(logger),
	}, nil
}

// newProviders registers every provider that has an API key.
func newProviders(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	var list []provider.Provider

	if cfg.Claude.APIKey != "" {
		p, err := provider.NewClaudeProvider(provider.ClaudeConfig{
			APIKey:      cfg.Claude.APIKey,
			Endpoint:    cfg.Claude.Endpoint,
			Model:       cfg.Claude.Model,
			MaxTokens:   cfg.Claude.MaxTokens,
			Temperature: cfg.Claude.Temperature,
			Timeout:     cfg.Claude.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude provider: %w", err)
		}
		list = append(list, p)
	}

	if cfg.Grok.APIKey != "" {
		p, err := provider.NewGrokProvider(provider.GrokConfig{
			APIKey:      cfg.Grok.APIKey,
			Endpoint:    cfg.Grok.Endpoint,
			Model:       cfg.Grok.Model,
			MaxTokens:   cfg.Grok.MaxTokens,
			Temperature: cfg.Grok.Temperature,
			Timeout:     cfg.Grok.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Grok provider: %w", err)
		}
		list = append(list, p)
	}

	if len(list) == 0 {
		return nil, errors.New("no valuation provider configured: set CLAUDE_API_KEY or GROK_API_KEY")
	}
	return provider.NewRegistry(list...), nil
}

func (a *app) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("Failed to close usage ledger", zap.Error(err))
		}
	}
}

// initializeLogger creates a logger based on configuration settings. The
// returned level can be changed at runtime.
func initializeLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	var zapConfig zap.Config

	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))
	zapConfig.Level = level

	if cfg.Logging.Output == "file" {
		zapConfig.OutputPaths = []string{"valuation.log"}
		zapConfig.ErrorOutputPaths = []string{"valuation.log"}
	} else {
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := zapConfig.Build()
	return logger, level, err
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
