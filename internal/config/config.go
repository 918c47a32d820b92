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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// Supported valuation providers.
const (
	ProviderClaude = "claude"
	ProviderGrok   = "grok"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	AutoDev   AutoDevConfig   `mapstructure:"autodev"`
	Claude    LLMConfig       `mapstructure:"claude"`
	Grok      LLMConfig       `mapstructure:"grok"`
	Valuation ValuationConfig `mapstructure:"valuation"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Usage     UsageConfig     `mapstructure:"usage"`

	// Environment is the deployment name (development, staging, production).
	Environment string `mapstructure:"-"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AutoDevConfig contains VIN decoder API configuration
type AutoDevConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMConfig contains the settings shared by both valuation providers
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ValuationConfig controls provider selection and mileage expectations
type ValuationConfig struct {
	Provider       string  `mapstructure:"provider"`
	ReferenceYear  int     `mapstructure:"reference_year"`
	AnnualMileage  int     `mapstructure:"annual_mileage"`
	CachedFraction float64 `mapstructure:"cached_fraction"`
}

// PricingConfig points at an optional pricing table override
type PricingConfig struct {
	TablePath string `mapstructure:"table_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// UsageConfig contains usage ledger storage configuration
type UsageConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	StorageType string `mapstructure:"storage_type"`
	FilePath    string `mapstructure:"file_path"`
	DBPath      string `mapstructure:"db_path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	Environment      string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables
// Environment variables take precedence over config file values
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		Environment:      getEnvironment(),
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := setConfigFile(v, opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("VIN_VALUATION")

	if err := v.ReadInConfig(); err != nil {
		// Running purely from environment variables is supported
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Valuation.Provider = strings.ToLower(strings.TrimSpace(config.Valuation.Provider))
	config.Environment = opts.Environment
	if config.Environment == "" {
		config.Environment = getEnvironment()
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3001")
	v.SetDefault("server.request_timeout", 90*time.Second)

	v.SetDefault("autodev.base_url", "https://api.auto.dev")
	v.SetDefault("autodev.timeout", 15*time.Second)

	v.SetDefault("claude.endpoint", "https://api.anthropic.com/v1")
	v.SetDefault("claude.model", "claude-3-haiku-20240307")
	v.SetDefault("claude.max_tokens", 4000)
	v.SetDefault("claude.temperature", 0.3)
	v.SetDefault("claude.timeout", 60*time.Second)

	v.SetDefault("grok.endpoint", "https://api.x.ai/v1")
	v.SetDefault("grok.model", "grok-4")
	v.SetDefault("grok.max_tokens", 4000)
	v.SetDefault("grok.temperature", 0.3)
	v.SetDefault("grok.timeout", 60*time.Second)

	v.SetDefault("valuation.provider", ProviderClaude)
	v.SetDefault("valuation.reference_year", 0)
	v.SetDefault("valuation.annual_mileage", 12000)
	v.SetDefault("valuation.cached_fraction", 0.0)

	v.SetDefault("pricing.table_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("usage.enabled", true)
	v.SetDefault("usage.storage_type", "file")
	v.SetDefault("usage.file_path", "./usage.log")
	v.SetDefault("usage.db_path", "./usage.db")
}

// setConfigFile sets the configuration file path with fallback logic
func setConfigFile(v *viper.Viper, configPath string) error {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return nil
	}

	// Default fallback locations; a missing file leaves defaults and env in charge
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	return nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"PORT":               "server.port",
		"AUTO_DEV_API_KEY":   "autodev.api_key",
		"AUTO_DEV_BASE_URL":  "autodev.base_url",
		"CLAUDE_API_KEY":     "claude.api_key",
		"CLAUDE_MODEL":       "claude.model",
		"GROK_API_KEY":       "grok.api_key",
		"GROK_MODEL":         "grok.model",
		"AI_SERVICE":         "valuation.provider",
		"PRICING_TABLE_PATH": "pricing.table_path",
		"USAGE_DB_PATH":      "usage.db_path",
		"LOG_LEVEL":          "logging.level",
		"LOG_FORMAT":         "logging.format",
		"LOG_OUTPUT":         "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates the configuration for required fields and valid values
func validateConfig(config *Config) error {
	var errors []ValidationError

	if config.AutoDev.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "autodev.api_key",
			Message: "auto.dev API key is required. Set via config file or AUTO_DEV_API_KEY environment variable",
		})
	}

	validProviders := []string{ProviderClaude, ProviderGrok}
	if !contains(validProviders, config.Valuation.Provider) {
		errors = append(errors, ValidationError{
			Field:   "valuation.provider",
			Message: fmt.Sprintf("provider must be one of: %s", strings.Join(validProviders, ", ")),
		})
	}

	// Only the selected provider needs a key; consensus checks its own pair at request time
	switch config.Valuation.Provider {
	case ProviderClaude:
		if config.Claude.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "claude.api_key",
				Message: "Claude API key is required when provider is claude. Set via CLAUDE_API_KEY",
			})
		}
	case ProviderGrok:
		if config.Grok.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "grok.api_key",
				Message: "Grok API key is required when provider is grok. Set via GROK_API_KEY",
			})
		}
	}

	for name, llm := range map[string]LLMConfig{"claude": config.Claude, "grok": config.Grok} {
		if llm.MaxTokens <= 0 {
			errors = append(errors, ValidationError{
				Field:   name + ".max_tokens",
				Message: "max_tokens must be greater than 0",
			})
		}
		if llm.Temperature < 0 || llm.Temperature > 2 {
			errors = append(errors, ValidationError{
				Field:   name + ".temperature",
				Message: "temperature must be between 0 and 2",
			})
		}
	}

	if config.Valuation.AnnualMileage <= 0 {
		errors = append(errors, ValidationError{
			Field:   "valuation.annual_mileage",
			Message: "annual_mileage must be greater than 0",
		})
	}

	if config.Valuation.ReferenceYear < 0 {
		errors = append(errors, ValidationError{
			Field:   "valuation.reference_year",
			Message: "reference_year must be 0 (current year) or a positive year",
		})
	}

	if config.Valuation.CachedFraction < 0 || config.Valuation.CachedFraction > 1 {
		errors = append(errors, ValidationError{
			Field:   "valuation.cached_fraction",
			Message: "cached_fraction must be between 0 and 1",
		})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	validStorageTypes := []string{"file", "sqlite"}
	if !contains(validStorageTypes, config.Usage.StorageType) {
		errors = append(errors, ValidationError{
			Field:   "usage.storage_type",
			Message: fmt.Sprintf("storage type must be one of: %s", strings.Join(validStorageTypes, ", ")),
		})
	}

	if config.Usage.StorageType == "sqlite" && config.Usage.DBPath != "" {
		if err := validateDirectoryExists(filepath.Dir(config.Usage.DBPath)); err != nil {
			errors = append(errors, ValidationError{
				Field:   "usage.db_path",
				Message: fmt.Sprintf("usage database directory does not exist: %s", filepath.Dir(config.Usage.DBPath)),
			})
		}
	}

	if len(errors) > 0 {
		var errorMessages []string
		for _, err := range errors {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errorMessages, "\n"))
	}

	return nil
}

// ReferenceYearOrNow resolves the configured reference year, 0 meaning the current calendar year
func (c *Config) ReferenceYearOrNow() int {
	if c.Valuation.ReferenceYear > 0 {
		return c.Valuation.ReferenceYear
	}
	return time.Now().Year()
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.AutoDev.APIKey != "" {
		masked.AutoDev.APIKey = maskValue(masked.AutoDev.APIKey)
	}
	if masked.Claude.APIKey != "" {
		masked.Claude.APIKey = maskValue(masked.Claude.APIKey)
	}
	if masked.Grok.APIKey != "" {
		masked.Grok.APIKey = maskValue(masked.Grok.APIKey)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateDirectoryExists checks if a directory exists
func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// getEnvironment returns the current environment (development, production, etc.)
func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "development"
}

// WatchConfig reloads the configuration whenever the file at configPath changes
// and hands the freshly validated result to callback. onError receives reload failures.
func WatchConfig(configPath string, callback func(*Config), onError func(error)) error {
	if configPath == "" {
		return fmt.Errorf("config watching requires an explicit config path")
	}

	v := viper.New()
	if err := setConfigFile(v, configPath); err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       configPath,
			Environment:      getEnvironment(),
			ValidateRequired: true,
		})
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to reload config %s: %w", e.Name, err))
			}
			return
		}

		callback(config)
	})
	v.WatchConfig()

	return nil
}
