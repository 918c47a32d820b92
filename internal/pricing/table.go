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

// Package pricing estimates token counts and the dollar cost of LLM calls
// from a static per-model rate table.
package pricing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ErrUnknownModel is returned when a model id is not in the pricing table.
var ErrUnknownModel = errors.New("unknown model")

// Provider names as reported in cost records.
const (
	ProviderAnthropic = "Anthropic"
	ProviderXAI       = "xAI"
)

// Model is one entry of the pricing table. Rates are USD per million tokens.
type Model struct {
	ID                        string           `json:"id"`
	Provider                  string           `json:"provider"`
	Description               string           `json:"description,omitempty"`
	InputCostPerMillion       decimal.Decimal  `json:"input_cost_per_1m_tokens"`
	OutputCostPerMillion      decimal.Decimal  `json:"output_cost_per_1m_tokens"`
	CachedInputCostPerMillion *decimal.Decimal `json:"cached_input_cost_per_1m_tokens,omitempty"`
	ContextWindowTokens       int              `json:"context_window"`
	MaxOutputTokens           int              `json:"max_tokens,omitempty"`
}

// SupportsCachedRate reports whether the model bills cached input separately.
func (m Model) SupportsCachedRate() bool {
	return m.CachedInputCostPerMillion != nil
}

// Table is an immutable model id to rate lookup. Build it once at startup
// and share it; nothing mutates it afterwards.
type Table struct {
	models map[string]Model
	order  []string
}

// NewTable validates the entries and builds a table preserving their order.
func NewTable(models []Model) (*Table, error) {
	t := &Table{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("pricing model without id")
		}
		if _, dup := t.models[m.ID]; dup {
			return nil, fmt.Errorf("duplicate pricing model %q", m.ID)
		}
		if m.InputCostPerMillion.IsNegative() || m.OutputCostPerMillion.IsNegative() {
			return nil, fmt.Errorf("pricing model %q has a negative rate", m.ID)
		}
		if m.CachedInputCostPerMillion != nil && m.CachedInputCostPerMillion.IsNegative() {
			return nil, fmt.Errorf("pricing model %q has a negative cached rate", m.ID)
		}
		if m.Provider == "" {
			m.Provider = ProviderFor(m.ID)
		}
		t.models[m.ID] = m
		t.order = append(t.order, m.ID)
	}
	return t, nil
}

// Lookup returns the pricing entry for modelID.
func (t *Table) Lookup(modelID string) (Model, error) {
	m, ok := t.models[modelID]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return m, nil
}

// Models returns the table entries in declaration order.
func (t *Table) Models() []Model {
	out := make([]Model, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.models[id])
	}
	return out
}

// Len returns the number of models in the table.
func (t *Table) Len() int {
	return len(t.order)
}

// ProviderFor infers the billing provider from a model id.
func ProviderFor(modelID string) string {
	if strings.Contains(strings.ToLower(modelID), "claude") {
		return ProviderAnthropic
	}
	return ProviderXAI
}

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func usdPtr(s string) *decimal.Decimal {
	d := usd(s)
	return &d
}

// DefaultTable returns the built-in Claude and Grok rates (August 2025).
func DefaultTable() *Table {
	t, err := NewTable([]Model{
		{
			ID:                   "claude-opus-4-1-20250805",
			Description:          "Most capable Claude 4 model",
			InputCostPerMillion:  usd("15.00"),
			OutputCostPerMillion: usd("75.00"),
			ContextWindowTokens:  200000,
			MaxOutputTokens:      32000,
		},
		{
			ID:                   "claude-opus-4-20250514",
			Description:          "Previous Claude 4 Opus flagship",
			InputCostPerMillion:  usd("15.00"),
			OutputCostPerMillion: usd("75.00"),
			ContextWindowTokens:  200000,
			MaxOutputTokens:      32000,
		},
		{
			ID:                   "claude-sonnet-4-20250514",
			Description:          "Balanced Claude 4 model",
			InputCostPerMillion:  usd("3.00"),
			OutputCostPerMillion: usd("15.00"),
			ContextWindowTokens:  200000,
			MaxOutputTokens:      64000,
		},
		{
			ID:                   "claude-3-7-sonnet-20250219",
			Description:          "Claude 3.7 Sonnet with early extended thinking",
			InputCostPerMillion:  usd("3.00"),
			OutputCostPerMillion: usd("15.00"),
			ContextWindowTokens:  200000,
			MaxOutputTokens:      64000,
		},
		{
			ID:                   "claude-3-5-sonnet-20241022",
			Description:          "Claude 3.5 Sonnet",
			InputCostPerMillion:  usd("3.00"),
			OutputCostPerMillion: usd("15.00"),
			ContextWindowTokens:  200000,
			MaxOutputTokens:      8192,
		},
		{
			ID:                   "claude-3-5-haiku-20241022",
			Description:          "Fast, cost-effective Claude 3.5 model",
			InputCostPerMillion:  usd("0.80"),
			OutputCostPerMillion: usd("4.00"),
			ContextWindowTokens:  200000,
			MaxOutputTokens:      8192,
		},
		{
			ID:                   "claude-3-haiku-20240307",
			Description:          "Most cost-effective legacy Claude 3 model",
			InputCostPerMillion:  usd("0.25"),
			OutputCostPerMillion: usd("1.25"),
			ContextWindowTokens:  200000,
			MaxOutputTokens:      4096,
		},
		{
			ID:                        "grok-4",
			Description:               "Grok 4 reasoning model with vision",
			InputCostPerMillion:       usd("3.00"),
			OutputCostPerMillion:      usd("15.00"),
			CachedInputCostPerMillion: usdPtr("0.75"),
			ContextWindowTokens:       256000,
		},
		{
			ID:                        "grok-3",
			Description:               "Previous generation Grok model",
			InputCostPerMillion:       usd("3.00"),
			OutputCostPerMillion:      usd("15.00"),
			CachedInputCostPerMillion: usdPtr("0.75"),
			ContextWindowTokens:       131072,
		},
		{
			ID:                        "grok-3-mini",
			Description:               "Lightweight, cost-effective Grok model",
			InputCostPerMillion:       usd("0.30"),
			OutputCostPerMillion:      usd("0.50"),
			CachedInputCostPerMillion: usdPtr("0.075"),
			ContextWindowTokens:       131072,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("pricing: invalid built-in table: %v", err))
	}
	return t
}

// fileModel is the on-disk shape of a pricing override entry.
type fileModel struct {
	ID               string   `mapstructure:"id"`
	Provider         string   `mapstructure:"provider"`
	Description      string   `mapstructure:"description"`
	InputPerMillion  string   `mapstructure:"input_cost_per_1m_tokens"`
	OutputPerMillion string   `mapstructure:"output_cost_per_1m_tokens"`
	CachedPerMillion *string  `mapstructure:"cached_input_cost_per_1m_tokens"`
	ContextWindow    int      `mapstructure:"context_window"`
	MaxTokens        int      `mapstructure:"max_tokens"`
	Aliases          []string `mapstructure:"aliases"`
}

// LoadTable reads a pricing table from a YAML or JSON file with a top-level
// "models" list. An empty path returns DefaultTable.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("pricing table %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read pricing table: %w", err)
	}

	var doc struct {
		Models []fileModel `mapstructure:"models"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode pricing table: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("pricing table %s defines no models", path)
	}

	models := make([]Model, 0, len(doc.Models))
	for _, fm := range doc.Models {
		m, err := fm.toModel()
		if err != nil {
			return nil, err
		}
		models = append(models, m)
		for _, alias := range fm.Aliases {
			aliased := m
			aliased.ID = alias
			models = append(models, aliased)
		}
	}

	return NewTable(models)
}

func (fm fileModel) toModel() (Model, error) {
	in, err := decimal.NewFromString(fm.InputPerMillion)
	if err != nil {
		return Model{}, fmt.Errorf("model %q: invalid input rate %q: %w", fm.ID, fm.InputPerMillion, err)
	}
	out, err := decimal.NewFromString(fm.OutputPerMillion)
	if err != nil {
		return Model{}, fmt.Errorf("model %q: invalid output rate %q: %w", fm.ID, fm.OutputPerMillion, err)
	}

	m := Model{
		ID:                   fm.ID,
		Provider:             fm.Provider,
		Description:          fm.Description,
		InputCostPerMillion:  in,
		OutputCostPerMillion: out,
		ContextWindowTokens:  fm.ContextWindow,
		MaxOutputTokens:      fm.MaxTokens,
	}
	if fm.CachedPerMillion != nil && *fm.CachedPerMillion != "" {
		cached, err := decimal.NewFromString(*fm.CachedPerMillion)
		if err != nil {
			return Model{}, fmt.Errorf("model %q: invalid cached rate %q: %w", fm.ID, *fm.CachedPerMillion, err)
		}
		m.CachedInputCostPerMillion = &cached
	}
	return m, nil
}
