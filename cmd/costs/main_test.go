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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vin-valuation/internal/pricing"
)

func runCosts(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestModelsCommand(t *testing.T) {
	out, err := runCosts(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "MODEL")
	assert.Contains(t, out, "grok-3-mini")
	assert.Contains(t, out, "claude-3-haiku-20240307")

	out, err = runCosts(t, "models", "--json")
	require.NoError(t, err)
	var models []pricing.Model
	require.NoError(t, json.Unmarshal([]byte(out), &models))
	assert.Len(t, models, pricing.DefaultTable().Len())
}

func TestEstimateCommand(t *testing.T) {
	t.Run("explicit tokens", func(t *testing.T) {
		out, err := runCosts(t, "estimate", "--model", "claude-3-haiku-20240307", "--input", "1000000", "--output", "0", "--json")
		require.NoError(t, err)
		var breakdown struct {
			TotalCost string `json:"total_cost"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &breakdown))
		assert.Equal(t, "0.25", breakdown.TotalCost)
	})

	t.Run("cached input", func(t *testing.T) {
		out, err := runCosts(t, "estimate", "-m", "grok-4", "--input", "1000000", "--output", "0", "--cached", "1", "--json")
		require.NoError(t, err)
		var breakdown struct {
			TotalCost string `json:"total_cost"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &breakdown))
		assert.Equal(t, "0.75", breakdown.TotalCost)
	})

	t.Run("prompt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompt.txt")
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a", 380)), 0o600))

		out, err := runCosts(t, "estimate", "-m", "grok-4", "--prompt-file", path, "--json")
		require.NoError(t, err)
		var estimate pricing.PreflightEstimate
		require.NoError(t, json.Unmarshal([]byte(out), &estimate))
		assert.Equal(t, 100, estimate.InputTokens)
	})

	t.Run("typical valuation uses configured model", func(t *testing.T) {
		out, err := runCosts(t, "estimate", "--condition", "poor")
		require.NoError(t, err)
		assert.Contains(t, out, "claude-3-haiku-20240307")
		assert.Contains(t, out, "Total cost")
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := runCosts(t, "estimate", "-m", "gpt-99")
		assert.ErrorIs(t, err, pricing.ErrUnknownModel)
	})

	t.Run("bad condition", func(t *testing.T) {
		_, err := runCosts(t, "estimate", "--condition", "mint")
		assert.Error(t, err)
	})

	t.Run("cached fraction out of range", func(t *testing.T) {
		_, err := runCosts(t, "estimate", "--cached", "2")
		assert.Error(t, err)
	})
}

func TestProjectCommand(t *testing.T) {
	out, err := runCosts(t, "project", "-m", "claude-3-haiku-20240307", "-r", "1000", "--json")
	require.NoError(t, err)

	var p struct {
		MonthlyCost string `json:"total_monthly_cost"`
		Requests    int    `json:"requests_per_month"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, 1000, p.Requests)
	assert.Equal(t, "1.625", p.MonthlyCost)

	_, err = runCosts(t, "project", "-r", "-1")
	assert.Error(t, err)
}

func TestCompareCommand(t *testing.T) {
	out, err := runCosts(t, "compare")
	require.NoError(t, err)
	assert.Contains(t, out, "CONDITION")
	assert.Contains(t, out, "excellent")
}

func TestOptimizeCommand(t *testing.T) {
	out, err := runCosts(t, "optimize", "-m", "grok-4", "-b", "1000", "--json")
	require.NoError(t, err)

	var result struct {
		Alternatives []struct {
			Model        string `json:"model"`
			WithinBudget bool   `json:"within_budget"`
		} `json:"alternatives"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Alternatives, 3)
	assert.Equal(t, "grok-3-mini", result.Alternatives[0].Model)
	assert.True(t, result.Alternatives[0].WithinBudget)

	_, err = runCosts(t, "optimize", "--budget", "lots")
	assert.Error(t, err)
}

func TestTableOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	table := `{"models": [{"id": "local-model", "provider": "local", "input_cost_per_1m_tokens": "1", "output_cost_per_1m_tokens": "2"}]}`
	require.NoError(t, os.WriteFile(path, []byte(table), 0o600))

	out, err := runCosts(t, "models", "--table", path, "--json")
	require.NoError(t, err)
	var models []pricing.Model
	require.NoError(t, json.Unmarshal([]byte(out), &models))
	require.Len(t, models, 1)
	assert.Equal(t, "local-model", models[0].ID)
}
