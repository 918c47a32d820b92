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

// Command costs prices valuation workloads against the model pricing table.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/vin-valuation/internal/config"
	"github.com/your-org/vin-valuation/internal/pricing"
	"github.com/your-org/vin-valuation/internal/vehicle"
)

const defaultRequestsPerMonth = 1000

type options struct {
	configPath string
	tablePath  string
	asJSON     bool
	cached     float64
	cachedSet  bool

	cfg       *config.Config
	estimator *pricing.Estimator
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "costs",
		Short:        "Estimate LLM costs of VIN valuations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.cachedSet = cmd.Flags().Changed("cached")
			return opts.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVar(&opts.tablePath, "table", "", "Pricing table JSON overriding the built-in rates")
	flags.BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")
	flags.Float64Var(&opts.cached, "cached", 0, "Fraction of input tokens billed at cached rates (0-1)")

	root.AddCommand(
		newModelsCmd(opts),
		newEstimateCmd(opts),
		newProjectCmd(opts),
		newCompareCmd(opts),
		newOptimizeCmd(opts),
	)
	return root
}

func (o *options) load() error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: o.configPath})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	o.cfg = cfg

	path := o.tablePath
	if path == "" {
		path = cfg.Pricing.TablePath
	}
	table := pricing.DefaultTable()
	if path != "" {
		if table, err = pricing.LoadTable(path); err != nil {
			return err
		}
	}
	o.estimator = pricing.NewEstimator(table, zap.NewNop())

	if !o.cachedSet {
		o.cached = cfg.Valuation.CachedFraction
	}
	if o.cached < 0 || o.cached > 1 {
		return fmt.Errorf("--cached must be between 0 and 1, got %v", o.cached)
	}
	return nil
}

func (o *options) defaultModel() string {
	if o.cfg.Valuation.Provider == config.ProviderGrok {
		return o.cfg.Grok.Model
	}
	return o.cfg.Claude.Model
}

func (o *options) print(out io.Writer, v any, table func(w *tabwriter.Writer)) error {
	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	table(w)
	return w.Flush()
}

func usd(d decimal.Decimal) string {
	return "$" + d.StringFixed(6)
}

func newModelsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List priced models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models := opts.estimator.Table().Models()
			return opts.print(cmd.OutOrStdout(), models, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "MODEL\tPROVIDER\tINPUT/1M\tCACHED/1M\tOUTPUT/1M\tCONTEXT")
				for _, m := range models {
					cached := "-"
					if m.CachedInputCostPerMillion != nil {
						cached = m.CachedInputCostPerMillion.String()
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", m.ID, m.Provider,
						m.InputCostPerMillion, cached, m.OutputCostPerMillion, m.ContextWindowTokens)
				}
			})
		},
	}
}

func newEstimateCmd(opts *options) *cobra.Command {
	var (
		model      string
		promptFile string
		input      int
		output     int
		condition  string
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Price a prompt, explicit token counts, or a typical valuation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if model == "" {
				model = opts.defaultModel()
			}
			out := cmd.OutOrStdout()

			if promptFile != "" {
				text, err := os.ReadFile(promptFile)
				if err != nil {
					return fmt.Errorf("failed to read prompt: %w", err)
				}
				estimate, err := opts.estimator.EstimateBeforeCall(model, string(text))
				if err != nil {
					return err
				}
				return opts.print(out, estimate, func(w *tabwriter.Writer) {
					fmt.Fprintf(w, "Model\t%s\n", estimate.Model)
					fmt.Fprintf(w, "Input tokens\t%d\n", estimate.InputTokens)
					fmt.Fprintf(w, "Assumed output tokens\t%d\n", estimate.AssumedOutputTokens)
					fmt.Fprintf(w, "Estimated cost\t%s\n", usd(estimate.EstimatedCost))
				})
			}

			var (
				breakdown pricing.CostBreakdown
				err       error
			)
			if cmd.Flags().Changed("input") || cmd.Flags().Changed("output") {
				if input < 0 || output < 0 {
					return errors.New("token counts must not be negative")
				}
				breakdown, err = opts.estimator.Cost(model, input, output, opts.cached)
			} else {
				var c vehicle.Condition
				if c, err = vehicle.ParseCondition(condition); err != nil {
					return err
				}
				breakdown, err = opts.estimator.EstimateValuationCost(model, string(c), opts.cached)
			}
			if err != nil {
				return err
			}
			return opts.print(out, breakdown, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Model\t%s (%s)\n", breakdown.Model, breakdown.Provider)
				fmt.Fprintf(w, "Input tokens\t%d\n", breakdown.InputTokens)
				fmt.Fprintf(w, "Output tokens\t%d\n", breakdown.OutputTokens)
				fmt.Fprintf(w, "Cached fraction\t%.2f\n", breakdown.CachedFraction)
				fmt.Fprintf(w, "Input cost\t%s\n", usd(breakdown.InputCost))
				fmt.Fprintf(w, "Output cost\t%s\n", usd(breakdown.OutputCost))
				fmt.Fprintf(w, "Total cost\t%s\n", usd(breakdown.TotalCost))
			})
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id (defaults to the configured provider's model)")
	cmd.Flags().StringVarP(&promptFile, "prompt-file", "p", "", "Price the prompt in this file")
	cmd.Flags().IntVar(&input, "input", 0, "Input tokens")
	cmd.Flags().IntVar(&output, "output", 0, "Output tokens")
	cmd.Flags().StringVar(&condition, "condition", "good", "Vehicle condition for a typical valuation")
	return cmd
}

func newProjectCmd(opts *options) *cobra.Command {
	var (
		model    string
		requests int
	)

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Forecast monthly spend and margins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if model == "" {
				model = opts.defaultModel()
			}
			p, err := opts.estimator.ProjectMonthly(model, requests, opts.cached)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), p, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Model\t%s\n", p.Model)
				fmt.Fprintf(w, "Requests per month\t%d\n", p.RequestsPerMonth)
				fmt.Fprintf(w, "Cost per request\t%s\n", usd(p.AvgCostPerRequest))
				fmt.Fprintf(w, "Daily\t%s\n", usd(p.DailyCost))
				fmt.Fprintf(w, "Monthly\t%s\n", usd(p.MonthlyCost))
				fmt.Fprintf(w, "Annual\t%s\n", usd(p.AnnualCost))
				fmt.Fprintf(w, "Consumer margin\t%s%%\n", p.Margins.ConsumerMargin.StringFixed(2))
				fmt.Fprintf(w, "Dealer margin\t%s%%\n", p.Margins.DealerMargin.StringFixed(2))
				fmt.Fprintf(w, "Enterprise margin\t%s%%\n", p.Margins.EnterpriseMargin.StringFixed(2))
			})
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id")
	cmd.Flags().IntVarP(&requests, "requests", "r", defaultRequestsPerMonth, "Valuations per month")
	return cmd
}

func newCompareCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Compare every model across condition scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			comparison := opts.estimator.CompareModels(opts.cached)
			return opts.print(cmd.OutOrStdout(), comparison, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "MODEL\tCONDITION\tTOKENS IN/OUT\tCOST\tNO CACHE\tPER 1000")
				for _, m := range comparison {
					for _, s := range m.Scenarios {
						fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n", m.Model, s.Condition,
							s.InputTokens, s.OutputTokens, usd(s.TotalCost), usd(s.TotalCostNoCache), usd(s.CostPer1000))
					}
				}
			})
		},
	}
}

func newOptimizeCmd(opts *options) *cobra.Command {
	var (
		model    string
		requests int
		budget   string
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Find cheaper models for a monthly workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if model == "" {
				model = opts.defaultModel()
			}
			target, err := decimal.NewFromString(budget)
			if err != nil {
				return fmt.Errorf("invalid --budget %q: %w", budget, err)
			}
			result, err := opts.estimator.Optimize(model, requests, target, opts.cached)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), result, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Current\t%s\t%s/month\n", result.CurrentModel, usd(result.CurrentMonthlyCost))
				fmt.Fprintf(w, "Budget\t\t%s/month\n", usd(result.TargetBudget))
				if len(result.Alternatives) == 0 {
					fmt.Fprintln(w, "No cheaper model available")
					return
				}
				fmt.Fprintln(w, "ALTERNATIVE\tMONTHLY\tSAVINGS\tWITHIN BUDGET")
				for _, alt := range result.Alternatives {
					fmt.Fprintf(w, "%s\t%s\t%s%%\t%t\n", alt.Model, usd(alt.MonthlyCost),
						alt.SavingsPercent.StringFixed(1), alt.WithinBudget)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Current model id")
	cmd.Flags().IntVarP(&requests, "requests", "r", defaultRequestsPerMonth, "Valuations per month")
	cmd.Flags().StringVarP(&budget, "budget", "b", "100", "Target monthly budget in USD")
	return cmd
}
