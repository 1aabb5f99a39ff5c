package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/korahq/kora/internal/telemetry"
)

var (
	telemetryInput    string
	telemetryJSONOut  string
	telemetryMDOut    string
	telemetryPriceIn  float64
	telemetryPriceOut float64
	telemetryCompare  string
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Summarize a run or report JSON file",
	Long: `telemetry reduces a run result or benchmark report to a flat summary,
writes it as JSON and markdown next to the input, and prints it. With
--compare, the two documents are paired kora/direct by their "mode" field and
the estimated savings delta is attached.`,
	RunE: runTelemetry,
}

func init() {
	telemetryCmd.Flags().StringVar(&telemetryInput, "input", "", "path to run/report JSON (required)")
	telemetryCmd.Flags().StringVar(&telemetryJSONOut, "json-out", "", "output path for telemetry JSON (default <stem>.telemetry.json)")
	telemetryCmd.Flags().StringVar(&telemetryMDOut, "md-out", "", "output path for telemetry markdown report (default <stem>.telemetry.md)")
	telemetryCmd.Flags().Float64Var(&telemetryPriceIn, "price-input", 0, "override input price per 1k tokens")
	telemetryCmd.Flags().Float64Var(&telemetryPriceOut, "price-output", 0, "override output price per 1k tokens")
	telemetryCmd.Flags().StringVar(&telemetryCompare, "compare", "", "second run/report JSON to compute savings against")
	_ = telemetryCmd.MarkFlagRequired("input")
}

func runTelemetry(cmd *cobra.Command, args []string) error {
	var priceIn, priceOut *float64
	if cmd.Flags().Changed("price-input") {
		priceIn = &telemetryPriceIn
	}
	if cmd.Flags().Changed("price-output") {
		priceOut = &telemetryPriceOut
	}
	if p := cfg.Pricing.InputPer1K; priceIn == nil && p != nil {
		priceIn = p
	}
	if p := cfg.Pricing.OutputPer1K; priceOut == nil && p != nil {
		priceOut = p
	}

	obj, err := telemetry.LoadJSON(telemetryInput)
	if err != nil {
		return err
	}
	summary := summarizeDoc(obj, priceIn, priceOut)

	if telemetryCompare != "" {
		compareObj, err := telemetry.LoadJSON(telemetryCompare)
		if err != nil {
			return err
		}
		compareSummary := summarizeDoc(compareObj, priceIn, priceOut)
		savings := pairSavings(obj, summary, compareObj, compareSummary)
		summary.Savings = &savings
	}

	jsonOut := telemetryJSONOut
	if jsonOut == "" {
		jsonOut = defaultOutPath(telemetryInput, ".telemetry.json")
	}
	mdOut := telemetryMDOut
	if mdOut == "" {
		mdOut = defaultOutPath(telemetryInput, ".telemetry.md")
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(jsonOut, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", jsonOut, err)
	}
	md := telemetry.RenderMarkdown(summary, telemetryInput, telemetryCompare)
	if err := os.WriteFile(mdOut, []byte(md), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", mdOut, err)
	}

	printSummary(summary)
	fmt.Printf("Saved telemetry JSON: %s\n", jsonOut)
	fmt.Printf("Saved telemetry Markdown: %s\n", mdOut)
	return nil
}

// summarizeDoc reduces one document, pricing it against its own model field
// merged with any per-direction overrides.
func summarizeDoc(obj map[string]any, priceIn, priceOut *float64) telemetry.Summary {
	model := telemetry.DefaultModel
	if m, _ := obj["model"].(string); m != "" {
		model = m
	}
	p, ok := telemetry.ResolvePricing(model, priceIn, priceOut)
	if !ok {
		return telemetry.SummarizeWithCost(obj, nil)
	}
	return telemetry.SummarizeWithCost(obj, &p)
}

// pairSavings orders the two documents direct-then-kora by their mode fields.
// When neither declares a mode, the compare document is treated as direct.
func pairSavings(obj map[string]any, s telemetry.Summary, compareObj map[string]any, cs telemetry.Summary) telemetry.Savings {
	cost := func(sum telemetry.Summary) float64 {
		if sum.EstimatedCostUSD == nil {
			return 0
		}
		return *sum.EstimatedCostUSD
	}
	inputMode := strings.ToLower(asModeString(obj["mode"]))
	compareMode := strings.ToLower(asModeString(compareObj["mode"]))
	if inputMode == "direct" && compareMode == "kora" {
		return telemetry.ComputeSavings(cost(s), cost(cs))
	}
	return telemetry.ComputeSavings(cost(cs), cost(s))
}

func asModeString(v any) string {
	s, _ := v.(string)
	return s
}

func defaultOutPath(input, suffix string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(input), stem+suffix)
}

func printSummary(s telemetry.Summary) {
	fmt.Println("Telemetry Summary")
	fmt.Printf("- ok: %v\n", s.OK)
	fmt.Printf("- total_time_ms: %d\n", s.TotalTimeMs)
	fmt.Printf("- total_llm_calls: %d\n", s.TotalLLMCalls)
	fmt.Printf("- tokens_in: %d\n", s.TokensIn)
	fmt.Printf("- tokens_out: %d\n", s.TokensOut)
	fmt.Printf("- events_ok: %d\n", s.EventsOK)
	fmt.Printf("- events_fail: %d\n", s.EventsFail)
	fmt.Printf("- events_skipped: %d\n", s.EventsSkipped)
	fmt.Printf("- budget_breaches: %d\n", s.BudgetBreaches)
	fmt.Printf("- escalation_required: %d\n", s.EscalationRequired)
	if s.EstimatedCostUSD != nil {
		fmt.Printf("- model: %s\n", s.Model)
		fmt.Printf("- estimated_cost_usd: %s\n", telemetry.FormatFloat(*s.EstimatedCostUSD))
	}
	fmt.Println("- stage_counts:")
	if len(s.StageCounts) == 0 {
		fmt.Println("  - (none)")
	} else {
		stages := make([]string, 0, len(s.StageCounts))
		for stage := range s.StageCounts {
			stages = append(stages, stage)
		}
		sort.Strings(stages)
		for _, stage := range stages {
			fmt.Printf("  - %s: %d\n", stage, s.StageCounts[stage])
		}
	}
	if s.Savings != nil {
		fmt.Println("Savings Summary")
		fmt.Printf("- direct_cost_usd: %s\n", telemetry.FormatFloat(s.Savings.DirectCostUSD))
		fmt.Printf("- kora_cost_usd: %s\n", telemetry.FormatFloat(s.Savings.KoraCostUSD))
		fmt.Printf("- savings_usd: %s\n", telemetry.FormatFloat(s.Savings.SavingsUSD))
		fmt.Printf("- savings_percent: %s\n", telemetry.FormatFloat(s.Savings.SavingsPercent))
	}
}
