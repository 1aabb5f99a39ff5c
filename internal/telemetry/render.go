package telemetry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// RenderMarkdown formats a summary as a markdown report: a metric table, a
// stage-count table, and a savings section when a comparison was attached.
// sourcePath and comparePath are informational and may be empty.
func RenderMarkdown(s Summary, sourcePath, comparePath string) string {
	var b strings.Builder
	b.WriteString("# Telemetry Report\n\n")
	if sourcePath != "" {
		fmt.Fprintf(&b, "- source: `%s`\n", sourcePath)
	}
	if comparePath != "" {
		fmt.Fprintf(&b, "- compare: `%s`\n", comparePath)
	}
	if sourcePath != "" || comparePath != "" {
		b.WriteByte('\n')
	}

	b.WriteString("| Metric | Value |\n| --- | --- |\n")
	for _, row := range metricRows(s) {
		fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
	}

	b.WriteString("\n## Stage Counts\n\n")
	if len(s.StageCounts) == 0 {
		b.WriteString("(none)\n")
	} else {
		b.WriteString("| Stage | Count |\n| --- | --- |\n")
		for _, stage := range sortedStages(s.StageCounts) {
			fmt.Fprintf(&b, "| %s | %d |\n", stage, s.StageCounts[stage])
		}
	}

	if s.Savings != nil {
		b.WriteString("\n## Savings\n\n| Metric | Value |\n| --- | --- |\n")
		for _, row := range savingsRows(*s.Savings) {
			fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
		}
	}
	return b.String()
}

// RenderTable formats a summary as an aligned two-column terminal table,
// stage counts and savings included.
func RenderTable(s Summary) string {
	rows := metricRows(s)
	for _, stage := range sortedStages(s.StageCounts) {
		rows = append(rows, [2]string{"stage " + stage, strconv.Itoa(s.StageCounts[stage])})
	}
	if s.Savings != nil {
		rows = append(rows, savingsRows(*s.Savings)...)
	}
	return Table(rows)
}

// Table aligns rows into two columns. The first column is padded by display
// width, not byte length, so wide glyphs keep the value column on the grid.
func Table(rows [][2]string) string {
	w := 0
	for _, row := range rows {
		if rw := runewidth.StringWidth(row[0]); rw > w {
			w = rw
		}
	}
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(runewidth.FillRight(row[0], w+2))
		b.WriteString(row[1])
		b.WriteByte('\n')
	}
	return b.String()
}

func metricRows(s Summary) [][2]string {
	rows := [][2]string{
		{"ok", strconv.FormatBool(s.OK)},
		{"total_time_ms", strconv.FormatInt(s.TotalTimeMs, 10)},
		{"total_llm_calls", strconv.Itoa(s.TotalLLMCalls)},
		{"tokens_in", strconv.Itoa(s.TokensIn)},
		{"tokens_out", strconv.Itoa(s.TokensOut)},
		{"events_ok", strconv.Itoa(s.EventsOK)},
		{"events_fail", strconv.Itoa(s.EventsFail)},
		{"events_skipped", strconv.Itoa(s.EventsSkipped)},
		{"budget_breaches", strconv.Itoa(s.BudgetBreaches)},
		{"escalation_required", strconv.Itoa(s.EscalationRequired)},
	}
	if s.EstimatedCostUSD != nil {
		rows = append(rows,
			[2]string{"model", s.Model},
			[2]string{"estimated_cost_usd", FormatFloat(*s.EstimatedCostUSD)},
		)
	}
	return rows
}

func savingsRows(sv Savings) [][2]string {
	return [][2]string{
		{"direct_cost_usd", FormatFloat(sv.DirectCostUSD)},
		{"kora_cost_usd", FormatFloat(sv.KoraCostUSD)},
		{"savings_usd", FormatFloat(sv.SavingsUSD)},
		{"savings_percent", FormatFloat(sv.SavingsPercent)},
	}
}

func sortedStages(counts map[string]int) []string {
	stages := make([]string, 0, len(counts))
	for stage := range counts {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	return stages
}

// FormatFloat renders v without exponent notation or trailing zeros.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
