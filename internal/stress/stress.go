// Package stress drives batches of classify-then-answer graphs through the
// engine under a mixed workload and reduces the outcomes to a distribution
// report. A seeded source picks which cases stay trivial and which get the
// exhaustion treatment, so a given parameter set always replays the same
// case list.
package stress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/korahq/kora/internal/engine"
	"github.com/korahq/kora/internal/telemetry"
	"github.com/korahq/kora/internal/workload"
)

// Defaults mirrored by the CLI flags.
const (
	DefaultN         = 1000
	DefaultMix       = 0.8
	DefaultSeed      = 42
	DefaultOutPrefix = "docs/reports/stress_report"
)

// Params configure one harness run. N is raised to at least one case and Mix
// is clamped to [0,1]; an empty Adapter falls back to the mock.
type Params struct {
	N         int
	Mix       float64
	Seed      int64
	Adapter   string
	OutPrefix string
}

// ReportParams echo the effective configuration into the report.
type ReportParams struct {
	N              int     `json:"n"`
	Mix            float64 `json:"mix"`
	Seed           int64   `json:"seed"`
	Adapter        string  `json:"adapter"`
	ExhaustionRuns int     `json:"exhaustion_runs"`
}

// Latency is the nearest-rank latency distribution over per-case wall times.
type Latency struct {
	P50  int64 `json:"p50"`
	P95  int64 `json:"p95"`
	P99  int64 `json:"p99"`
	Mean int64 `json:"mean"`
}

// Summary aggregates every case outcome.
type Summary struct {
	TotalRuns               int            `json:"total_runs"`
	OKRuns                  int            `json:"ok_runs"`
	FailedRuns              int            `json:"failed_runs"`
	SkippedLLMRuns          int            `json:"skipped_llm_runs"`
	TotalLLMCalls           int            `json:"total_llm_calls"`
	TokensIn                int            `json:"tokens_in"`
	TokensOut               int            `json:"tokens_out"`
	LatencyMs               Latency        `json:"latency_ms"`
	StageCounts             map[string]int `json:"stage_counts"`
	ErrorTypeCounts         map[string]int `json:"error_type_counts"`
	BudgetBreachCount       int            `json:"budget_breach_count"`
	EscalationRequiredCount int            `json:"escalation_required_count"`
	WallTimeMs              int64          `json:"wall_time_ms"`
}

// Report is the harness outcome document written as JSON and markdown.
type Report struct {
	Timestamp string       `json:"timestamp"`
	Params    ReportParams `json:"params"`
	Summary   Summary      `json:"summary"`
}

// ReportPaths returns the JSON and markdown paths derived from a prefix.
func ReportPaths(prefix string) (jsonPath, mdPath string) {
	return prefix + ".json", prefix + ".md"
}

// Run executes the harness: N cases, Mix of them trivial, an exhaustion
// subset of at least 50 forced to fail, everything reduced into one Report.
// When OutPrefix is set the report is also written to <prefix>.json and
// <prefix>.md. A nil engine gets the default wiring.
func Run(ctx context.Context, eng *engine.Engine, p Params) (Report, error) {
	if eng == nil {
		eng = engine.New()
	}
	n := max(1, p.N)
	mix := min(max(p.Mix, 0), 1)
	adapterName := p.Adapter
	if adapterName == "" {
		adapterName = "mock"
	}

	rng := rand.New(rand.NewSource(p.Seed))
	exhaustionRuns := max(50, int(math.Round(float64(n)*0.05)))
	if exhaustionRuns > n {
		exhaustionRuns = n
	}
	exhaust := make(map[int]bool, exhaustionRuns)
	for _, idx := range rng.Perm(n)[:exhaustionRuns] {
		exhaust[idx] = true
	}

	slog.Info("[STRESS] harness begin", "n", n, "mix", mix, "seed", p.Seed,
		"adapter", adapterName, "exhaustion_runs", exhaustionRuns)

	var (
		okRuns             int
		failedRuns         int
		skippedLLMRuns     int
		totalLLMCalls      int
		tokensIn           int
		tokensOut          int
		budgetBreaches     int
		escalationRequired int
		stageCounts        = map[string]int{}
		errorTypeCounts    = map[string]int{}
		latencies          = make([]int64, 0, n)
	)

	startAll := time.Now()
	for idx := 0; idx < n; idx++ { // range-over-int needs Go 1.22; module builds with Go 1.21
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		text := workload.LongText
		if rng.Float64() < mix {
			text = workload.ShortText
		}

		caseStart := time.Now()
		g := workload.StressCase(idx, text, adapterName, exhaust[idx])
		res := eng.Run(ctx, g)
		latencies = append(latencies, time.Since(caseStart).Milliseconds())

		s, err := telemetry.SummarizeValue(res)
		if err != nil {
			return Report{}, fmt.Errorf("stress: summarize case %d: %w", idx, err)
		}
		if s.OK {
			okRuns++
		} else {
			failedRuns++
		}
		totalLLMCalls += s.TotalLLMCalls
		tokensIn += s.TokensIn
		tokensOut += s.TokensOut
		budgetBreaches += s.BudgetBreaches
		escalationRequired += s.EscalationRequired
		for stage, count := range s.StageCounts {
			stageCounts[stage] += count
		}
		if s.EventsSkipped > 0 {
			skippedLLMRuns++
		}
		if res.Error != nil {
			errType := string(res.Error.ErrorType)
			if errType == "" {
				errType = "UNKNOWN"
			}
			errorTypeCounts[errType]++
		}
	}

	sortedLatencies := append([]int64(nil), latencies...)
	slices.Sort(sortedLatencies)
	var mean int64
	if len(latencies) > 0 {
		var total int64
		for _, v := range latencies {
			total += v
		}
		mean = total / int64(len(latencies))
	}

	report := Report{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Params: ReportParams{
			N:              n,
			Mix:            mix,
			Seed:           p.Seed,
			Adapter:        adapterName,
			ExhaustionRuns: exhaustionRuns,
		},
		Summary: Summary{
			TotalRuns:      n,
			OKRuns:         okRuns,
			FailedRuns:     failedRuns,
			SkippedLLMRuns: skippedLLMRuns,
			TotalLLMCalls:  totalLLMCalls,
			TokensIn:       tokensIn,
			TokensOut:      tokensOut,
			LatencyMs: Latency{
				P50:  percentile(sortedLatencies, 0.50),
				P95:  percentile(sortedLatencies, 0.95),
				P99:  percentile(sortedLatencies, 0.99),
				Mean: mean,
			},
			StageCounts:             stageCounts,
			ErrorTypeCounts:         errorTypeCounts,
			BudgetBreachCount:       budgetBreaches,
			EscalationRequiredCount: escalationRequired,
			WallTimeMs:              time.Since(startAll).Milliseconds(),
		},
	}

	if p.OutPrefix != "" {
		if err := writeReports(report, p.OutPrefix); err != nil {
			return Report{}, err
		}
	}
	slog.Info("[STRESS] harness complete", "n", n, "ok", okRuns, "failed", failedRuns, "adapter", adapterName)
	return report, nil
}

// percentile picks the nearest-rank sample from sorted values, rounding half
// to even. Empty input yields zero.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.RoundToEven(float64(len(sorted)-1) * pct))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func writeReports(r Report, prefix string) error {
	if dir := filepath.Dir(prefix); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("stress: create report dir: %w", err)
		}
	}
	jsonPath, mdPath := ReportPaths(prefix)
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("stress: marshal report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("stress: write %s: %w", jsonPath, err)
	}
	if err := os.WriteFile(mdPath, []byte(renderMarkdown(r)), 0o644); err != nil {
		return fmt.Errorf("stress: write %s: %w", mdPath, err)
	}
	slog.Info("[STRESS] reports written", "json", jsonPath, "markdown", mdPath)
	return nil
}

func renderMarkdown(r Report) string {
	s := r.Summary
	lines := []string{
		fmt.Sprintf("# Stress Test Report (%s)", r.Timestamp),
		"",
		"## Parameters",
		"",
		fmt.Sprintf("- n: %d", r.Params.N),
		"- mix: " + strconv.FormatFloat(r.Params.Mix, 'f', -1, 64),
		fmt.Sprintf("- seed: %d", r.Params.Seed),
		"- adapter: " + r.Params.Adapter,
		fmt.Sprintf("- exhaustion_runs: %d", r.Params.ExhaustionRuns),
		"",
		"## Summary",
		"",
		"| metric | value |",
		"|---|---:|",
		fmt.Sprintf("| total_runs | %d |", s.TotalRuns),
		fmt.Sprintf("| ok_runs | %d |", s.OKRuns),
		fmt.Sprintf("| failed_runs | %d |", s.FailedRuns),
		fmt.Sprintf("| skipped_llm_runs | %d |", s.SkippedLLMRuns),
		fmt.Sprintf("| total_llm_calls | %d |", s.TotalLLMCalls),
		fmt.Sprintf("| tokens_in | %d |", s.TokensIn),
		fmt.Sprintf("| tokens_out | %d |", s.TokensOut),
		fmt.Sprintf("| latency_p50_ms | %d |", s.LatencyMs.P50),
		fmt.Sprintf("| latency_p95_ms | %d |", s.LatencyMs.P95),
		fmt.Sprintf("| latency_p99_ms | %d |", s.LatencyMs.P99),
		fmt.Sprintf("| budget_breach_count | %d |", s.BudgetBreachCount),
		fmt.Sprintf("| escalation_required_count | %d |", s.EscalationRequiredCount),
		"",
		"## Breakdown",
		"",
		"- stage_counts: " + jsonLine(s.StageCounts),
		"- error_type_counts: " + jsonLine(s.ErrorTypeCounts),
	}
	return strings.Join(lines, "\n") + "\n"
}

// jsonLine renders a count map compactly with sorted keys.
func jsonLine(m map[string]int) string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}
