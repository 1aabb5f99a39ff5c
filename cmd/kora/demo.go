package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/korahq/kora/internal/adapter"
	"github.com/korahq/kora/internal/engine"
	"github.com/korahq/kora/internal/ir"
	"github.com/korahq/kora/internal/telemetry"
	"github.com/korahq/kora/internal/workload"
)

// DefaultDemoReportOut is where the benchmark report lands unless --out says
// otherwise. The telemetry command turns it into the summary the studio reads.
const DefaultDemoReportOut = "docs/reports/real_app_benchmark.json"

var (
	demoRequest  string
	demoMode     string
	demoHier     bool
	demoRaw      bool
	demoAdapters string
	demoOut      string
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the presentation benchmark workload and write its report",
	Long: `demo executes the production-like presentation workload either through
the runtime (constraint parse, classification, adaptive model stages) or as a
single direct model call, and writes the benchmark report document both modes
share. Without an OPENAI_API_KEY the model stages run against the mock
adapter.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoRequest, "request", workload.DefaultRequest, "user request to benchmark")
	demoCmd.Flags().StringVar(&demoMode, "mode", "kora", "benchmark mode (kora|direct)")
	demoCmd.Flags().BoolVar(&demoHier, "hier", false, "route through the mini/gate/full hierarchical ladder")
	demoCmd.Flags().BoolVar(&demoRaw, "raw", false, "send the unreduced request text (baseline prompt)")
	demoCmd.Flags().StringVar(&demoAdapters, "adapters", "openai", "adapter for the model stages (mock|openai)")
	demoCmd.Flags().StringVar(&demoOut, "out", DefaultDemoReportOut, "report output path")
}

// demoEvents is the reduced event block embedded in the report.
type demoEvents struct {
	OK      int            `json:"ok"`
	Fail    int            `json:"fail"`
	Skipped int            `json:"skipped"`
	Stages  map[string]int `json:"stages"`
}

// demoReport is the benchmark document. Direct mode zeroes kora_events since
// no runtime events exist on that path.
type demoReport struct {
	Timestamp     string         `json:"timestamp"`
	Mode          string         `json:"mode"`
	Provider      string         `json:"provider"`
	Model         string         `json:"model"`
	TotalLLMCalls int            `json:"total_llm_calls"`
	TokensIn      int            `json:"tokens_in"`
	TokensOut     int            `json:"tokens_out"`
	TotalTimeMs   int64          `json:"total_time_ms"`
	KoraEvents    demoEvents     `json:"kora_events"`
	Final         map[string]any `json:"final"`
	Error         string         `json:"error,omitempty"`
}

func runDemo(cmd *cobra.Command, args []string) error {
	if demoMode != "kora" && demoMode != "direct" {
		return fmt.Errorf("unknown mode %q (want kora or direct)", demoMode)
	}
	adapterName := resolveAdapter(demoAdapters)
	eng := buildEngine(cfg.Log.Dir)
	timestamp := time.Now().UTC().Format(time.RFC3339)

	var report demoReport
	if demoMode == "direct" {
		report = runDemoDirect(cmd, eng, adapterName)
	} else {
		report = runDemoKora(cmd, eng, adapterName)
	}
	report.Timestamp = timestamp

	if dir := filepath.Dir(demoOut); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(demoOut, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", demoOut, err)
	}
	fmt.Println(string(data))
	fmt.Printf("Wrote report: %s\n", demoOut)
	return nil
}

// runDemoKora benchmarks the runtime path: the presentation graph with its
// skip logic and, under --hier, the mini/gate/full escalation ladder.
func runDemoKora(cmd *cobra.Command, eng *engine.Engine, adapterName string) demoReport {
	opts := workload.PresentationOpts{
		Hierarchical: demoHier || cfg.HierEscalation,
		Raw:          demoRaw,
	}
	if adapterName != "openai" {
		opts.Adapter = adapterName
		opts.MiniAdapter = adapterName
		opts.FullAdapter = adapterName
	}

	start := time.Now()
	g := workload.Presentation(demoRequest, opts)
	res := eng.Run(cmd.Context(), g)
	elapsed := time.Since(start).Milliseconds()

	report := demoReport{
		Mode:        "kora",
		Provider:    adapterName,
		Model:       adapterModel(eng.Adapters, adapterName),
		TotalTimeMs: elapsed,
		KoraEvents:  demoEvents{Stages: map[string]int{}},
		Final:       res.Final,
	}
	if s, err := telemetry.SummarizeValue(res); err == nil {
		report.TotalLLMCalls = s.TotalLLMCalls
		report.TokensIn = s.TokensIn
		report.TokensOut = s.TokensOut
		report.KoraEvents = demoEvents{
			OK:      s.EventsOK,
			Fail:    s.EventsFail,
			Skipped: s.EventsSkipped,
			Stages:  s.StageCounts,
		}
	}
	if res.Error != nil {
		report.Error = res.Error.Details
	}
	return report
}

// runDemoDirect benchmarks the no-runtime baseline: one adapter call carrying
// the same answer contract the graph's root task requests.
func runDemoDirect(cmd *cobra.Command, eng *engine.Engine, adapterName string) demoReport {
	report := demoReport{
		Mode:       "direct",
		Provider:   adapterName,
		Model:      adapterModel(eng.Adapters, adapterName),
		KoraEvents: demoEvents{Stages: map[string]int{}},
		Final:      map[string]any{},
	}
	a, ok := eng.Adapters.Resolve(adapterName)
	if !ok {
		report.Error = fmt.Sprintf("unknown adapter %q", adapterName)
		return report
	}

	question := workload.CompactQuestion(demoRequest)
	if demoRaw {
		question = workload.RawQuestion(demoRequest)
	}
	start := time.Now()
	r := a.Invoke(cmd.Context(), adapter.Request{
		TaskID:       "direct_call",
		Input:        map[string]any{"question": question},
		OutputSchema: workload.AnswerSchema(),
		Budget:       ir.Budget{MaxTimeMs: 3000, MaxTokens: 400, MaxRetries: 0},
		Attempt:      1,
	})
	report.TotalTimeMs = time.Since(start).Milliseconds()

	if model, _ := r.Meta["model"].(string); model != "" {
		report.Model = model
	}
	report.TokensIn = r.Usage.TokensIn
	report.TokensOut = r.Usage.TokensOut
	if r.OK {
		report.TotalLLMCalls = 1
		report.Final = engine.NormalizeAnswer(r.Output)
	} else {
		report.Error = r.Err
	}
	return report
}
