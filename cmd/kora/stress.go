package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/korahq/kora/internal/stress"
)

var (
	stressN        int
	stressMix      float64
	stressSeed     int64
	stressAdapters string
	stressOut      string
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run the mixed-workload stress harness",
	Long: `stress executes N classify-then-answer graphs with a seeded mix of
trivial and model-bound cases plus a forced-exhaustion subset, and writes the
aggregate report as JSON and markdown under the --out prefix.`,
	RunE: runStress,
}

func init() {
	stressCmd.Flags().IntVar(&stressN, "n", stress.DefaultN, "number of cases")
	stressCmd.Flags().Float64Var(&stressMix, "mix", stress.DefaultMix, "share of trivial cases in [0,1]")
	stressCmd.Flags().Int64Var(&stressSeed, "seed", stress.DefaultSeed, "case sampling seed")
	stressCmd.Flags().StringVar(&stressAdapters, "adapters", "openai", "adapter for model-bound cases (mock|openai)")
	stressCmd.Flags().StringVar(&stressOut, "out", stress.DefaultOutPrefix, "report path prefix")
}

func runStress(cmd *cobra.Command, args []string) error {
	// No per-run trace logs: N cases would mean N JSONL files.
	report, err := stress.Run(cmd.Context(), buildEngine(""), stress.Params{
		N:         stressN,
		Mix:       stressMix,
		Seed:      stressSeed,
		Adapter:   resolveAdapter(stressAdapters),
		OutPrefix: stressOut,
	})
	if err != nil {
		return err
	}

	s := report.Summary
	fmt.Printf("Stress run complete: n=%d, ok=%d, failed=%d, adapter=%s\n",
		s.TotalRuns, s.OKRuns, s.FailedRuns, report.Params.Adapter)
	jsonPath, mdPath := stress.ReportPaths(stressOut)
	fmt.Printf("Wrote JSON report: %s\n", jsonPath)
	fmt.Printf("Wrote Markdown report: %s\n", mdPath)
	return nil
}
