package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/korahq/kora/internal/ir"
	"github.com/korahq/kora/internal/telemetry"
)

var (
	runAdapters string
	runOut      string
	runLogDir   string
)

var runCmd = &cobra.Command{
	Use:   "run <graph.json>",
	Short: "Execute a task graph and print the run result",
	Long: `run parses, normalizes, and executes a graph document. The full run
result (order, events, outputs, stage timings) is printed as JSON, or written
to --out. A failed run still prints its result and exits non-zero.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAdapters, "adapters", "", "force every llm task onto this adapter (mock|openai)")
	runCmd.Flags().StringVar(&runOut, "out", "", "write the run result JSON to this file instead of stdout")
	runCmd.Flags().StringVar(&runLogDir, "log-dir", "", "per-run JSONL trace directory (default from config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	g, err := ir.ParseFile(args[0])
	if err != nil {
		return err
	}
	g = ir.Normalize(g)
	if runAdapters != "" {
		overrideAdapters(g, resolveAdapter(runAdapters))
	}

	logDir := runLogDir
	if logDir == "" {
		logDir = cfg.Log.Dir
	}
	eng := buildEngine(logDir)
	res := eng.Run(cmd.Context(), g)

	arch := openArchive()
	defer arch.Close()
	if summary, err := telemetry.SummarizeValue(res); err == nil {
		if err := arch.Put(res, summary); err != nil {
			slog.Warn("[CLI] archive write failed", "run_id", res.RunID, "error", err)
		}
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if runOut != "" {
		if err := os.WriteFile(runOut, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", runOut, err)
		}
	} else {
		fmt.Println(string(data))
	}

	if !res.OK {
		return fmt.Errorf("run %s failed: %s/%s: %s",
			res.RunID, res.Error.Stage, res.Error.ErrorType, res.Error.Details)
	}
	return nil
}

// overrideAdapters rewrites every llm task onto one adapter so graphs
// authored against a provider replay offline against the mock.
func overrideAdapters(g *ir.Graph, name string) {
	for i := range g.Tasks {
		if g.Tasks[i].Run.Kind == ir.RunLLM && g.Tasks[i].Run.LLM != nil {
			g.Tasks[i].Run.LLM.Adapter = name
		}
	}
}
