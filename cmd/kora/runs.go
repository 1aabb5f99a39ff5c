package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/korahq/kora/internal/telemetry"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [<run-id>]",
	Short: "List archived runs, or dump one run's stored result",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	arch := openArchive()
	if arch == nil {
		return fmt.Errorf("archive unavailable at %s", cfg.Archive.Dir)
	}
	defer arch.Close()

	if len(args) == 1 {
		res, ok, err := arch.Get(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %s not found", args[0])
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	entries, err := arch.List(runsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no archived runs")
		return nil
	}

	rows := [][2]string{{"RUN", "GRAPH  OK  LLM  TOKENS  ARCHIVED"}}
	for _, e := range entries {
		rows = append(rows, [2]string{e.RunID, fmt.Sprintf("%s  %s  %d  %d  %s",
			e.GraphID,
			strconv.FormatBool(e.OK),
			e.Summary.TotalLLMCalls,
			e.Summary.TokensIn+e.Summary.TokensOut,
			e.ArchivedAt,
		)})
	}
	fmt.Print(telemetry.Table(rows))
	return nil
}
