// Command kora runs task graphs, summarizes their telemetry, benchmarks the
// runtime against direct model calls, and serves the studio backend.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/korahq/kora/internal/adapter"
	"github.com/korahq/kora/internal/archive"
	"github.com/korahq/kora/internal/config"
	"github.com/korahq/kora/internal/engine"
	"github.com/korahq/kora/internal/runlog"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kora",
	Short: "Deterministic-first task graph runtime",
	Long: `kora executes task graphs that prefer deterministic handlers and escalate
to llm adapters only when confidence, value of information, and budget say
the spend is worth it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		var err error
		cfg, err = config.Load(configPath)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to kora.yaml (default ./kora.yaml when present)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(telemetryCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(stressCmd)
	rootCmd.AddCommand(studioCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine wires the default engine, with per-run JSONL traces under
// logDir when non-empty.
func buildEngine(logDir string) *engine.Engine {
	eng := engine.New()
	if logDir != "" {
		eng.RunLog = runlog.NewRegistry(logDir)
	}
	return eng
}

// openArchive opens the configured archive. A nil return disables archive
// writes; LevelDB admits one process at a time, so a second kora process
// runs unarchived rather than failing.
func openArchive() *archive.Archive {
	a, err := archive.Open(cfg.Archive.Dir)
	if err != nil {
		slog.Warn("[CLI] archive unavailable", "dir", cfg.Archive.Dir, "error", err)
		return nil
	}
	return a
}

// adapterModel reports the model the named adapter would invoke.
func adapterModel(reg *adapter.Registry, name string) string {
	a, ok := reg.Resolve(name)
	if !ok {
		return ""
	}
	if m, ok := a.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

// resolveAdapter downgrades an openai request to mock when no API key is
// configured, so offline invocations still complete.
func resolveAdapter(requested string) string {
	if requested == "openai" && os.Getenv("OPENAI_API_KEY") == "" {
		slog.Warn("[CLI] OPENAI_API_KEY missing, using mock adapter")
		return "mock"
	}
	return requested
}
