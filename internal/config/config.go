// Package config resolves runtime settings from built-in defaults, an
// optional kora.yaml overlay, and the environment. The environment wins over
// the file; the file wins over defaults. Packages downstream receive plain
// values from the resolved Config rather than reading these sources again.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime view.
type Config struct {
	Studio  Studio  `yaml:"studio"`
	Archive Archive `yaml:"archive"`
	Log     Log     `yaml:"log"`
	Pricing Pricing `yaml:"pricing"`

	// HierEscalation switches the presentation workload to the
	// mini/gate/full pipeline. Set by KORA_HIER_ESCALATION=1.
	HierEscalation bool `yaml:"hier_escalation"`
}

// Studio configures the studio HTTP server.
type Studio struct {
	Addr    string   `yaml:"addr"`
	Origins []string `yaml:"origins"`
}

// Archive configures the completed-run archive.
type Archive struct {
	Dir string `yaml:"dir"`
}

// Log configures per-run JSONL trace output.
type Log struct {
	Dir string `yaml:"dir"`
}

// Pricing optionally overrides the cost table, USD per 1k tokens. Nil fields
// keep the built-in rate for that direction.
type Pricing struct {
	InputPer1K  *float64 `yaml:"input_per_1k"`
	OutputPer1K *float64 `yaml:"output_per_1k"`
}

// Default returns the built-in configuration. Data directories live under
// the user cache dir, next to where other local state would go.
func Default() *Config {
	home, _ := os.UserHomeDir()
	cacheDir := filepath.Join(home, ".cache", "kora")
	return &Config{
		Studio: Studio{
			Addr: "127.0.0.1:8000",
			Origins: []string{
				"http://localhost:5173",
				"http://127.0.0.1:5173",
				"http://localhost:4173",
				"http://127.0.0.1:4173",
			},
		},
		Archive: Archive{Dir: filepath.Join(cacheDir, "archive")},
		Log:     Log{Dir: filepath.Join(cacheDir, "runs")},
	}
}

// Load resolves the full configuration. path names the YAML overlay; when
// empty, kora.yaml in the working directory is used if present and silently
// skipped otherwise. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = "kora.yaml"
	}
	if err := cfg.applyFile(path, explicit); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyFile unmarshals the overlay over the current values, so keys absent
// from the file keep their defaults.
func (c *Config) applyFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("KORA_STUDIO_ADDR")); v != "" {
		c.Studio.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("KORA_ARCHIVE_DIR")); v != "" {
		c.Archive.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("KORA_LOG_DIR")); v != "" {
		c.Log.Dir = v
	}
	if v, ok := os.LookupEnv("KORA_HIER_ESCALATION"); ok {
		c.HierEscalation = strings.TrimSpace(v) == "1"
	}
}
