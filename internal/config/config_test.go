package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kora.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Defaults carry the studio bind address, the local dev origins, and cache
// directories for archive and run logs.
func TestDefault_BuiltinValues(t *testing.T) {
	cfg := Default()
	if cfg.Studio.Addr != "127.0.0.1:8000" {
		t.Fatalf("Studio.Addr = %q, want 127.0.0.1:8000", cfg.Studio.Addr)
	}
	if len(cfg.Studio.Origins) != 4 {
		t.Fatalf("Origins = %v, want 4 local dev origins", cfg.Studio.Origins)
	}
	if !strings.Contains(cfg.Archive.Dir, filepath.Join(".cache", "kora")) {
		t.Fatalf("Archive.Dir = %q, want a .cache/kora path", cfg.Archive.Dir)
	}
	if cfg.HierEscalation {
		t.Fatal("HierEscalation = true, want false by default")
	}
}

// A YAML overlay overrides only the keys it names.
func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv("KORA_STUDIO_ADDR", "")
	t.Setenv("KORA_ARCHIVE_DIR", "")
	path := writeConfig(t, `
studio:
  addr: "0.0.0.0:9999"
archive:
  dir: /tmp/kora-archive
pricing:
  input_per_1k: 0.001
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Studio.Addr != "0.0.0.0:9999" {
		t.Fatalf("Studio.Addr = %q, want 0.0.0.0:9999", cfg.Studio.Addr)
	}
	if cfg.Archive.Dir != "/tmp/kora-archive" {
		t.Fatalf("Archive.Dir = %q, want /tmp/kora-archive", cfg.Archive.Dir)
	}
	if cfg.Pricing.InputPer1K == nil || *cfg.Pricing.InputPer1K != 0.001 {
		t.Fatalf("Pricing.InputPer1K = %v, want 0.001", cfg.Pricing.InputPer1K)
	}
	if cfg.Pricing.OutputPer1K != nil {
		t.Fatalf("Pricing.OutputPer1K = %v, want nil when not configured", cfg.Pricing.OutputPer1K)
	}
	// Untouched keys keep defaults.
	if len(cfg.Studio.Origins) != 4 {
		t.Fatalf("Origins = %v, want defaults preserved", cfg.Studio.Origins)
	}
}

// Environment values win over the file.
func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := writeConfig(t, `
studio:
  addr: "0.0.0.0:9999"
hier_escalation: true
`)
	t.Setenv("KORA_STUDIO_ADDR", "127.0.0.1:7070")
	t.Setenv("KORA_HIER_ESCALATION", "0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Studio.Addr != "127.0.0.1:7070" {
		t.Fatalf("Studio.Addr = %q, want env override", cfg.Studio.Addr)
	}
	if cfg.HierEscalation {
		t.Fatal("HierEscalation = true, want env 0 to override the file")
	}
}

// KORA_HIER_ESCALATION only enables on the literal value 1.
func TestLoad_HierEscalationFlag(t *testing.T) {
	for raw, want := range map[string]bool{"1": true, "true": false, "": false} {
		t.Setenv("KORA_HIER_ESCALATION", raw)
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HierEscalation != want {
			t.Errorf("HierEscalation with %q = %v, want %v", raw, cfg.HierEscalation, want)
		}
	}
}

// An explicit path must exist; the implicit kora.yaml is optional.
func TestLoad_MissingFiles(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}

	// t.Chdir needs Go 1.24; this is its documented behavior on Go 1.21.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	if _, err := Load(""); err != nil {
		t.Fatalf("Load with no kora.yaml present: %v", err)
	}
}

// Malformed YAML surfaces a parse error naming the file.
func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "studio: [not: a: mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
