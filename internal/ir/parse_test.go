package ir

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const sampleGraphJSON = `{
  "graph_id": "sample",
  "version": "0.1",
  "root": "task_llm",
  "defaults": {"budget": {"max_time_ms": 3000, "max_tokens": 400, "max_retries": 1}},
  "tasks": [
    {
      "id": "task_pre",
      "type": "det.classify_simple",
      "deps": [],
      "in": {"text": "hello"},
      "run": {"kind": "det", "spec": {"handler": "classify_simple", "args": {"text": "hello"}}},
      "verify": {
        "schema": {"type": "object", "required": ["status", "task_id", "is_simple"]},
        "rules": [{"kind": "required", "paths": ["status", "task_id", "is_simple"]}]
      },
      "policy": {"on_fail": "fail"},
      "tags": ["sample"]
    },
    {
      "id": "task_llm",
      "type": "llm.answer",
      "deps": ["task_pre"],
      "in": {},
      "run": {
        "kind": "llm",
        "spec": {
          "adapter": "mock",
          "input": {"question": "hello", "skip_if": {"path": "$.is_simple", "equals": true}},
          "output_schema": {
            "type": "object",
            "properties": {"status": {"type": "string"}, "task_id": {"type": "string"}, "answer": {"type": "string"}},
            "required": ["status", "task_id", "answer"]
          }
        }
      },
      "policy": {"budget": {"max_time_ms": 3000, "max_tokens": 400, "max_retries": 1}, "on_fail": "retry"},
      "tags": ["sample"]
    }
  ]
}`

// Parse materializes both run variants and applies document defaults.
func TestParse_SampleGraph(t *testing.T) {
	g, err := Parse([]byte(sampleGraphJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.GraphID != "sample" || g.Root != "task_llm" {
		t.Errorf("graph_id/root = %q/%q", g.GraphID, g.Root)
	}
	if len(g.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(g.Tasks))
	}

	pre := g.Tasks[0]
	if pre.Run.Kind != RunDet || pre.Run.Det == nil || pre.Run.Det.Handler != "classify_simple" {
		t.Errorf("det run not materialized: %+v", pre.Run)
	}
	if len(pre.Verify.Rules) != 1 || pre.Verify.Rules[0].Kind != RuleRequired {
		t.Errorf("rules not materialized: %+v", pre.Verify.Rules)
	}

	llm := g.Tasks[1]
	if llm.Run.Kind != RunLLM || llm.Run.LLM == nil || llm.Run.LLM.Adapter != "mock" {
		t.Errorf("llm run not materialized: %+v", llm.Run)
	}
	cond, ok := llm.Run.LLM.SkipIf()
	if !ok || cond.Path != "$.is_simple" || cond.Equals != true {
		t.Errorf("skip_if = %+v ok=%v", cond, ok)
	}
	if llm.Policy.OnFail != OnFailRetry {
		t.Errorf("on_fail = %q, want retry", llm.Policy.OnFail)
	}
	if llm.Policy.Budget.MaxTokens != 400 {
		t.Errorf("budget = %+v", llm.Policy.Budget)
	}
}

// A graph without defaults.budget gets the built-in 1500/300/1 fallback, and
// tasks without on_fail default to fail.
func TestParse_AppliesDefaults(t *testing.T) {
	doc := `{
	  "graph_id": "g", "version": "0.1", "root": "a",
	  "defaults": {},
	  "tasks": [{"id": "a", "type": "det.echo", "deps": [], "in": {},
	    "run": {"kind": "det", "spec": {"handler": "echo"}}, "policy": {}}]
	}`
	g, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := *g.Defaults.Budget; got != DefaultBudget() {
		t.Errorf("defaults.budget = %+v, want %+v", got, DefaultBudget())
	}
	if g.Tasks[0].Policy.OnFail != OnFailFail {
		t.Errorf("on_fail = %q, want fail", g.Tasks[0].Policy.OnFail)
	}
	if g.Tasks[0].In == nil {
		t.Error("in not defaulted to an empty map")
	}
}

// Unknown document fields are rejected.
func TestParse_RejectsUnknownFields(t *testing.T) {
	doc := `{"graph_id": "g", "version": "0.1", "root": "a", "defaults": {}, "bogus": 1,
	  "tasks": [{"id": "a", "type": "det.echo", "deps": [], "in": {},
	    "run": {"kind": "det", "spec": {"handler": "echo"}}, "policy": {}}]}`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected an error for an unknown field")
	}
}

// Unknown run and rule kinds are rejected at parse time.
func TestParse_RejectsUnknownKinds(t *testing.T) {
	badRun := `{"graph_id": "g", "version": "0.1", "root": "a", "defaults": {},
	  "tasks": [{"id": "a", "type": "x", "deps": [], "in": {},
	    "run": {"kind": "quantum", "spec": {}}, "policy": {}}]}`
	if _, err := Parse([]byte(badRun)); err == nil {
		t.Error("expected an error for an unknown run kind")
	}

	badRule := `{"graph_id": "g", "version": "0.1", "root": "a", "defaults": {},
	  "tasks": [{"id": "a", "type": "x", "deps": [], "in": {},
	    "run": {"kind": "det", "spec": {"handler": "echo"}},
	    "verify": {"schema": {"type": "object"}, "rules": [{"kind": "fuzzy"}]},
	    "policy": {}}]}`
	if _, err := Parse([]byte(badRule)); err == nil {
		t.Error("expected an error for an unknown rule kind")
	}
}

// Version, graph_id, root, and a non-empty task list are all mandatory.
func TestParse_RejectsStructuralGaps(t *testing.T) {
	cases := map[string]string{
		"bad version": `{"graph_id": "g", "version": "0.2", "root": "a", "defaults": {}, "tasks": [
		  {"id": "a", "type": "x", "deps": [], "in": {}, "run": {"kind": "det", "spec": {"handler": "echo"}}, "policy": {}}]}`,
		"no tasks":    `{"graph_id": "g", "version": "0.1", "root": "a", "defaults": {}, "tasks": []}`,
		"no graph id": `{"graph_id": "", "version": "0.1", "root": "a", "defaults": {}, "tasks": [
		  {"id": "a", "type": "x", "deps": [], "in": {}, "run": {"kind": "det", "spec": {"handler": "echo"}}, "policy": {}}]}`,
		"bad on_fail": `{"graph_id": "g", "version": "0.1", "root": "a", "defaults": {}, "tasks": [
		  {"id": "a", "type": "x", "deps": [], "in": {}, "run": {"kind": "det", "spec": {"handler": "echo"}}, "policy": {"on_fail": "explode"}}]}`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

// Serialize then reparse yields an equivalent document, unions included.
func TestParse_RoundTrip(t *testing.T) {
	g, err := Parse([]byte(sampleGraphJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	g2, err := Parse(b)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	b2, err := json.Marshal(g2)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if string(b) != string(b2) {
		t.Errorf("round trip drifted:\n%s\n%s", b, b2)
	}
}

// ParseFile reads a document from disk.
func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte(sampleGraphJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	g, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if g.GraphID != "sample" {
		t.Errorf("graph_id = %q", g.GraphID)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
