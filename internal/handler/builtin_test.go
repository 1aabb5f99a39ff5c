package handler

import (
	"reflect"
	"testing"
)

func TestParseConstraints_SlideCountForms(t *testing.T) {
	// Both "N-slide" and "N slides" phrasings override the default of 18.
	cases := []struct {
		text string
		want int
	}{
		{"build a 12-slide deck", 12},
		{"build a deck with 25 slides", 25},
		{"one slide summary please", 18},
		{"just summarize the risks", 18},
	}
	for _, tc := range cases {
		got := ParseConstraints(tc.text)["slide_count"]
		if got != tc.want {
			t.Errorf("ParseConstraints(%q) slide_count = %v, want %d", tc.text, got, tc.want)
		}
	}
}

func TestParseConstraints_TopicDomains(t *testing.T) {
	// Phrases map to domain labels in a fixed order; no match falls back to
	// strategy/execution.
	got := ParseConstraints("Cover market context, the rollout plan, architecture and key risks.")
	want := []string{"market_context", "architecture", "rollout_plan", "risk"}
	if !reflect.DeepEqual(got["topic_domains"], want) {
		t.Errorf("topic_domains = %v, want %v", got["topic_domains"], want)
	}

	got = ParseConstraints("hello there")
	if !reflect.DeepEqual(got["topic_domains"], []string{"strategy", "execution"}) {
		t.Errorf("fallback domains = %v", got["topic_domains"])
	}
	if got["intent"] != "create_presentation_outline" || got["deliverable_type"] != "ppt_outline" {
		t.Errorf("constants = %v / %v", got["intent"], got["deliverable_type"])
	}
}

func TestParseRequestConstraints_WrapsHandlerEnvelope(t *testing.T) {
	// The handler adds status and task_id around the parsed constraints.
	task := detTask("task_parse", "parse_request_constraints", map[string]any{"text": "a 6-slide benchmark review"}, nil)
	out, err := ParseRequestConstraints(task, nil)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if out["status"] != "ok" || out["task_id"] != "task_parse" {
		t.Errorf("envelope = %v / %v", out["status"], out["task_id"])
	}
	if out["slide_count"] != 6 {
		t.Errorf("slide_count = %v", out["slide_count"])
	}
	if !reflect.DeepEqual(out["topic_domains"], []string{"benchmarking"}) {
		t.Errorf("topic_domains = %v", out["topic_domains"])
	}
}

func gateState(depID string, depOut map[string]any) State {
	return State{"outputs": map[string]map[string]any{depID: depOut}}
}

func slideSkeleton(n int) []any {
	slides := make([]any, 0, n)
	for i := 0; i < n; i++ {
		slides = append(slides, map[string]any{
			"i":       i + 1,
			"title":   "t",
			"msg":     "m",
			"bullets": []any{},
		})
	}
	return slides
}

func TestQualityGate_SkipsFullWhenSkeletonComplete(t *testing.T) {
	// A full 18-slide skeleton with every required field passes the gate.
	task := detTask("task_gate", "quality_gate", nil, map[string]any{
		"dep_task_id":        "task_mini",
		"target_slide_count": 18,
		"required_fields":    []any{"i", "title", "msg", "bullets"},
	})
	state := gateState("task_mini", map[string]any{"slides": slideSkeleton(18)})

	out, err := QualityGate(task, state)
	if err != nil {
		t.Fatalf("gate failed: %v", err)
	}
	if out["message"] != "skip_full" || out["needs_refine"] != false {
		t.Errorf("verdict = %v", out)
	}
}

func TestQualityGate_RefinesOnDeficiency(t *testing.T) {
	// Each deficiency flips the gate to run_full with a reason naming it.
	task := detTask("task_gate", "quality_gate", nil, map[string]any{
		"dep_task_id":        "task_mini",
		"target_slide_count": 3,
		"required_fields":    []any{"i", "title"},
	})

	cases := []struct {
		name   string
		dep    map[string]any
		reason string
	}{
		{"no slides key", map[string]any{"status": "ok"}, "slides missing or not an array"},
		{"wrong count", map[string]any{"slides": slideSkeleton(2)}, "slide count 2 does not match target 3"},
		{"non object slide", map[string]any{"slides": []any{"x", "y", "z"}}, "slide 0 is not an object"},
		{
			"missing field",
			map[string]any{"slides": []any{
				map[string]any{"i": 1, "title": "a"},
				map[string]any{"i": 2},
				map[string]any{"i": 3, "title": "c"},
			}},
			`slide 1 missing required field "title"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := QualityGate(task, gateState("task_mini", tc.dep))
			if err != nil {
				t.Fatalf("gate failed: %v", err)
			}
			if out["message"] != "run_full" || out["needs_refine"] != true {
				t.Errorf("verdict = %v", out)
			}
			if out["reason"] != tc.reason {
				t.Errorf("reason = %q, want %q", out["reason"], tc.reason)
			}
		})
	}
}

func TestQualityGate_DefaultsAndMissingDep(t *testing.T) {
	// Without args the gate targets the first dep with the standard fields;
	// a missing dependency output forces refinement.
	task := detTask("task_gate", "quality_gate", nil, nil)
	task.Deps = []string{"task_mini"}

	out, err := QualityGate(task, State{})
	if err != nil {
		t.Fatalf("gate failed: %v", err)
	}
	if out["message"] != "run_full" || out["reason"] != `missing output for dependency "task_mini"` {
		t.Errorf("verdict = %v", out)
	}

	out, _ = QualityGate(task, gateState("task_mini", map[string]any{"slides": slideSkeleton(18)}))
	if out["message"] != "skip_full" {
		t.Errorf("default target/fields verdict = %v", out)
	}
}
