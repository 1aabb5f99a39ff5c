package adapter

import (
	"context"
	"reflect"
	"testing"

	"github.com/korahq/kora/internal/event"
)

func TestRegistry_ResolveStage_BareTokenWins(t *testing.T) {
	// Stage resolution tries the bare token before "<base>:<token>".
	r := NewRegistry()
	bare := NewMock("gate", MockOptions{})
	qualified := NewMock("openai:gate", MockOptions{})
	r.Register(bare)
	r.Register(qualified)

	got, ok := r.ResolveStage("openai", "gate")
	if !ok || got.Name() != "gate" {
		t.Errorf("resolved %v, want bare gate", got)
	}
}

func TestRegistry_ResolveStage_QualifiedFallback(t *testing.T) {
	// Without a bare entry the stage-qualified name resolves.
	r := NewRegistry()
	r.Register(NewMock("openai:full", MockOptions{}))

	got, ok := r.ResolveStage("openai", "full")
	if !ok || got.Name() != "openai:full" {
		t.Errorf("resolved %v, want openai:full", got)
	}
	if _, ok := r.ResolveStage("openai", "ghost"); ok {
		t.Error("resolved a stage that was never registered")
	}
}

func TestDefaultRegistry_CoversEscalationLadder(t *testing.T) {
	// The default registry exposes mock plus all OpenAI stages.
	names := DefaultRegistry().Names()
	want := []string{"mock", "openai", "openai:full", "openai:gate", "openai_full", "openai_mini"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestMock_DefaultReply(t *testing.T) {
	// The default mock echoes status/task_id with confidence in meta.
	m := NewMock("mock", MockOptions{Confidence: 0.9})
	res := m.Invoke(context.Background(), Request{TaskID: "t1"})
	if !res.OK {
		t.Fatalf("mock failed: %s", res.Err)
	}
	if res.Output["status"] != "ok" || res.Output["task_id"] != "t1" {
		t.Errorf("output = %v", res.Output)
	}
	if res.Meta["confidence"] != 0.9 || res.Meta["model"] != "mock" {
		t.Errorf("meta = %v", res.Meta)
	}
	if m.Calls() != 1 {
		t.Errorf("calls = %d, want 1", m.Calls())
	}
}

func TestMock_FailFirstThenRecover(t *testing.T) {
	// FailFirst forces the first N invocations to fail, then replies normally.
	m := NewMock("flaky", MockOptions{FailFirst: 1, TimedOut: true})
	first := m.Invoke(context.Background(), Request{TaskID: "t1"})
	if first.OK || !first.TimedOut {
		t.Errorf("first = ok:%v timedOut:%v, want forced timeout failure", first.OK, first.TimedOut)
	}
	second := m.Invoke(context.Background(), Request{TaskID: "t1"})
	if !second.OK {
		t.Errorf("second call still failing: %s", second.Err)
	}
}

func TestCannedOutput_EchoesQuestion(t *testing.T) {
	// Without a slides requirement the canned reply is an answer echo.
	out := CannedOutput(Request{
		TaskID:       "task_llm",
		Input:        map[string]any{"question": "why is the sky blue?"},
		OutputSchema: map[string]any{"type": "object", "required": []any{"status", "task_id", "answer"}},
	})
	if out["answer"] != "mock answer: why is the sky blue?" {
		t.Errorf("answer = %v", out["answer"])
	}
	if out["status"] != "ok" || out["task_id"] != "task_llm" {
		t.Errorf("output = %v", out)
	}

	bare := CannedOutput(Request{TaskID: "t"})
	if bare["answer"] != "mock answer" {
		t.Errorf("answer without question = %v", bare["answer"])
	}
}

func TestCannedOutput_SlideSkeleton(t *testing.T) {
	// A schema requiring slides yields an 18-slide skeleton with the gated
	// fields present on every slide.
	out := CannedOutput(Request{
		TaskID:       "task_llm_mini",
		OutputSchema: map[string]any{"type": "object", "required": []any{"status", "task_id", "slides"}},
	})
	slides, ok := out["slides"].([]any)
	if !ok || len(slides) != 18 {
		t.Fatalf("slides = %T len %d, want 18 entries", out["slides"], len(slides))
	}
	first, ok := slides[0].(map[string]any)
	if !ok {
		t.Fatalf("slide = %T, want object", slides[0])
	}
	for _, field := range []string{"i", "title", "msg", "bullets"} {
		if _, ok := first[field]; !ok {
			t.Errorf("slide missing field %q", field)
		}
	}
	if _, ok := out["answer"]; ok {
		t.Error("skeleton reply should not carry an answer")
	}
}

func TestMock_CustomOutputAndUsage(t *testing.T) {
	// Output builders and canned usage flow through untouched.
	usage := event.Usage{TimeMs: 7, TokensIn: 3, TokensOut: 4}
	m := NewMock("custom", MockOptions{
		Usage:  &usage,
		Output: func(req Request) map[string]any { return map[string]any{"echo": req.Input["q"]} },
	})
	res := m.Invoke(context.Background(), Request{TaskID: "t", Input: map[string]any{"q": "hi"}})
	if res.Output["echo"] != "hi" {
		t.Errorf("output = %v", res.Output)
	}
	if res.Usage != usage {
		t.Errorf("usage = %+v", res.Usage)
	}
}
