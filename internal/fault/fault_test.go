package fault

import (
	"errors"
	"fmt"
	"testing"
)

// Error strings carry stage, type, and details in a fixed shape.
func TestError_Error_FormatsStageTypeDetails(t *testing.T) {
	e := New(TypeAdapterFailed, StageAdapter, "adapter %q unreachable", "openai")
	got := e.Error()
	want := `ADAPTER/ADAPTER_FAILED: adapter "openai" unreachable`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// From recovers the typed fault through fmt.Errorf wrapping.
func TestFrom_RecoversWrappedFault(t *testing.T) {
	orig := New(TypeOutputSchemaInvalid, StageVerify, "schema validation failed").WithTask("task_a")
	wrapped := fmt.Errorf("run aborted: %w", orig)

	got := From(wrapped, StageUnknown)
	if got != orig {
		t.Fatalf("got %v, want the original fault", got)
	}
	if got.TaskID != "task_a" {
		t.Errorf("TaskID = %q, want %q", got.TaskID, "task_a")
	}
}

// From classifies foreign errors as UNKNOWN at the caller's stage and keeps
// the cause unwrappable.
func TestFrom_ClassifiesForeignError(t *testing.T) {
	cause := errors.New("boom")
	got := From(cause, StageDeterministic)

	if got.Type != TypeUnknown {
		t.Errorf("Type = %q, want %q", got.Type, TypeUnknown)
	}
	if got.Stage != StageDeterministic {
		t.Errorf("Stage = %q, want %q", got.Stage, StageDeterministic)
	}
	if !errors.Is(got, cause) {
		t.Error("cause not reachable via errors.Is")
	}
}

// AsEscalate rewrites only the surfaced type; stage and details survive.
func TestError_AsEscalate_PreservesStageAndDetails(t *testing.T) {
	orig := New(TypeAdapterFailed, StageAdapter, "mock failure").WithTask("task_llm")
	esc := orig.AsEscalate()

	if esc.Type != TypeEscalateRequired {
		t.Errorf("Type = %q, want %q", esc.Type, TypeEscalateRequired)
	}
	if esc.Stage != StageAdapter || esc.Details != "mock failure" || esc.TaskID != "task_llm" {
		t.Errorf("stage/details/task changed: %+v", esc)
	}
	if orig.Type != TypeAdapterFailed {
		t.Error("AsEscalate mutated the original")
	}
}

// Contract is usable on a nil fault and mirrors every field otherwise.
func TestError_Contract(t *testing.T) {
	var nilErr *Error
	c := nilErr.Contract()
	if c.ErrorType != TypeUnknown || c.Stage != StageUnknown {
		t.Errorf("nil contract = %+v", c)
	}

	e := &Error{
		Type:           TypeBudgetBreach,
		Stage:          StageBudget,
		Details:        "token budget exhausted",
		TaskID:         "task_llm",
		BudgetBreached: true,
	}
	c = e.Contract()
	if c.ErrorType != TypeBudgetBreach || c.Stage != StageBudget || !c.BudgetBreached {
		t.Errorf("contract = %+v", c)
	}
	if c.TaskID != "task_llm" || c.Details != "token budget exhausted" {
		t.Errorf("contract = %+v", c)
	}
}

// MentionsBudget matches the failure phrasings that imply budget exhaustion.
func TestMentionsBudget(t *testing.T) {
	cases := []struct {
		details string
		want    bool
	}{
		{"token budget exhausted", true},
		{"context deadline exceeded", true},
		{"request timed out after 30s", true},
		{"connection refused", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := MentionsBudget(tc.details); got != tc.want {
			t.Errorf("MentionsBudget(%q) = %v, want %v", tc.details, got, tc.want)
		}
	}
}
