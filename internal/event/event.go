// Package event defines the structured records emitted while a graph runs.
package event

import "github.com/korahq/kora/internal/fault"

// Status reports whether a stage execution succeeded.
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
)

// Usage captures the measured cost of a single adapter invocation.
type Usage struct {
	TimeMs    int64 `json:"time_ms"`
	TokensIn  int   `json:"tokens_in"`
	TokensOut int   `json:"tokens_out"`
}

// Total returns the token sum across both directions.
func (u Usage) Total() int { return u.TokensIn + u.TokensOut }

// Event is one execution record. Exactly one event is appended per handler or
// adapter invocation, plus one per skipped llm task.
//
// EscalationStep is a pointer because step zero must still serialize; it is
// only set on adaptive adapter invocations.
type Event struct {
	TaskID         string          `json:"task_id"`
	Attempt        int             `json:"attempt"`
	EscalationStep *int            `json:"escalation_step,omitempty"`
	Status         Status          `json:"status"`
	Stage          fault.Stage     `json:"stage"`
	TimeMs         int64           `json:"time_ms"`
	Usage          *Usage          `json:"usage,omitempty"`
	Meta           map[string]any  `json:"meta,omitempty"`
	Error          *fault.Contract `json:"error,omitempty"`
	Skipped        bool            `json:"skipped,omitempty"`
}

// StepPtr returns a pointer suitable for EscalationStep.
func StepPtr(step int) *int { return &step }
