// Package fault defines the failure taxonomy shared by every execution stage.
//
// A fault carries a machine-readable classification (Type, Stage) alongside
// the human-readable details surfaced in events and run results. Contract is
// the wire form embedded in those documents.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names the pipeline stage a failure originated from.
type Stage string

const (
	StageIR            Stage = "IR"            // parse, normalize, validate
	StageScheduler     Stage = "SCHEDULER"     // topological ordering
	StageDeterministic Stage = "DETERMINISTIC" // det handler execution
	StageAdapter       Stage = "ADAPTER"       // llm adapter invocation
	StageVerify        Stage = "VERIFY"        // schema and rule verification
	StageBudget        Stage = "BUDGET"        // budget accounting
	StageUnknown       Stage = "UNKNOWN"
)

// Type classifies a failure independently of the stage that raised it.
type Type string

const (
	TypeUnknown             Type = "UNKNOWN"
	TypeInvalidTask         Type = "INVALID_TASK"
	TypeDAGInvalid          Type = "DAG_INVALID"
	TypeDeterministicFailed Type = "DETERMINISTIC_EXEC_FAILED"
	TypeAdapterFailed       Type = "ADAPTER_FAILED"
	TypeOutputSchemaInvalid Type = "OUTPUT_SCHEMA_INVALID"
	TypeBudgetBreach        Type = "BUDGET_BREACH"
	TypeEscalateRequired    Type = "ESCALATE_REQUIRED"
)

// Contract is the JSON failure shape embedded in events and run results.
type Contract struct {
	ErrorType      Type   `json:"error_type"`
	Stage          Stage  `json:"stage"`
	Retryable      bool   `json:"retryable"`
	BudgetBreached bool   `json:"budget_breached"`
	Details        string `json:"details"`
	TaskID         string `json:"task_id,omitempty"`
}

// Error is a classified runtime failure.
type Error struct {
	Type           Type
	Stage          Stage
	Details        string
	TaskID         string
	Retryable      bool
	BudgetBreached bool
	cause          error
}

// New builds an Error with formatted details.
func New(t Type, stage Stage, format string, args ...any) *Error {
	return &Error{Type: t, Stage: stage, Details: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, keeping it reachable via Unwrap.
func Wrap(t Type, stage Stage, cause error, format string, args ...any) *Error {
	e := New(t, stage, format, args...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Stage, e.Type, e.Details)
}

func (e *Error) Unwrap() error { return e.cause }

// WithTask binds the fault to a task id and returns it.
func (e *Error) WithTask(id string) *Error {
	e.TaskID = id
	return e
}

// Contract renders the wire form. Safe on a nil receiver.
func (e *Error) Contract() Contract {
	if e == nil {
		return Contract{ErrorType: TypeUnknown, Stage: StageUnknown}
	}
	return Contract{
		ErrorType:      e.Type,
		Stage:          e.Stage,
		Retryable:      e.Retryable,
		BudgetBreached: e.BudgetBreached,
		Details:        e.Details,
		TaskID:         e.TaskID,
	}
}

// AsEscalate returns a copy whose surfaced type is ESCALATE_REQUIRED. The
// causal stage and details stay intact so the origin remains diagnosable.
func (e *Error) AsEscalate() *Error {
	c := *e
	c.Type = TypeEscalateRequired
	return &c
}

// From recovers the typed fault from err, or classifies it as UNKNOWN at the
// given stage.
func From(err error, stage Stage) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Type: TypeUnknown, Stage: stage, Details: err.Error(), cause: err}
}

// MentionsBudget reports whether failure details look budget related. Used to
// propagate budget_breached for provider-side refusals that never tripped a
// local deadline.
func MentionsBudget(details string) bool {
	d := strings.ToLower(details)
	return strings.Contains(d, "budget") || strings.Contains(d, "deadline") ||
		strings.Contains(d, "timed out") || strings.Contains(d, "timeout")
}
