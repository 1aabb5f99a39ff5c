package engine

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/korahq/kora/internal/adapter"
	"github.com/korahq/kora/internal/adaptive"
	"github.com/korahq/kora/internal/event"
	"github.com/korahq/kora/internal/fault"
	"github.com/korahq/kora/internal/ir"
	"github.com/korahq/kora/internal/runlog"
)

const skipMessage = "Skipped llm execution due to skip_if condition"

// runLLM executes one llm attempt: skip_if short-circuit, adaptive or single
// invocation, answer normalization, then verification.
func (e *Engine) runLLM(ctx context.Context, task *ir.Task, controller *adaptive.Controller, budget ir.Budget, attempt int, willRetry bool, log *runlog.Log, res *Result) (map[string]any, *fault.Error) {
	spec := task.Run.LLM
	start := time.Now()

	if cond, ok := spec.SkipIf(); ok && skipMatches(cond, task.Deps, res.Outputs) {
		elapsed := time.Since(start)
		res.StageTimings.LLMTotalS += elapsed.Seconds()
		appendEvent(res, log, event.Event{
			TaskID:  task.ID,
			Attempt: attempt,
			Status:  event.StatusOK,
			Stage:   fault.StageAdapter,
			TimeMs:  elapsed.Milliseconds(),
			Skipped: true,
		})
		return map[string]any{
			"status":  "ok",
			"task_id": task.ID,
			"skipped": true,
			"message": skipMessage,
		}, nil
	}

	var output map[string]any
	var runErr *fault.Error
	if task.Policy.Adaptive != nil {
		output, runErr = e.invokeAdaptive(ctx, task, controller, budget, attempt, willRetry, log, res, start)
	} else {
		output, runErr = e.invokeSingle(ctx, task, budget, attempt, willRetry, log, res, start)
	}
	if runErr != nil {
		return nil, runErr
	}

	output = NormalizeAnswer(output)
	if fe := e.verifyOutput(task, output, attempt, willRetry, log, res); fe != nil {
		return nil, fe
	}
	return output, nil
}

// invokeAdaptive runs the escalation controller and emits one ADAPTER event
// per controller invocation, escalation_step included.
func (e *Engine) invokeAdaptive(ctx context.Context, task *ir.Task, controller *adaptive.Controller, budget ir.Budget, attempt int, willRetry bool, log *runlog.Log, res *Result, start time.Time) (map[string]any, *fault.Error) {
	outcome := controller.Run(ctx, task, task.Policy.Adaptive.Resolved(), budget, attempt)
	res.StageTimings.LLMTotalS += time.Since(start).Seconds()

	runErr := outcome.Err
	if runErr != nil {
		runErr.Retryable = willRetry
	}
	for _, inv := range outcome.Invocations {
		ev := event.Event{
			TaskID:         task.ID,
			Attempt:        attempt,
			EscalationStep: event.StepPtr(inv.Step),
			Status:         event.StatusOK,
			Stage:          fault.StageAdapter,
			Usage:          inv.Usage,
			Meta:           inv.Meta,
		}
		if inv.Usage != nil {
			ev.TimeMs = inv.Usage.TimeMs
		}
		if !inv.OK {
			ev.Status = event.StatusFail
			if runErr != nil {
				ev.Error = contractPtr(runErr)
			}
		}
		appendEvent(res, log, ev)
	}
	if runErr != nil {
		return nil, runErr
	}
	return outcome.Output, nil
}

// invokeSingle performs one non-adaptive adapter call; the event carries no
// escalation_step.
func (e *Engine) invokeSingle(ctx context.Context, task *ir.Task, budget ir.Budget, attempt int, willRetry bool, log *runlog.Log, res *Result, start time.Time) (map[string]any, *fault.Error) {
	spec := task.Run.LLM
	a, ok := e.Adapters.Resolve(spec.Adapter)
	if !ok {
		res.StageTimings.LLMTotalS += time.Since(start).Seconds()
		fe := fault.New(fault.TypeAdapterFailed, fault.StageAdapter, "unknown adapter %q", spec.Adapter).WithTask(task.ID)
		fe.Retryable = willRetry
		appendEvent(res, log, event.Event{
			TaskID:  task.ID,
			Attempt: attempt,
			Status:  event.StatusFail,
			Stage:   fault.StageAdapter,
			Error:   contractPtr(fe),
		})
		return nil, fe
	}

	r := a.Invoke(ctx, adapter.Request{
		TaskID:       task.ID,
		Input:        spec.Input,
		OutputSchema: spec.OutputSchema,
		Budget:       budget,
		Attempt:      attempt,
	})
	res.StageTimings.LLMTotalS += time.Since(start).Seconds()

	usage := r.Usage
	ev := event.Event{
		TaskID:  task.ID,
		Attempt: attempt,
		Status:  event.StatusOK,
		Stage:   fault.StageAdapter,
		TimeMs:  usage.TimeMs,
		Usage:   &usage,
		Meta:    r.Meta,
	}
	if !r.OK {
		fe := invokeFailure(task.ID, r)
		fe.Retryable = willRetry
		ev.Status = event.StatusFail
		ev.Error = contractPtr(fe)
		appendEvent(res, log, ev)
		return nil, fe
	}
	appendEvent(res, log, ev)
	return r.Output, nil
}

// invokeFailure classifies a failed invocation. A local deadline breach is a
// budget fault; anything else stays an adapter fault, with the budget flag
// set when the details say so.
func invokeFailure(taskID string, r adapter.Result) *fault.Error {
	if r.TimedOut {
		fe := fault.New(fault.TypeBudgetBreach, fault.StageBudget, "%s", r.Err).WithTask(taskID)
		fe.BudgetBreached = true
		return fe
	}
	fe := fault.New(fault.TypeAdapterFailed, fault.StageAdapter, "%s", r.Err).WithTask(taskID)
	fe.BudgetBreached = fault.MentionsBudget(r.Err)
	return fe
}

// skipMatches reports whether any dependency output satisfies the predicate.
// The path addresses one top-level key, written "$.key".
func skipMatches(cond ir.SkipIf, deps []string, outputs map[string]map[string]any) bool {
	if !strings.HasPrefix(cond.Path, "$.") {
		return false
	}
	key := strings.TrimPrefix(cond.Path, "$.")
	if key == "" {
		return false
	}
	for _, dep := range deps {
		out, ok := outputs[dep]
		if !ok {
			continue
		}
		if val, ok := out[key]; ok && looseEqual(val, cond.Equals) {
			return true
		}
	}
	return false
}

// looseEqual compares JSON-ish values, treating all numeric types as one.
func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
