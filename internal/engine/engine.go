// Package engine executes normalized task graphs: topological scheduling,
// per-task attempt loops with retry/fail/escalate dispositions, deterministic
// handler dispatch, adaptive llm invocation, and output verification.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/korahq/kora/internal/adapter"
	"github.com/korahq/kora/internal/adaptive"
	"github.com/korahq/kora/internal/event"
	"github.com/korahq/kora/internal/fault"
	"github.com/korahq/kora/internal/handler"
	"github.com/korahq/kora/internal/ir"
	"github.com/korahq/kora/internal/retrieval"
	"github.com/korahq/kora/internal/runlog"
	"github.com/korahq/kora/internal/schedule"
	"github.com/korahq/kora/internal/verify"
)

// StageTimings breaks a run's wall time down by stage, in seconds.
type StageTimings struct {
	SchedulerTotalS float64 `json:"scheduler_total_s"`
	DetTotalS       float64 `json:"det_total_s"`
	LLMTotalS       float64 `json:"llm_total_s"`
	VerifyTotalS    float64 `json:"verify_total_s"`
	OverallTotalS   float64 `json:"overall_total_s"`
}

// Result is the outcome of one graph run. On failure, Outputs and Events keep
// everything recorded up to the terminating fault and Final is nil.
type Result struct {
	OK           bool                      `json:"ok"`
	RunID        string                    `json:"run_id"`
	GraphID      string                    `json:"graph_id"`
	Order        []string                  `json:"order"`
	Events       []event.Event             `json:"events"`
	Outputs      map[string]map[string]any `json:"outputs"`
	Final        map[string]any            `json:"final"`
	StageTimings StageTimings              `json:"stage_timings"`
	Error        *fault.Contract           `json:"error,omitempty"`
}

// Engine runs graphs against a handler registry, an adapter registry, an
// optional retrieval cache, and an optional run log.
type Engine struct {
	Handlers *handler.Registry
	Adapters *adapter.Registry
	Cache    *retrieval.Store
	RunLog   *runlog.Registry
}

// New returns an engine wired with the default handler and adapter registries
// and a fresh retrieval store. Fields may be swapped before first use.
func New() *Engine {
	return &Engine{
		Handlers: handler.DefaultRegistry(),
		Adapters: adapter.DefaultRegistry(),
		Cache:    retrieval.New(retrieval.DefaultMaxEntries, nil),
	}
}

// Run executes a normalized graph. The graph is validated first; IR faults
// come back as a failed Result rather than a panic or a bare error.
func (e *Engine) Run(ctx context.Context, g *ir.Graph) Result {
	overallStart := time.Now()
	res := Result{
		RunID:   uuid.NewString(),
		Outputs: map[string]map[string]any{},
		Events:  []event.Event{},
	}
	if g == nil {
		res.Error = contractPtr(fault.New(fault.TypeInvalidTask, fault.StageIR, "graph is nil"))
		res.StageTimings.OverallTotalS = time.Since(overallStart).Seconds()
		return res
	}
	res.GraphID = g.GraphID

	log := e.RunLog.Open(res.RunID, g.GraphID)
	slog.Info("[ENGINE] run begin", "run_id", res.RunID, "graph_id", g.GraphID, "tasks", len(g.Tasks))

	finish := func(runErr *fault.Error) Result {
		res.StageTimings.OverallTotalS = time.Since(overallStart).Seconds()
		if runErr != nil {
			res.Error = contractPtr(runErr)
			slog.Warn("[ENGINE] run failed",
				"run_id", res.RunID, "task_id", runErr.TaskID,
				"stage", runErr.Stage, "type", runErr.Type, "details", runErr.Details)
			e.RunLog.Close(res.RunID, "failed")
			return res
		}
		res.OK = true
		res.Final = res.Outputs[g.Root]
		slog.Info("[ENGINE] run end", "run_id", res.RunID, "events", len(res.Events))
		e.RunLog.Close(res.RunID, "ok")
		return res
	}

	if err := ir.Validate(g); err != nil {
		return finish(fault.From(err, fault.StageIR))
	}

	schedStart := time.Now()
	order, err := schedule.TopoSort(g)
	res.StageTimings.SchedulerTotalS = time.Since(schedStart).Seconds()
	if err != nil {
		return finish(fault.From(err, fault.StageScheduler))
	}
	res.Order = order

	tasks := schedule.TaskMap(g)
	state := handler.State{"outputs": res.Outputs}
	controller := adaptive.NewController(e.Adapters, e.Cache)

	for _, taskID := range order {
		if err := ctx.Err(); err != nil {
			return finish(fault.Wrap(fault.TypeUnknown, fault.StageUnknown, err, "run canceled: %v", err))
		}
		if fe := e.runTask(ctx, tasks[taskID], state, controller, log, &res); fe != nil {
			return finish(fe)
		}
	}
	return finish(nil)
}

// runTask drives the attempt loop for a single task and stores its output.
func (e *Engine) runTask(ctx context.Context, task *ir.Task, state handler.State, controller *adaptive.Controller, log *runlog.Log, res *Result) *fault.Error {
	budget := ir.DefaultBudget()
	if task.Policy.Budget != nil {
		budget = *task.Policy.Budget
	}
	maxAttempts := 1 + max(0, budget.MaxRetries)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		willRetry := task.Policy.OnFail == ir.OnFailRetry && attempt < maxAttempts

		var output map[string]any
		var fe *fault.Error
		switch task.Run.Kind {
		case ir.RunDet:
			output, fe = e.runDet(task, state, attempt, willRetry, log, res)
		case ir.RunLLM:
			output, fe = e.runLLM(ctx, task, controller, budget, attempt, willRetry, log, res)
		default:
			fe = fault.New(fault.TypeInvalidTask, fault.StageIR, "unsupported run kind %q", task.Run.Kind).WithTask(task.ID)
		}

		if fe == nil {
			res.Outputs[task.ID] = output
			return nil
		}
		if willRetry {
			slog.Debug("[ENGINE] retrying task", "task_id", task.ID, "attempt", attempt, "details", fe.Details)
			continue
		}
		if task.Policy.OnFail == ir.OnFailEscalate {
			return fe.AsEscalate()
		}
		return fe
	}
	return fault.New(fault.TypeUnknown, fault.StageUnknown, "attempt loop exhausted").WithTask(task.ID)
}

// runDet executes a deterministic handler and verifies its output when the
// task carries a schema. One DETERMINISTIC event per attempt; a verification
// failure adds one VERIFY event.
func (e *Engine) runDet(task *ir.Task, state handler.State, attempt int, willRetry bool, log *runlog.Log, res *Result) (map[string]any, *fault.Error) {
	start := time.Now()

	var output map[string]any
	var fe *fault.Error
	fn, ok := e.Handlers.Resolve(task.Run.Det.Handler)
	if !ok {
		fe = fault.New(fault.TypeDeterministicFailed, fault.StageDeterministic,
			"unknown deterministic handler %q", task.Run.Det.Handler).WithTask(task.ID)
	} else if out, err := fn(task, state); err != nil {
		fe = fault.Wrap(fault.TypeDeterministicFailed, fault.StageDeterministic, err, "%v", err).WithTask(task.ID)
	} else {
		output = out
	}

	elapsed := time.Since(start)
	res.StageTimings.DetTotalS += elapsed.Seconds()

	ev := event.Event{
		TaskID:  task.ID,
		Attempt: attempt,
		Status:  event.StatusOK,
		Stage:   fault.StageDeterministic,
		TimeMs:  elapsed.Milliseconds(),
	}
	if fe != nil {
		fe.Retryable = willRetry
		ev.Status = event.StatusFail
		ev.Error = contractPtr(fe)
	}
	appendEvent(res, log, ev)
	if fe != nil {
		return nil, fe
	}

	if fe := e.verifyOutput(task, output, attempt, willRetry, log, res); fe != nil {
		return nil, fe
	}
	return output, nil
}

// verifyOutput runs schema and rule checks when the task has a schema. A
// passing check emits no event; a failure emits one VERIFY event.
func (e *Engine) verifyOutput(task *ir.Task, output map[string]any, attempt int, willRetry bool, log *runlog.Log, res *Result) *fault.Error {
	if task.Verify == nil || task.Verify.Schema == nil {
		return nil
	}
	start := time.Now()
	err := verify.Output(task.ID, output, task.Verify)
	elapsed := time.Since(start)
	res.StageTimings.VerifyTotalS += elapsed.Seconds()
	if err == nil {
		return nil
	}
	fe := fault.From(err, fault.StageVerify)
	fe.Retryable = willRetry
	appendEvent(res, log, event.Event{
		TaskID:  task.ID,
		Attempt: attempt,
		Status:  event.StatusFail,
		Stage:   fault.StageVerify,
		TimeMs:  elapsed.Milliseconds(),
		Error:   contractPtr(fe),
	})
	return fe
}

func appendEvent(res *Result, log *runlog.Log, ev event.Event) {
	res.Events = append(res.Events, ev)
	log.Event(ev)
}

func contractPtr(fe *fault.Error) *fault.Contract {
	c := fe.Contract()
	return &c
}
