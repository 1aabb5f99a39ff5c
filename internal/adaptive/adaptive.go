// Package adaptive implements the escalation controller for llm tasks: a
// loop over inference stages driven by self-reported confidence, value of
// information, and the remaining task budget, with optional
// retrieval-cache gating of escalated stages.
package adaptive

import (
	"context"
	"log/slog"
	"time"

	"github.com/korahq/kora/internal/adapter"
	"github.com/korahq/kora/internal/event"
	"github.com/korahq/kora/internal/fault"
	"github.com/korahq/kora/internal/ir"
	"github.com/korahq/kora/internal/retrieval"
)

// Stop reasons. Every controller exit sets exactly one.
const (
	StopConfidentEnough    = "confident_enough"
	StopVoiTooLow          = "voi_too_low"
	StopBudgetRemainingLow = "budget_remaining_low"
	StopMaxEscalations     = "max_escalations"
	StopAdapterMissing     = "escalation_adapter_missing"
	StopGateRetrievalHit   = "gate_retrieval_hit"
)

// emaWeight is the weight of the newest cost observation in the per-stage
// moving average.
const emaWeight = 0.3

// Invocation records one adapter call (or cache substitution) inside the
// escalation loop.
type Invocation struct {
	Adapter  string
	Step     int
	Output   map[string]any
	Usage    *event.Usage // nil on gate-retrieval hits
	Meta     map[string]any
	OK       bool
	Err      string
	TimedOut bool
	GateHit  bool
}

// Outcome is the controller's result for one task attempt. Err is set when
// the loop ended in an adapter failure; otherwise Output holds the final
// stage's output and StopReason names the exit.
type Outcome struct {
	Output      map[string]any
	Invocations []Invocation
	StopReason  string
	Err         *fault.Error
}

// Controller runs escalation loops against a registry and a shared
// retrieval cache. Per-stage cost estimates accumulate for the controller's
// lifetime, so one controller per run keeps estimates run-local.
type Controller struct {
	registry *adapter.Registry
	cache    *retrieval.Store
	ema      map[string]float64
}

func NewController(registry *adapter.Registry, cache *retrieval.Store) *Controller {
	return &Controller{registry: registry, cache: cache, ema: make(map[string]float64)}
}

// Run executes the escalation loop for task. budget is the task's resolved
// budget; attempt is forwarded to adapters.
func (c *Controller) Run(ctx context.Context, task *ir.Task, cfg ir.ResolvedAdaptive, budget ir.Budget, attempt int) Outcome {
	spec := task.Run.LLM
	base := spec.Adapter
	current, ok := c.registry.Resolve(base)
	if !ok {
		return Outcome{Err: fault.New(fault.TypeAdapterFailed, fault.StageAdapter,
			"unknown adapter %q", base).WithTask(task.ID)}
	}

	gating := cfg.EnableGateRetrieval && c.cache != nil
	fingerprint := ""
	if gating {
		c.cache.Configure(cfg.RetrievalMaxEntries)
		fingerprint = retrieval.Fingerprint(task.Type, spec.Input, task.Tags)
	}

	var (
		invocations []Invocation
		spentUnits  float64
		tokensSeen  bool
	)
	currentToken := base
	step := 0

	for {
		if gating && step > 0 {
			if hit, ok := c.cache.Get(fingerprint); ok {
				slog.Debug("[ADAPTIVE] gate retrieval hit", "task_id", task.ID, "step", step)
				invocations = append(invocations, Invocation{
					Adapter: current.Name(),
					Step:    step,
					Output:  hit,
					Meta: map[string]any{
						"adapter":            current.Name(),
						"gate_retrieval_hit": true,
						"stop_reason":        StopGateRetrievalHit,
					},
					OK:      true,
					GateHit: true,
				})
				return Outcome{Output: hit, Invocations: invocations, StopReason: StopGateRetrievalHit}
			}
		}

		res := current.Invoke(ctx, adapter.Request{
			TaskID:       task.ID,
			Input:        spec.Input,
			OutputSchema: spec.OutputSchema,
			Budget:       budget,
			Attempt:      attempt,
		})
		meta := cloneMeta(res.Meta)
		usage := res.Usage
		inv := Invocation{
			Adapter:  current.Name(),
			Step:     step,
			Output:   res.Output,
			Usage:    &usage,
			Meta:     meta,
			OK:       res.OK,
			Err:      res.Err,
			TimedOut: res.TimedOut,
		}
		invocations = append(invocations, inv)

		if !res.OK {
			return Outcome{Invocations: invocations, Err: failureFor(task.ID, res)}
		}

		conf := clamp01(metaFloat(meta, "confidence"))
		uncertainty := 1 - conf

		costUnits := float64(usage.TokensIn + usage.TokensOut)
		if usage.TokensIn+usage.TokensOut > 0 {
			tokensSeen = true
		} else {
			costUnits = float64(usage.TimeMs)
		}
		spentUnits += costUnits
		if prev, ok := c.ema[currentToken]; ok {
			c.ema[currentToken] = emaWeight*costUnits + (1-emaWeight)*prev
		} else {
			c.ema[currentToken] = costUnits
		}

		nextToken := ""
		if step < len(cfg.EscalationOrder) {
			nextToken = cfg.EscalationOrder[step]
		}
		expCost := 1.0
		if v, ok := cfg.StageCosts[nextToken]; ok {
			expCost = v
		} else if v, ok := c.ema[nextToken]; ok {
			expCost = v
		}

		stop := func(reason string) Outcome {
			meta["stop_reason"] = reason
			slog.Debug("[ADAPTIVE] stop", "task_id", task.ID, "step", step, "reason", reason, "confidence", conf)
			if gating {
				c.cache.Put(fingerprint, res.Output, time.Duration(cfg.RetrievalTTLSeconds)*time.Second)
			}
			return Outcome{Output: res.Output, Invocations: invocations, StopReason: reason}
		}

		if conf >= cfg.MinConfidenceToStop {
			return stop(StopConfidentEnough)
		}
		if cfg.UseVoi {
			voi := uncertainty / expCost
			meta["voi"] = voi
			if voi < cfg.MinVoiToEscalate {
				return stop(StopVoiTooLow)
			}
		}
		budgetUnits := float64(budget.MaxTimeMs)
		if tokensSeen {
			budgetUnits = float64(budget.MaxTokens)
		}
		if budgetUnits-spentUnits < expCost {
			return stop(StopBudgetRemainingLow)
		}

		if step >= cfg.MaxEscalations {
			return stop(StopMaxEscalations)
		}
		next, ok := c.registry.ResolveStage(base, nextToken)
		if nextToken == "" || !ok {
			return stop(StopAdapterMissing)
		}
		current = next
		currentToken = nextToken
		step++
	}
}

func failureFor(taskID string, res adapter.Result) *fault.Error {
	if res.TimedOut {
		fe := fault.New(fault.TypeBudgetBreach, fault.StageBudget, "%s", res.Err).WithTask(taskID)
		fe.BudgetBreached = true
		return fe
	}
	fe := fault.New(fault.TypeAdapterFailed, fault.StageAdapter, "%s", res.Err).WithTask(taskID)
	fe.BudgetBreached = fault.MentionsBudget(res.Err)
	return fe
}

func cloneMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func metaFloat(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
