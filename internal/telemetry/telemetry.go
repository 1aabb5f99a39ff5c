// Package telemetry reduces run results and harness reports to a flat
// summary: event totals, token usage, failure counts, and estimated spend.
//
// Summarize works on decoded JSON objects rather than typed results so the
// same reduction applies to full run documents, reduced benchmark reports,
// and anything a harness wrote to disk. Typed values go through
// SummarizeValue, which re-marshals them first.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Summary is the reduced view of one run or report document.
type Summary struct {
	OK                 bool           `json:"ok"`
	TotalTimeMs        int64          `json:"total_time_ms"`
	TotalLLMCalls      int            `json:"total_llm_calls"`
	TokensIn           int            `json:"tokens_in"`
	TokensOut          int            `json:"tokens_out"`
	EventsOK           int            `json:"events_ok"`
	EventsFail         int            `json:"events_fail"`
	EventsSkipped      int            `json:"events_skipped"`
	StageCounts        map[string]int `json:"stage_counts"`
	BudgetBreaches     int            `json:"budget_breaches"`
	EscalationRequired int            `json:"escalation_required"`

	// Set by SummarizeWithCost when the model is priceable.
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"`
	Model            string   `json:"model,omitempty"`

	// Set when the summary was compared against a second report.
	Savings *Savings `json:"savings,omitempty"`
}

// Summarize reduces a run or report object.
//
// Totals prefer explicit top-level fields and fall back to the events list:
// total_time_ms sums event time_ms, total_llm_calls counts non-skipped ok
// ADAPTER events, and tokens_in/tokens_out sum event usage (only when both
// explicit values are zero). Documents without events may carry a reduced
// kora_events{ok,fail,skipped,stages} block instead; event counters and stage
// counts aggregate from that shape. budget_breaches and escalation_required
// count the top-level error contract plus every per-event contract.
func Summarize(obj map[string]any) Summary {
	events := asList(obj["events"])
	koraEvents := asMap(obj["kora_events"])

	ok := true
	if v, present := obj["ok"]; present {
		ok = truthy(v)
	}

	totalTimeMs := asInt64(obj["total_time_ms"])
	if totalTimeMs == 0 && len(events) > 0 {
		for _, e := range events {
			if ev := asMap(e); ev != nil {
				totalTimeMs += asInt64(ev["time_ms"])
			}
		}
	}

	totalLLMCalls := asInt(obj["total_llm_calls"])
	if totalLLMCalls == 0 && len(events) > 0 {
		for _, e := range events {
			ev := asMap(e)
			if ev == nil {
				continue
			}
			if asString(ev["stage"]) == "ADAPTER" && asString(ev["status"]) == "ok" && !truthy(ev["skipped"]) {
				totalLLMCalls++
			}
		}
	}

	tokensIn := asInt(obj["tokens_in"])
	tokensOut := asInt(obj["tokens_out"])
	if tokensIn == 0 && tokensOut == 0 && len(events) > 0 {
		for _, e := range events {
			ev := asMap(e)
			if ev == nil {
				continue
			}
			usage := asMap(ev["usage"])
			tokensIn += asInt(usage["tokens_in"])
			tokensOut += asInt(usage["tokens_out"])
		}
	}

	var eventsOK, eventsFail, eventsSkipped int
	stageCounts := map[string]int{}
	if len(events) > 0 {
		for _, e := range events {
			ev := asMap(e)
			if ev == nil {
				continue
			}
			switch asString(ev["status"]) {
			case "ok":
				eventsOK++
			case "fail":
				eventsFail++
			}
			if ev["skipped"] == true {
				eventsSkipped++
			}
			if stage, present := ev["stage"]; present && stage != nil {
				stageCounts[stringify(stage)]++
			}
		}
	} else {
		eventsOK = asInt(koraEvents["ok"])
		eventsFail = asInt(koraEvents["fail"])
		eventsSkipped = asInt(koraEvents["skipped"])
		for stage, n := range asMap(koraEvents["stages"]) {
			stageCounts[stage] = asInt(n)
		}
	}

	var budgetBreaches, escalationRequired int
	count := func(contract map[string]any) {
		if contract == nil {
			return
		}
		if truthy(contract["budget_breached"]) {
			budgetBreaches++
		}
		if asString(contract["error_type"]) == "ESCALATE_REQUIRED" {
			escalationRequired++
		}
	}
	count(asMap(obj["error"]))
	for _, e := range events {
		if ev := asMap(e); ev != nil {
			count(asMap(ev["error"]))
		}
	}

	return Summary{
		OK:                 ok,
		TotalTimeMs:        totalTimeMs,
		TotalLLMCalls:      totalLLMCalls,
		TokensIn:           tokensIn,
		TokensOut:          tokensOut,
		EventsOK:           eventsOK,
		EventsFail:         eventsFail,
		EventsSkipped:      eventsSkipped,
		StageCounts:        stageCounts,
		BudgetBreaches:     budgetBreaches,
		EscalationRequired: escalationRequired,
	}
}

// SummarizeValue re-marshals v through JSON and summarizes the resulting
// object. v is typically an engine result or a harness report struct.
func SummarizeValue(v any) (Summary, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Summary{}, fmt.Errorf("marshal value: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return Summary{}, fmt.Errorf("value is not a JSON object: %w", err)
	}
	return Summarize(obj), nil
}

// LoadJSON reads a run or report document from disk. The file must hold a
// single JSON object.
func LoadJSON(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var probe any
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	obj, ok := probe.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input JSON must be an object")
	}
	return obj, nil
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt truncates toward zero, matching how decoded JSON numbers reduce to
// counters throughout the summary.
func asInt(v any) int {
	return int(asInt64(v))
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
	}
	return 0
}

// truthy mirrors loose-JSON truthiness: nil, false, zero, empty string, and
// empty containers are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
