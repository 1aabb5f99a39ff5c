package handler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/korahq/kora/internal/ir"
)

// simpleTextRuneLimit is the classify_simple cutoff: anything shorter counts
// as simple.
const simpleTextRuneLimit = 80

const defaultSlideCount = 18

const maxTopicDomains = 8

// Echo replies with the message from in.message, falling back to the det
// args when absent.
func Echo(task *ir.Task, _ State) (map[string]any, error) {
	message := task.In["message"]
	if message == nil && task.Run.Kind == ir.RunDet && task.Run.Det != nil {
		message = task.Run.Det.Args["message"]
	}
	return map[string]any{
		"status":  "ok",
		"task_id": task.ID,
		"message": message,
	}, nil
}

// ClassifySimple flags short requests so downstream llm stages can be
// skipped.
func ClassifySimple(task *ir.Task, _ State) (map[string]any, error) {
	text := textArg(task)
	return map[string]any{
		"status":    "ok",
		"task_id":   task.ID,
		"is_simple": utf8.RuneCountInString(text) < simpleTextRuneLimit,
	}, nil
}

// FlakyOnce fails its first invocation per task and succeeds afterwards,
// tracking attempts in the run state.
func FlakyOnce(task *ir.Task, state State) (map[string]any, error) {
	if state == nil {
		return nil, fmt.Errorf("flaky_once requires run state")
	}
	key := "flaky_once:" + task.ID
	calls, _ := state[key].(int)
	calls++
	state[key] = calls
	if calls == 1 {
		return nil, fmt.Errorf("flaky failure on attempt %d", calls)
	}
	return map[string]any{
		"status":  "ok",
		"task_id": task.ID,
		"message": fmt.Sprintf("recovered on attempt %d", calls),
	}, nil
}

var slideCountRe = regexp.MustCompile(`(\d+)\s*-\s*slide|(\d+)\s+slides?`)

// Ordered so the emitted topic_domains follow request phrasing priorities.
var topicPhrases = []struct{ phrase, label string }{
	{"market context", "market_context"},
	{"architecture", "architecture"},
	{"decomposition", "decomposition"},
	{"escalation", "escalation"},
	{"benchmark", "benchmarking"},
	{"rollout", "rollout_plan"},
	{"risk", "risk"},
	{"recommendation", "recommendations"},
}

// ParseConstraints extracts presentation constraints from a free-text
// request: slide count (default 18) and up to 8 topic domains.
func ParseConstraints(text string) map[string]any {
	lowered := strings.ToLower(text)

	slideCount := defaultSlideCount
	if m := slideCountRe.FindStringSubmatch(lowered); m != nil {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if n, err := strconv.Atoi(g); err == nil {
				slideCount = n
			}
			break
		}
	}

	domains := make([]string, 0, len(topicPhrases))
	for _, tp := range topicPhrases {
		if strings.Contains(lowered, tp.phrase) {
			domains = append(domains, tp.label)
		}
	}
	if len(domains) == 0 {
		domains = []string{"strategy", "execution"}
	}
	if len(domains) > maxTopicDomains {
		domains = domains[:maxTopicDomains]
	}

	return map[string]any{
		"intent":              "create_presentation_outline",
		"deliverable_type":    "ppt_outline",
		"slide_count":         slideCount,
		"required_components": []string{"title", "key_message", "bullets", "presenter_notes"},
		"topic_domains":       domains,
	}
}

// ParseRequestConstraints wraps ParseConstraints as a det handler.
func ParseRequestConstraints(task *ir.Task, _ State) (map[string]any, error) {
	out := map[string]any{"status": "ok", "task_id": task.ID}
	for k, v := range ParseConstraints(textArg(task)) {
		out[k] = v
	}
	return out, nil
}

// QualityGate inspects a dependency's slide skeleton and decides whether the
// full refinement stage can be skipped. It never errors; the verdict is the
// output.
func QualityGate(task *ir.Task, state State) (map[string]any, error) {
	depID := ""
	target := defaultSlideCount
	fields := []string{"i", "title", "msg", "bullets"}
	if task.Run.Det != nil {
		args := task.Run.Det.Args
		if v, ok := args["dep_task_id"].(string); ok && v != "" {
			depID = v
		}
		if v, ok := asCount(args["target_slide_count"]); ok {
			target = v
		}
		if parsed := stringSlice(args["required_fields"]); len(parsed) > 0 {
			fields = parsed
		}
	}
	if depID == "" && len(task.Deps) > 0 {
		depID = task.Deps[0]
	}

	verdict := func(message, reason string, refine bool) (map[string]any, error) {
		return map[string]any{
			"status":       "ok",
			"task_id":      task.ID,
			"message":      message,
			"needs_refine": refine,
			"reason":       reason,
		}, nil
	}

	dep, ok := Outputs(state)[depID]
	if !ok {
		return verdict("run_full", fmt.Sprintf("missing output for dependency %q", depID), true)
	}
	slides, ok := dep["slides"].([]any)
	if !ok {
		return verdict("run_full", "slides missing or not an array", true)
	}
	if len(slides) != target {
		return verdict("run_full", fmt.Sprintf("slide count %d does not match target %d", len(slides), target), true)
	}
	for i, s := range slides {
		slide, ok := s.(map[string]any)
		if !ok {
			return verdict("run_full", fmt.Sprintf("slide %d is not an object", i), true)
		}
		for _, f := range fields {
			if _, ok := slide[f]; !ok {
				return verdict("run_full", fmt.Sprintf("slide %d missing required field %q", i, f), true)
			}
		}
	}
	return verdict("skip_full", "skeleton meets gate criteria", false)
}

func textArg(task *ir.Task) string {
	if v, ok := task.In["text"].(string); ok && v != "" {
		return v
	}
	if task.Run.Det != nil {
		if v, ok := task.Run.Det.Args["text"].(string); ok {
			return v
		}
	}
	return ""
}

func asCount(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
