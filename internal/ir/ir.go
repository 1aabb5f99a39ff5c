// Package ir defines the task-graph intermediate representation: the typed
// graph document, its parsing with strict union discrimination, graph
// normalization, and structural validation.
package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only graph document version this runtime accepts.
const Version = "0.1"

// Run kinds, the discriminator for Task.Run.
const (
	RunDet = "det"
	RunLLM = "llm"
)

// Rule kinds, the discriminator for verify rules.
const (
	RuleRequired = "required"
	RuleRange    = "range"
)

// OnFail selects the disposition applied when a task attempt fails.
type OnFail string

const (
	OnFailRetry    OnFail = "retry"
	OnFailFail     OnFail = "fail"
	OnFailEscalate OnFail = "escalate"
)

// Budget caps one task. MaxRetries counts retries beyond the first attempt.
type Budget struct {
	MaxTimeMs  int `json:"max_time_ms"`
	MaxTokens  int `json:"max_tokens"`
	MaxRetries int `json:"max_retries"`
}

// DefaultBudget returns the graph-level fallback applied when a document
// declares no defaults.
func DefaultBudget() Budget {
	return Budget{MaxTimeMs: 1500, MaxTokens: 300, MaxRetries: 1}
}

// RequiredRule asserts that top-level output keys are present.
type RequiredRule struct {
	Paths []string `json:"paths"`
}

// RangeRule bounds a numeric top-level output key. Nil Min or Max leaves that
// side unbounded. An absent key skips the rule.
type RangeRule struct {
	Path string   `json:"path"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// Rule is one verification rule; Kind selects the populated variant.
type Rule struct {
	Kind     string
	Required *RequiredRule
	Range    *RangeRule
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	switch head.Kind {
	case RuleRequired:
		var aux struct {
			Kind  string   `json:"kind"`
			Paths []string `json:"paths"`
		}
		if err := strictUnmarshal(b, &aux); err != nil {
			return fmt.Errorf("required rule: %w", err)
		}
		*r = Rule{Kind: head.Kind, Required: &RequiredRule{Paths: aux.Paths}}
	case RuleRange:
		var aux struct {
			Kind string   `json:"kind"`
			Path string   `json:"path"`
			Min  *float64 `json:"min"`
			Max  *float64 `json:"max"`
		}
		if err := strictUnmarshal(b, &aux); err != nil {
			return fmt.Errorf("range rule: %w", err)
		}
		*r = Rule{Kind: head.Kind, Range: &RangeRule{Path: aux.Path, Min: aux.Min, Max: aux.Max}}
	default:
		return fmt.Errorf("unknown rule kind %q", head.Kind)
	}
	return nil
}

func (r Rule) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RuleRequired:
		return json.Marshal(struct {
			Kind  string   `json:"kind"`
			Paths []string `json:"paths"`
		}{r.Kind, r.Required.Paths})
	case RuleRange:
		return json.Marshal(struct {
			Kind string   `json:"kind"`
			Path string   `json:"path"`
			Min  *float64 `json:"min,omitempty"`
			Max  *float64 `json:"max,omitempty"`
		}{r.Kind, r.Range.Path, r.Range.Min, r.Range.Max})
	}
	return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
}

// Verify couples an output schema with ordered rule checks.
type Verify struct {
	Schema map[string]any `json:"schema,omitempty"`
	Rules  []Rule         `json:"rules"`
}

// DetSpec names a registered deterministic handler and its arguments.
type DetSpec struct {
	Handler string         `json:"handler"`
	Args    map[string]any `json:"args,omitempty"`
}

// LLMSpec names the base adapter, the input payload, and the expected output
// schema for a model call.
type LLMSpec struct {
	Adapter      string         `json:"adapter"`
	Input        map[string]any `json:"input,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}

// SkipIf is the optional predicate carried inside an llm input payload under
// the "skip_if" key. Path addresses a single top-level key of a dependency
// output, written "$.key".
type SkipIf struct {
	Path   string
	Equals any
}

// SkipIf extracts the skip predicate from the input payload when present and
// well formed.
func (s *LLMSpec) SkipIf() (SkipIf, bool) {
	raw, ok := s.Input["skip_if"].(map[string]any)
	if !ok {
		return SkipIf{}, false
	}
	path, _ := raw["path"].(string)
	if path == "" {
		return SkipIf{}, false
	}
	eq, ok := raw["equals"]
	if !ok {
		return SkipIf{}, false
	}
	return SkipIf{Path: path, Equals: eq}, true
}

// Run selects the execution mode for a task; Kind discriminates.
type Run struct {
	Kind string
	Det  *DetSpec
	LLM  *LLMSpec
}

func (r *Run) UnmarshalJSON(b []byte) error {
	var head struct {
		Kind string          `json:"kind"`
		Spec json.RawMessage `json:"spec"`
	}
	if err := strictUnmarshal(b, &head); err != nil {
		return err
	}
	switch head.Kind {
	case RunDet:
		var spec DetSpec
		if err := strictUnmarshal(head.Spec, &spec); err != nil {
			return fmt.Errorf("det spec: %w", err)
		}
		*r = Run{Kind: head.Kind, Det: &spec}
	case RunLLM:
		var spec LLMSpec
		if err := strictUnmarshal(head.Spec, &spec); err != nil {
			return fmt.Errorf("llm spec: %w", err)
		}
		*r = Run{Kind: head.Kind, LLM: &spec}
	default:
		return fmt.Errorf("unknown run kind %q", head.Kind)
	}
	return nil
}

func (r Run) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RunDet:
		return json.Marshal(struct {
			Kind string   `json:"kind"`
			Spec *DetSpec `json:"spec"`
		}{r.Kind, r.Det})
	case RunLLM:
		return json.Marshal(struct {
			Kind string   `json:"kind"`
			Spec *LLMSpec `json:"spec"`
		}{r.Kind, r.LLM})
	}
	return nil, fmt.Errorf("unknown run kind %q", r.Kind)
}

// Policy carries the per-task budget, failure disposition, and optional
// adaptive routing configuration.
type Policy struct {
	Budget   *Budget   `json:"budget,omitempty"`
	OnFail   OnFail    `json:"on_fail,omitempty"`
	Adaptive *Adaptive `json:"adaptive,omitempty"`
}

// Task is one node of the graph. Type is a free-form category string (for
// example "det.classify_simple" or "llm.answer"); execution dispatches on
// Run.Kind, not Type.
type Task struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Deps   []string       `json:"deps"`
	In     map[string]any `json:"in"`
	Run    Run            `json:"run"`
	Verify *Verify        `json:"verify,omitempty"`
	Policy Policy         `json:"policy"`
	Tags   []string       `json:"tags,omitempty"`
}

// Defaults supplies graph-wide fallbacks applied during normalization.
type Defaults struct {
	Budget *Budget `json:"budget,omitempty"`
}

// Graph is the task-graph document.
type Graph struct {
	GraphID  string   `json:"graph_id"`
	Version  string   `json:"version"`
	Root     string   `json:"root"`
	Defaults Defaults `json:"defaults"`
	Tasks    []Task   `json:"tasks"`
}

// Clone returns a deep copy; normalization operates on clones so parsed
// documents are never mutated.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := *g
	if g.Defaults.Budget != nil {
		b := *g.Defaults.Budget
		out.Defaults.Budget = &b
	}
	out.Tasks = make([]Task, len(g.Tasks))
	for i := range g.Tasks {
		out.Tasks[i] = g.Tasks[i].clone()
	}
	return &out
}

func (t Task) clone() Task {
	out := t
	out.Deps = append([]string(nil), t.Deps...)
	out.Tags = append([]string(nil), t.Tags...)
	out.In = cloneMap(t.In)
	out.Run = t.Run.clone()
	if t.Verify != nil {
		v := Verify{Schema: cloneMap(t.Verify.Schema), Rules: make([]Rule, len(t.Verify.Rules))}
		for i, r := range t.Verify.Rules {
			v.Rules[i] = r.clone()
		}
		out.Verify = &v
	}
	out.Policy = t.Policy.clone()
	return out
}

func (r Run) clone() Run {
	out := Run{Kind: r.Kind}
	if r.Det != nil {
		out.Det = &DetSpec{Handler: r.Det.Handler, Args: cloneMap(r.Det.Args)}
	}
	if r.LLM != nil {
		out.LLM = &LLMSpec{
			Adapter:      r.LLM.Adapter,
			Input:        cloneMap(r.LLM.Input),
			OutputSchema: cloneMap(r.LLM.OutputSchema),
		}
	}
	return out
}

func (r Rule) clone() Rule {
	out := Rule{Kind: r.Kind}
	if r.Required != nil {
		out.Required = &RequiredRule{Paths: append([]string(nil), r.Required.Paths...)}
	}
	if r.Range != nil {
		rr := RangeRule{Path: r.Range.Path}
		if r.Range.Min != nil {
			m := *r.Range.Min
			rr.Min = &m
		}
		if r.Range.Max != nil {
			m := *r.Range.Max
			rr.Max = &m
		}
		out.Range = &rr
	}
	return out
}

func (p Policy) clone() Policy {
	out := Policy{OnFail: p.OnFail}
	if p.Budget != nil {
		b := *p.Budget
		out.Budget = &b
	}
	if p.Adaptive != nil {
		a := p.Adaptive.clone()
		out.Adaptive = &a
	}
	return out
}

// cloneMap deep-copies a JSON-shaped map (nested maps and slices copied,
// scalars shared).
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// strictUnmarshal decodes rejecting unknown fields and trailing data.
func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
