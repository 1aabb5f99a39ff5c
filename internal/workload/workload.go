// Package workload builds the canned task graphs behind the demo command,
// the stress harness, and the studio backend. Builders return normalized
// graphs ready for the engine; adapter names are parameters so the same
// shapes run against the mock or the OpenAI stages.
package workload

import (
	"fmt"
	"strings"

	"github.com/korahq/kora/internal/handler"
	"github.com/korahq/kora/internal/ir"
)

// ShortText classifies as simple, so skip-demo graphs bypass the model call.
const ShortText = "Summarize quickly."

// LongText exceeds the simple cutoff and forces a model call.
const LongText = "Inference costs have become one of the largest line-items for modern AI " +
	"applications. Teams often call an LLM at every step, causing cost and latency " +
	"volatility. A structured runtime can execute deterministic tasks locally and " +
	"call models only when needed."

// DefaultRequest is the presentation benchmark's canned user request.
const DefaultRequest = "User asks for a concise summary of cost variance risks in an AI support assistant rollout."

// outputContract is the shared instruction suffix telling the model the exact
// JSON shape to return.
const outputContract = "OUTPUT:JSON slides[{i,title,msg,bullets[],notes}]"

// Hello returns the quickstart graph: one echo task.
func Hello(message string) *ir.Graph {
	g := ir.Graph{
		GraphID: "hello-kora",
		Version: ir.Version,
		Root:    "task_echo",
		Tasks: []ir.Task{{
			ID:   "task_echo",
			Type: "det.echo",
			Deps: []string{},
			In:   map[string]any{"message": message},
			Run: ir.Run{Kind: ir.RunDet, Det: &ir.DetSpec{
				Handler: "echo",
				Args:    map[string]any{"message": message},
			}},
			Policy: ir.Policy{OnFail: ir.OnFailFail},
			Tags:   []string{"hello"},
		}},
	}
	return ir.Normalize(&g)
}

// SkipDemo chains classify_simple into an answer task that is skipped when
// the classifier marks the text simple. The studio backend runs it per
// request; the stress harness uses the StressCase variant.
func SkipDemo(text, adapterName string) *ir.Graph {
	g := ir.Graph{
		GraphID:  "skip-demo",
		Version:  ir.Version,
		Root:     "task_llm",
		Defaults: ir.Defaults{Budget: &ir.Budget{MaxTimeMs: 3000, MaxTokens: 400, MaxRetries: 1}},
		Tasks: []ir.Task{
			classifyTask("task_pre", text, []string{}, []string{"skip-demo"}),
			answerTask(answerTaskSpec{
				id:      "task_llm",
				deps:    []string{"task_pre"},
				adapter: adapterName,
				input: map[string]any{
					"question": text,
					"skip_if":  skipIfSimple(),
				},
				budget: ir.Budget{MaxTimeMs: 3000, MaxTokens: 400, MaxRetries: 1},
				tags:   []string{"skip-demo"},
			}),
		},
	}
	return ir.Normalize(&g)
}

// StressCase builds one harness graph. The exhaustion variant pins a budget
// nothing satisfies and requires a verify key the classifier never emits, so
// the run fails early while the extreme budget still applies downstream.
func StressCase(idx int, text, adapterName string, exhaust bool) *ir.Graph {
	llmBudget := ir.Budget{MaxTimeMs: 3000, MaxTokens: 400, MaxRetries: 1}
	if exhaust {
		llmBudget = ir.Budget{MaxTimeMs: 1, MaxTokens: 1, MaxRetries: 0}
	}

	pre := classifyTask("task_pre", text, []string{}, []string{"stress"})
	if exhaust {
		pre.Verify.Schema["required"] = []any{"status", "task_id", "is_simple", "must_fail_on_exhaustion_case"}
	}

	g := ir.Graph{
		GraphID:  fmt.Sprintf("stress-%d", idx),
		Version:  ir.Version,
		Root:     "task_llm",
		Defaults: ir.Defaults{Budget: &ir.Budget{MaxTimeMs: 3000, MaxTokens: 400, MaxRetries: 1}},
		Tasks: []ir.Task{
			pre,
			answerTask(answerTaskSpec{
				id:      "task_llm",
				deps:    []string{"task_pre"},
				adapter: adapterName,
				input: map[string]any{
					"question": text,
					"skip_if":  skipIfSimple(),
				},
				budget: llmBudget,
				tags:   []string{"stress"},
			}),
		},
	}
	return ir.Normalize(&g)
}

// PresentationOpts selects the presentation graph variant and its adapters.
type PresentationOpts struct {
	// Hierarchical routes through the mini skeleton, quality gate, and full
	// refinement ladder instead of a single model call.
	Hierarchical bool
	// Raw sends the unreduced request text to the model, for baseline
	// comparisons against the compact prompt.
	Raw bool
	// Adapter overrides for the llm stages; empty fields keep the defaults
	// openai, openai_mini, and openai_full.
	Adapter     string
	MiniAdapter string
	FullAdapter string
}

// Presentation builds the production-like benchmark graph: constraint
// parsing, simplicity classification, then either a single model call or the
// hierarchical mini/gate/full ladder.
func Presentation(request string, opts PresentationOpts) *ir.Graph {
	question := CompactQuestion(request)
	if opts.Raw {
		question = RawQuestion(request)
	}

	tasks := []ir.Task{
		constraintTask(request),
		classifyTask("task_pre", question, []string{"task_parse_constraints"}, []string{"real-workload"}),
	}
	root := "task_llm"
	if opts.Hierarchical {
		root = "task_llm_full"
		tasks = append(tasks,
			miniTask(question, orDefault(opts.MiniAdapter, "openai_mini")),
			gateTask(),
			fullTask(question, orDefault(opts.FullAdapter, "openai_full")),
		)
	} else {
		tasks = append(tasks, answerTask(answerTaskSpec{
			id:      "task_llm",
			deps:    []string{"task_pre"},
			adapter: orDefault(opts.Adapter, "openai"),
			input: map[string]any{
				"question": question,
				"skip_if":  skipIfSimple(),
			},
			budget: ir.Budget{MaxTimeMs: 20000, MaxTokens: 400, MaxRetries: 1},
			tags:   []string{"real-workload"},
		}))
	}

	g := ir.Graph{
		GraphID:  "real-workload-harness",
		Version:  ir.Version,
		Root:     root,
		Defaults: ir.Defaults{Budget: &ir.Budget{MaxTimeMs: 20000, MaxTokens: 400, MaxRetries: 1}},
		Tasks:    tasks,
	}
	return ir.Normalize(&g)
}

// CompactQuestion reduces a request to the terse prompt contract: parsed
// slide count, shortened topic tags, and the JSON output contract.
func CompactQuestion(request string) string {
	parsed := handler.ParseConstraints(request)

	slideCount := 18
	if n, ok := parsed["slide_count"].(int); ok {
		slideCount = n
	}

	domains, _ := parsed["topic_domains"].([]string)
	tags := make([]string, 0, len(domains))
	for _, d := range domains {
		tags = append(tags, strings.ReplaceAll(strings.ToLower(strings.TrimSpace(d)), "_", ""))
	}
	if len(tags) > 8 {
		tags = tags[:8]
	}
	include := "market|arch|decomposition|escalation|bench|rollout|risks|recs"
	if len(tags) > 0 {
		include = strings.Join(tags, "|")
	}

	return "TASK:PPT_OUTLINE\n" +
		fmt.Sprintf("SLIDES:%d\n", slideCount) +
		"FIELDS:title|key_message|bullets(3-5)|notes\n" +
		"INCLUDE:" + include + "\n" +
		outputContract
}

// RawQuestion forwards the request text unreduced.
func RawQuestion(request string) string {
	return "TASK:PPT_OUTLINE\n" +
		"REQUEST:" + request + "\n" +
		"FIELDS:title|key_message|bullets(3-5)|notes\n" +
		outputContract
}

func constraintTask(request string) ir.Task {
	return ir.Task{
		ID:   "task_parse_constraints",
		Type: "det.parse_request_constraints",
		Deps: []string{},
		In:   map[string]any{"text": request},
		Run: ir.Run{Kind: ir.RunDet, Det: &ir.DetSpec{
			Handler: "parse_request_constraints",
			Args:    map[string]any{"text": request},
		}},
		Verify: &ir.Verify{
			Schema: map[string]any{
				"type": "object",
				"required": []any{
					"status", "task_id", "intent", "deliverable_type",
					"slide_count", "required_components", "topic_domains",
				},
			},
			Rules: []ir.Rule{},
		},
		Policy: ir.Policy{OnFail: ir.OnFailFail},
		Tags:   []string{"real-workload", "constraint-parse"},
	}
}

func miniTask(question, adapterName string) ir.Task {
	miniQuestion := "TASK:MINI_SKELETON\n" +
		"REQ:" + question + "\n" +
		"Return ONLY valid JSON. No prose. No markdown. No code fences.\n" +
		"Top-level JSON keys MUST be exactly: status, task_id, slides.\n" +
		"Set status='ok' and task_id='task_llm_mini'.\n" +
		"slides must be an array of exactly 18 objects.\n" +
		"Each slide object MUST include keys: i,title,msg,bullets.\n" +
		"bullets MUST be an array with 0 or 1 short strings.\n"
	return ir.Task{
		ID:   "task_llm_mini",
		Type: "llm.answer.mini",
		Deps: []string{"task_pre"},
		In:   map[string]any{},
		Run: ir.Run{Kind: ir.RunLLM, LLM: &ir.LLMSpec{
			Adapter: adapterName,
			Input: map[string]any{
				"question": miniQuestion,
				"skip_if":  skipIfSimple(),
			},
			OutputSchema: slideSkeletonSchema(),
		}},
		Verify: &ir.Verify{
			Schema: map[string]any{"type": "object", "required": []any{"status", "task_id", "slides"}},
			Rules:  []ir.Rule{},
		},
		Policy: ir.Policy{
			Budget: &ir.Budget{MaxTimeMs: 12000, MaxTokens: 220, MaxRetries: 1},
			OnFail: ir.OnFailRetry,
		},
		Tags: []string{"real-workload", "hier-mini"},
	}
}

func gateTask() ir.Task {
	return ir.Task{
		ID:   "task_quality_gate",
		Type: "det.quality_gate",
		Deps: []string{"task_llm_mini"},
		In:   map[string]any{},
		Run: ir.Run{Kind: ir.RunDet, Det: &ir.DetSpec{
			Handler: "quality_gate",
			Args: map[string]any{
				"dep_task_id":        "task_llm_mini",
				"target_slide_count": 18,
				"required_fields":    []any{"i", "title", "msg", "bullets"},
			},
		}},
		Verify: &ir.Verify{
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"status", "task_id", "message", "needs_refine", "reason"},
			},
			Rules: []ir.Rule{},
		},
		Policy: ir.Policy{OnFail: ir.OnFailFail},
		Tags:   []string{"real-workload", "hier-gate"},
	}
}

func fullTask(question, adapterName string) ir.Task {
	fullQuestion := "TASK:FULL_REFINE\n" +
		"INPUT:mini skeleton from prior step\n" +
		"CONSTRAINTS:" + question + "\n" +
		outputContract
	return answerTask(answerTaskSpec{
		id:       "task_llm_full",
		taskType: "llm.answer.full",
		deps:     []string{"task_quality_gate"},
		adapter:  adapterName,
		input: map[string]any{
			"question": fullQuestion,
			"skip_if":  map[string]any{"path": "$.message", "equals": "skip_full"},
		},
		budget: ir.Budget{MaxTimeMs: 22000, MaxTokens: 400, MaxRetries: 1},
		tags:   []string{"real-workload", "hier-full"},
	})
}

// answerTaskSpec parameterizes the answer-shaped llm tasks the builders
// share.
type answerTaskSpec struct {
	id       string
	taskType string
	deps     []string
	adapter  string
	input    map[string]any
	budget   ir.Budget
	tags     []string
}

func answerTask(spec answerTaskSpec) ir.Task {
	budget := spec.budget
	return ir.Task{
		ID:   spec.id,
		Type: orDefault(spec.taskType, "llm.answer"),
		Deps: spec.deps,
		In:   map[string]any{},
		Run: ir.Run{Kind: ir.RunLLM, LLM: &ir.LLMSpec{
			Adapter:      spec.adapter,
			Input:        spec.input,
			OutputSchema: AnswerSchema(),
		}},
		Verify: &ir.Verify{
			Schema: map[string]any{"type": "object", "required": []any{"status", "task_id", "answer"}},
			Rules:  []ir.Rule{},
		},
		Policy: ir.Policy{Budget: &budget, OnFail: ir.OnFailRetry},
		Tags:   spec.tags,
	}
}

func classifyTask(id, text string, deps, tags []string) ir.Task {
	return ir.Task{
		ID:   id,
		Type: "det.classify_simple",
		Deps: deps,
		In:   map[string]any{"text": text},
		Run: ir.Run{Kind: ir.RunDet, Det: &ir.DetSpec{
			Handler: "classify_simple",
			Args:    map[string]any{"text": text},
		}},
		Verify: &ir.Verify{
			Schema: map[string]any{"type": "object", "required": []any{"status", "task_id", "is_simple"}},
			Rules: []ir.Rule{{Kind: ir.RuleRequired, Required: &ir.RequiredRule{
				Paths: []string{"status", "task_id", "is_simple"},
			}}},
		},
		Policy: ir.Policy{OnFail: ir.OnFailFail},
		Tags:   tags,
	}
}

// AnswerSchema is the output contract for plain question-answer llm tasks.
// The direct-call benchmark reuses it so both paths request the same shape.
func AnswerSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status":  map[string]any{"type": "string"},
			"task_id": map[string]any{"type": "string"},
			"answer":  map[string]any{"type": "string"},
		},
		"required": []any{"status", "task_id", "answer"},
	}
}

func slideSkeletonSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status":  map[string]any{"type": "string"},
			"task_id": map[string]any{"type": "string"},
			"slides": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"i":     map[string]any{"type": "integer"},
						"title": map[string]any{"type": "string"},
						"msg":   map[string]any{"type": "string"},
						"bullets": map[string]any{
							"type":     "array",
							"items":    map[string]any{"type": "string"},
							"minItems": 0,
							"maxItems": 1,
						},
					},
					"required": []any{"i", "title", "msg", "bullets"},
				},
			},
		},
		"required": []any{"status", "task_id", "slides"},
	}
}

func skipIfSimple() map[string]any {
	return map[string]any{"path": "$.is_simple", "equals": true}
}

// orDefault returns v unless it is empty, in which case it returns def.
// It matches cmp.Or for two strings; cmp.Or needs Go 1.22 and this module
// builds with Go 1.21.
func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
