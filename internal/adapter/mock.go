package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/korahq/kora/internal/event"
)

// MockOptions shape a mock adapter's replies.
type MockOptions struct {
	// Confidence is reported in meta and read by the adaptive controller.
	Confidence float64
	// Model reported in meta; defaults to "mock".
	Model string
	// Usage reported per call; defaults to {time_ms: 1}.
	Usage *event.Usage
	// Output builds the reply payload; defaults to {status, task_id}.
	Output func(req Request) map[string]any
	// FailFirst makes the first N invocations fail.
	FailFirst int
	// TimedOut marks forced failures as time-budget failures.
	TimedOut bool
}

// Mock is an in-process adapter for offline runs and tests.
type Mock struct {
	name string
	opts MockOptions

	mu    sync.Mutex
	calls int
}

func NewMock(name string, opts MockOptions) *Mock {
	if opts.Model == "" {
		opts.Model = "mock"
	}
	return &Mock{name: name, opts: opts}
}

func (m *Mock) Name() string { return m.name }

// Calls reports how many times Invoke ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Model reports the model name echoed in meta.
func (m *Mock) Model() string { return m.opts.Model }

func (m *Mock) Invoke(_ context.Context, req Request) Result {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	usage := event.Usage{TimeMs: 1}
	if m.opts.Usage != nil {
		usage = *m.opts.Usage
	}
	meta := map[string]any{
		"adapter":    m.name,
		"model":      m.opts.Model,
		"confidence": m.opts.Confidence,
	}

	if call <= m.opts.FailFirst {
		return Result{
			OK:       false,
			Output:   map[string]any{},
			Usage:    usage,
			Meta:     meta,
			Err:      "mock adapter forced failure",
			TimedOut: m.opts.TimedOut,
		}
	}

	out := map[string]any{"status": "ok", "task_id": req.TaskID}
	if m.opts.Output != nil {
		out = m.opts.Output(req)
	}
	return Result{OK: true, Output: out, Usage: usage, Meta: meta}
}

// cannedSlideCount matches the skeleton size the shipped presentation graphs
// gate on.
const cannedSlideCount = 18

// CannedOutput derives a reply from the requested output schema: a slide
// skeleton when the schema requires slides, otherwise an answer echoing the
// question. The default registry's mock uses it so the shipped graphs verify
// without a network call.
func CannedOutput(req Request) map[string]any {
	out := map[string]any{"status": "ok", "task_id": req.TaskID}
	if schemaRequires(req.OutputSchema, "slides") {
		out["slides"] = cannedSlides(cannedSlideCount)
		return out
	}
	answer := "mock answer"
	if question, _ := req.Input["question"].(string); question != "" {
		answer = "mock answer: " + question
	}
	out["answer"] = answer
	return out
}

func schemaRequires(schema map[string]any, key string) bool {
	if schema == nil {
		return false
	}
	switch required := schema["required"].(type) {
	case []string:
		for _, name := range required {
			if name == key {
				return true
			}
		}
	case []any:
		for _, name := range required {
			if name == key {
				return true
			}
		}
	}
	return false
}

func cannedSlides(n int) []any {
	slides := make([]any, n)
	for i := range slides {
		slides[i] = map[string]any{
			"i":       i + 1,
			"title":   fmt.Sprintf("Slide %d", i+1),
			"msg":     "canned key message",
			"bullets": []any{"canned bullet"},
		}
	}
	return slides
}
