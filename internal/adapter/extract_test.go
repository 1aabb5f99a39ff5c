package adapter

import (
	"reflect"
	"testing"
)

func TestExtractStructured_TopLevelKeys(t *testing.T) {
	// output_json / json / structured at the top level win, object or string form.
	payload := map[string]any{"output_json": map[string]any{"a": 1.0}}
	if got := extractStructured(payload); got["a"] != 1.0 {
		t.Errorf("got %v", got)
	}

	payload = map[string]any{"structured": `{"b": 2}`}
	if got := extractStructured(payload); got["b"] != 2.0 {
		t.Errorf("string form not parsed: %v", got)
	}
}

func TestExtractStructured_OutputItems(t *testing.T) {
	// Items in output[] expose structured payloads under arguments and friends.
	payload := map[string]any{
		"output": []any{
			map[string]any{"type": "tool_call", "arguments": `{"status": "ok"}`},
		},
	}
	got := extractStructured(payload)
	if got["status"] != "ok" {
		t.Errorf("got %v", got)
	}
}

func TestExtractStructured_ContentBlockText(t *testing.T) {
	// An output_text block with noisy text recovers via the brace window.
	payload := map[string]any{
		"output": []any{
			map[string]any{
				"type": "message",
				"content": []any{
					map[string]any{"type": "output_text", "text": "```json\n{\"k\": \"v\"}\n```"},
				},
			},
		},
	}
	got := extractStructured(payload)
	if got["k"] != "v" {
		t.Errorf("got %v", got)
	}
}

func TestExtractStructured_ValidNonObjectJSONIsNotRecovered(t *testing.T) {
	// A block holding a valid JSON array is not an object; no brace digging.
	payload := map[string]any{
		"output": []any{
			map[string]any{
				"type": "message",
				"content": []any{
					map[string]any{"type": "output_text", "text": `[{"i": 1}]`},
				},
			},
		},
	}
	if got := extractStructured(payload); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestExtractStructured_NestedResponse(t *testing.T) {
	// A nested response object is searched recursively.
	payload := map[string]any{
		"response": map[string]any{"output_text": `{"nested": true}`},
	}
	got := extractStructured(payload)
	if got["nested"] != true {
		t.Errorf("got %v", got)
	}
}

func TestExtractText_PrefersMessageBlocks(t *testing.T) {
	// Message content blocks win over a top-level output_text.
	payload := map[string]any{
		"output": []any{
			map[string]any{
				"type":    "message",
				"content": []any{map[string]any{"type": "output_text", "text": "from block"}},
			},
		},
		"output_text": "from top",
	}
	got, err := extractText(payload)
	if err != nil || got != "from block" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestExtractText_FallbacksAndError(t *testing.T) {
	// Falls back to output_text, then response.output_text, then errors.
	got, err := extractText(map[string]any{"output_text": "top"})
	if err != nil || got != "top" {
		t.Errorf("got %q, %v", got, err)
	}

	got, err = extractText(map[string]any{"response": map[string]any{"output_text": "nested"}})
	if err != nil || got != "nested" {
		t.Errorf("got %q, %v", got, err)
	}

	if _, err := extractText(map[string]any{}); err == nil {
		t.Error("expected an error for a payload without text")
	}
}

func TestParseTextOutput_RecoveryChain(t *testing.T) {
	// Strict parse, brace window, then trim to the last closing brace.
	if got := parseTextOutput(`{"a": 1}`, "t"); got["a"] != 1.0 {
		t.Errorf("strict: %v", got)
	}
	if got := parseTextOutput("prose {\"a\": 1} more prose", "t"); got["a"] != 1.0 {
		t.Errorf("window: %v", got)
	}
	if got := parseTextOutput(`{"a": 1} trailing garbage`, "t"); got["a"] != 1.0 {
		t.Errorf("trim: %v", got)
	}
}

func TestParseTextOutput_FallbackWrapsRawText(t *testing.T) {
	// Unrecoverable text becomes an answer payload, never a failure.
	got := parseTextOutput("{not-json", "task_x")
	want := map[string]any{"status": "ok", "task_id": "task_x", "answer": "{not-json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Valid JSON that is not an object also falls back to the raw text.
	got = parseTextOutput(`[1, 2]`, "task_x")
	if got["answer"] != "[1, 2]" {
		t.Errorf("got %v", got)
	}
}
