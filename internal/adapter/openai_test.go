package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/korahq/kora/internal/ir"
)

func TestNormalizeBaseURL_StripsResponsesSuffix(t *testing.T) {
	// Strips a trailing "/v1/responses" suffix and trailing slashes.
	got := normalizeBaseURL("https://proxy.example.com/v1/responses/")
	want := "https://proxy.example.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := normalizeBaseURL("https://api.openai.com"); got != "https://api.openai.com" {
		t.Errorf("unchanged URL drifted: %q", got)
	}
	if got := normalizeBaseURL(""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestNewOpenAI_ModelPrecedence(t *testing.T) {
	// KORA_OPENAI_MODEL overrides every stage; stage vars override defaults.
	t.Setenv("KORA_OPENAI_MODEL", "")
	t.Setenv("KORA_OPENAI_MODEL_MINI", "mini-custom")
	t.Setenv("KORA_OPENAI_MODEL_FULL", "")
	if got := NewOpenAIMini().Model(); got != "mini-custom" {
		t.Errorf("mini model = %q, want mini-custom", got)
	}
	if got := NewOpenAIFull().Model(); got != "gpt-4o" {
		t.Errorf("full model = %q, want gpt-4o", got)
	}

	t.Setenv("KORA_OPENAI_MODEL", "override-all")
	if got := NewOpenAIMini().Model(); got != "override-all" {
		t.Errorf("shared override ignored: %q", got)
	}
}

func TestOpenAI_Invoke_MissingAPIKey(t *testing.T) {
	// A missing key fails fast without any HTTP traffic.
	t.Setenv("OPENAI_API_KEY", "")
	res := NewOpenAI().Invoke(context.Background(), Request{TaskID: "t1"})
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Err != "OPENAI_API_KEY is missing" {
		t.Errorf("err = %q", res.Err)
	}
}

func TestOpenAI_Invoke_ParsesStructuredResponse(t *testing.T) {
	// A message/output_text response body yields the parsed object and usage.
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request body: %v", err)
		}
		resp := map[string]any{
			"output": []any{
				map[string]any{
					"type": "message",
					"content": []any{
						map[string]any{"type": "output_text", "text": `{"status":"ok","task_id":"t1","answer":"42"}`},
					},
				},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 5},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", srv.URL)

	res := NewOpenAI().Invoke(context.Background(), Request{
		TaskID:       "t1",
		Input:        map[string]any{"question": "what is six times seven"},
		OutputSchema: map[string]any{"type": "object", "required": []any{"status", "task_id", "answer"}},
		Budget:       ir.Budget{MaxTimeMs: 3000, MaxTokens: 400},
	})
	if !res.OK {
		t.Fatalf("Invoke failed: %s", res.Err)
	}
	if res.Output["answer"] != "42" {
		t.Errorf("answer = %v", res.Output["answer"])
	}
	if res.Usage.TokensIn != 10 || res.Usage.TokensOut != 5 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.Meta["adapter"] != "openai" {
		t.Errorf("meta.adapter = %v", res.Meta["adapter"])
	}

	// The request carries the hardened schema and the token ceiling.
	if captured["max_output_tokens"] != 400.0 {
		t.Errorf("max_output_tokens = %v", captured["max_output_tokens"])
	}
	format := captured["text"].(map[string]any)["format"].(map[string]any)
	if format["type"] != "json_schema" || format["name"] != "kora_output" || format["strict"] != true {
		t.Errorf("format = %v", format)
	}
	if format["schema"].(map[string]any)["additionalProperties"] != false {
		t.Error("schema not hardened on the wire")
	}
}

func TestOpenAI_Invoke_APIError(t *testing.T) {
	// HTTP >= 400 surfaces status and a truncated body.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "rate limited"}}`)
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", srv.URL)

	res := NewOpenAI().Invoke(context.Background(), Request{TaskID: "t1", Budget: ir.Budget{MaxTimeMs: 1000}})
	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Err, "OpenAI API error 429:") {
		t.Errorf("err = %q", res.Err)
	}
	if res.TimedOut {
		t.Error("API error misreported as timeout")
	}
}

func TestOpenAI_Invoke_ForcedSchemaRequiredRecheck(t *testing.T) {
	// The mini stage re-checks required fields after extraction.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"output_json": map[string]any{"status": "ok"}})
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", srv.URL)
	t.Setenv("KORA_OPENAI_MODEL", "")
	t.Setenv("KORA_OPENAI_MODEL_MINI", "")

	res := NewOpenAIMini().Invoke(context.Background(), Request{TaskID: "t1", Budget: ir.Budget{MaxTimeMs: 1000, MaxTokens: 100}})
	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Err, "'task_id' is a required property") {
		t.Errorf("err = %q", res.Err)
	}
}

func TestOpenAI_Invoke_FallbackWrapsNonJSONText(t *testing.T) {
	// Plain text output becomes an answer payload instead of a failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"output_text": "forty two"})
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", srv.URL)

	res := NewOpenAI().Invoke(context.Background(), Request{TaskID: "t9", Budget: ir.Budget{MaxTimeMs: 1000}})
	if !res.OK {
		t.Fatalf("Invoke failed: %s", res.Err)
	}
	if res.Output["answer"] != "forty two" || res.Output["task_id"] != "t9" {
		t.Errorf("output = %v", res.Output)
	}
}
