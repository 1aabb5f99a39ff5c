package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/korahq/kora/internal/event"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	responsesPath        = "/v1/responses"
)

// OpenAI calls the OpenAI Responses API and extracts a structured JSON
// object from whichever response shape the endpoint returns.
type OpenAI struct {
	name            string
	baseURL         string
	model           string
	forceSchema     map[string]any
	maxOutputTokens int
	httpClient      *http.Client
}

// normalizeBaseURL strips trailing slashes and a trailing "/v1/responses"
// suffix from a raw OPENAI_BASE_URL value so the path is never doubled when
// the adapter appends it.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, responsesPath)
}

func newOpenAI(name, model string, forceSchema map[string]any, maxOutputTokens int) *OpenAI {
	if env := strings.TrimSpace(os.Getenv("KORA_OPENAI_MODEL")); env != "" {
		model = env
	}
	base := normalizeBaseURL(os.Getenv("OPENAI_BASE_URL"))
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	return &OpenAI{
		name:            name,
		baseURL:         base,
		model:           model,
		forceSchema:     forceSchema,
		maxOutputTokens: maxOutputTokens,
		httpClient:      &http.Client{},
	}
}

// NewOpenAI creates the base adapter. The model resolves from
// KORA_OPENAI_MODEL, defaulting to gpt-4o-mini.
func NewOpenAI() *OpenAI {
	return newOpenAI("openai", "gpt-4o-mini", nil, 0)
}

// NewOpenAIMini creates the mini-stage adapter: model from
// KORA_OPENAI_MODEL_MINI, a forced slide-skeleton schema, and a raised
// output-token ceiling so an 18-slide skeleton is never truncated mid-array.
func NewOpenAIMini() *OpenAI {
	return newOpenAI("openai_mini", miniModel(), miniSlideSchema(), 3000)
}

// NewOpenAIFull creates the full-stage adapter: model from
// KORA_OPENAI_MODEL_FULL, defaulting to gpt-4o.
func NewOpenAIFull() *OpenAI {
	return newOpenAI("openai_full", fullModel(), nil, 0)
}

// NewOpenAIGate creates the stage-qualified "openai:gate" adapter on the
// mini model; escalation ladders resolve it by stage token.
func NewOpenAIGate() *OpenAI {
	return newOpenAI("openai:gate", miniModel(), nil, 0)
}

// NewOpenAIFullStage creates the stage-qualified "openai:full" adapter.
func NewOpenAIFullStage() *OpenAI {
	return newOpenAI("openai:full", fullModel(), nil, 0)
}

func miniModel() string {
	if v := strings.TrimSpace(os.Getenv("KORA_OPENAI_MODEL_MINI")); v != "" {
		return v
	}
	return "gpt-4o-mini"
}

func fullModel() string {
	if v := strings.TrimSpace(os.Getenv("KORA_OPENAI_MODEL_FULL")); v != "" {
		return v
	}
	return "gpt-4o"
}

func (o *OpenAI) Name() string { return o.name }

// Model reports the resolved model name.
func (o *OpenAI) Model() string { return o.model }

type responsesRequest struct {
	Model           string             `json:"model"`
	Input           []responsesMessage `json:"input"`
	MaxOutputTokens int                `json:"max_output_tokens"`
	Text            responsesText      `json:"text"`
}

type responsesMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesText struct {
	Format responsesFormat `json:"format"`
}

type responsesFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

func (o *OpenAI) Invoke(ctx context.Context, req Request) Result {
	start := time.Now()
	meta := map[string]any{"adapter": "openai", "model": o.model}
	failed := func(errText string, timedOut bool) Result {
		return Result{
			OK:       false,
			Output:   map[string]any{},
			Usage:    event.Usage{TimeMs: time.Since(start).Milliseconds()},
			Meta:     meta,
			Err:      errText,
			TimedOut: timedOut,
		}
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return Result{OK: false, Output: map[string]any{}, Meta: meta, Err: "OPENAI_API_KEY is missing"}
	}

	maxTokens := req.Budget.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	if o.maxOutputTokens > 0 {
		maxTokens = o.maxOutputTokens
	}

	effective := req.OutputSchema
	formatName := "kora_output"
	if o.forceSchema != nil {
		effective = o.forceSchema
		formatName = "kora_mini"
	}
	hardened := HardenSchema(effective)

	promptPayload, err := json.Marshal(map[string]any{
		"task_id":      req.TaskID,
		"input":        req.Input,
		"requirements": "Return JSON only. No prose.",
	})
	if err != nil {
		return failed(fmt.Sprintf("OpenAI adapter failed: %v", err), false)
	}

	body, err := json.Marshal(responsesRequest{
		Model: o.model,
		Input: []responsesMessage{
			{Role: "system", Content: []contentBlock{{Type: "input_text", Text: "You are a strict JSON engine. Return only valid JSON."}}},
			{Role: "user", Content: []contentBlock{{Type: "input_text", Text: string(promptPayload)}}},
		},
		MaxOutputTokens: maxTokens,
		Text:            responsesText{Format: responsesFormat{Type: "json_schema", Name: formatName, Schema: hardened, Strict: true}},
	})
	if err != nil {
		return failed(fmt.Sprintf("OpenAI adapter failed: %v", err), false)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout(req.Budget.MaxTimeMs))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.baseURL+responsesPath, bytes.NewReader(body))
	if err != nil {
		return failed(fmt.Sprintf("OpenAI adapter failed: %v", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return failed(fmt.Sprintf("OpenAI adapter failed: %v", err), isTimeout(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed(fmt.Sprintf("OpenAI adapter failed: %v", err), isTimeout(err))
	}
	if resp.StatusCode >= 400 {
		return failed(fmt.Sprintf("OpenAI API error %d: %s", resp.StatusCode, firstN(string(respBody), 240)), false)
	}

	var payload map[string]any
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return failed(fmt.Sprintf("OpenAI adapter failed: %v", err), false)
	}
	slog.Debug("[ADAPTER] openai response", "model", o.model, "task_id", req.TaskID, "top_keys", topKeys(payload))

	out := extractStructured(payload)
	if out == nil {
		text, err := extractText(payload)
		if err != nil {
			return failed(fmt.Sprintf("OpenAI adapter failed: %v", err), false)
		}
		out = parseTextOutput(text, req.TaskID)
	}

	if o.forceSchema != nil {
		if missing := missingRequired(hardened, out); missing != "" {
			return failed(fmt.Sprintf("OpenAI adapter failed: schema validation failed: '%s' is a required property", missing), false)
		}
	}

	usage := event.Usage{TimeMs: time.Since(start).Milliseconds()}
	if u, ok := payload["usage"].(map[string]any); ok {
		usage.TokensIn = asInt(u["input_tokens"])
		usage.TokensOut = asInt(u["output_tokens"])
	}
	return Result{OK: true, Output: out, Usage: usage, Meta: meta}
}

// timeout widens the task budget so the HTTP call is cancelled by the API,
// not raced by it: at least budget+1s, at least OPENAI_HTTP_TIMEOUT_SECONDS
// (default 30), never below 100ms.
func (o *OpenAI) timeout(budgetMs int) time.Duration {
	envSeconds := 30.0
	if raw := strings.TrimSpace(os.Getenv("OPENAI_HTTP_TIMEOUT_SECONDS")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			envSeconds = v
		}
	}
	seconds := float64(budgetMs)/1000.0 + 1.0
	if envSeconds > seconds {
		seconds = envSeconds
	}
	if seconds < 0.1 {
		seconds = 0.1
	}
	return time.Duration(seconds * float64(time.Second))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func topKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func missingRequired(schema, out map[string]any) string {
	required, ok := schema["required"].([]any)
	if !ok {
		return ""
	}
	for _, f := range required {
		field, ok := f.(string)
		if !ok {
			continue
		}
		if _, present := out[field]; !present {
			return field
		}
	}
	return ""
}

func miniSlideSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status":  map[string]any{"type": "string"},
			"task_id": map[string]any{"type": "string"},
			"slides": map[string]any{
				"type":     "array",
				"minItems": 18,
				"maxItems": 18,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"i":     map[string]any{"type": "integer"},
						"title": map[string]any{"type": "string"},
						"msg":   map[string]any{"type": "string"},
					},
					"required": []any{"i", "title", "msg"},
				},
			},
		},
		"required": []any{"status", "task_id", "slides"},
	}
}
