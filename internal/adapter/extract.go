package adapter

import (
	"encoding/json"
	"errors"
	"strings"
)

// The Responses API has shipped several envelope shapes: structured JSON at
// the top level, message items with content blocks, a flat output_text, and
// a nested response object. Extraction tries the structured paths first and
// falls back to textual JSON recovery.

// parseMaybeObject returns v when it is already an object, or parses it when
// it is a string that looks like one.
func parseMaybeObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
				return parsed
			}
		}
	}
	return nil
}

// extractStructured walks the known structured-output locations and returns
// the first JSON object found, or nil when the payload has none.
func extractStructured(payload map[string]any) map[string]any {
	for _, key := range []string{"output_json", "json", "structured"} {
		if parsed := parseMaybeObject(payload[key]); parsed != nil {
			return parsed
		}
	}

	if items, ok := payload["output"].([]any); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range []string{"output_json", "json", "structured", "arguments"} {
				if parsed := parseMaybeObject(item[key]); parsed != nil {
					return parsed
				}
			}

			blocks, ok := item["content"].([]any)
			if !ok {
				continue
			}
			for _, rawBlock := range blocks {
				block, ok := rawBlock.(map[string]any)
				if !ok {
					continue
				}
				blockType, _ := block["type"].(string)
				if blockType == "output_text" {
					if text, ok := block["text"].(string); ok {
						if parsed := parseObjectOrBraceWindow(text); parsed != nil {
							return parsed
						}
					}
				}
				switch blockType {
				case "output_json", "json", "structured", "tool_call", "message":
					for _, key := range []string{"json", "output_json", "structured", "arguments", "text", "value"} {
						if parsed := parseMaybeObject(block[key]); parsed != nil {
							return parsed
						}
					}
				}
			}
		}
	}

	if parsed := parseMaybeObject(payload["output_text"]); parsed != nil {
		return parsed
	}

	if nested, ok := payload["response"].(map[string]any); ok {
		return extractStructured(nested)
	}
	return nil
}

// extractText finds the textual output of a response: message content blocks
// first, then output_text at the top level or nested under response.
func extractText(payload map[string]any) (string, error) {
	if items, ok := payload["output"].([]any); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok || item["type"] != "message" {
				continue
			}
			blocks, ok := item["content"].([]any)
			if !ok {
				continue
			}
			for _, rawBlock := range blocks {
				block, ok := rawBlock.(map[string]any)
				if !ok || block["type"] != "output_text" {
					continue
				}
				if text, ok := block["text"].(string); ok {
					return text, nil
				}
			}
		}
	}

	if text, ok := payload["output_text"].(string); ok && text != "" {
		return text, nil
	}
	if nested, ok := payload["response"].(map[string]any); ok {
		if text, ok := nested["output_text"].(string); ok && text != "" {
			return text, nil
		}
	}
	return "", errors.New("OpenAI response did not include textual JSON output")
}

// parseTextOutput recovers a JSON object from model text: strict parse, then
// the outermost brace window, then a trim to the last closing brace (models
// truncated mid-stream often leave trailing garbage after valid JSON).
// Unrecoverable text is wrapped as an answer payload instead of failing.
func parseTextOutput(text, taskID string) map[string]any {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		if obj, ok := parsed.(map[string]any); ok {
			return obj
		}
	} else {
		if recovered := parseObjectOrBraceWindow(text); recovered != nil {
			return recovered
		}
		if end := strings.LastIndex(text, "}"); end >= 0 {
			var obj map[string]any
			if err := json.Unmarshal([]byte(text[:end+1]), &obj); err == nil {
				return obj
			}
		}
	}
	return map[string]any{"status": "ok", "task_id": taskID, "answer": text}
}

// parseObjectOrBraceWindow parses text as a JSON object. Malformed text is
// retried on the substring between the first "{" and the last "}"; text that
// is valid JSON of another type is not an object and gets no recovery.
func parseObjectOrBraceWindow(text string) map[string]any {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		if obj, ok := parsed.(map[string]any); ok {
			return obj
		}
		return nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var recovered map[string]any
		if err := json.Unmarshal([]byte(text[start:end+1]), &recovered); err == nil {
			return recovered
		}
	}
	return nil
}
