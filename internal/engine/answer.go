package engine

import (
	"encoding/json"
	"strings"
)

// NormalizeAnswer replaces output.answer with its parsed form when the answer
// is a string holding a JSON object or array. Plain text, scalars, and
// invalid JSON are left untouched. The map is modified in place.
func NormalizeAnswer(output map[string]any) map[string]any {
	if output == nil {
		return nil
	}
	raw, ok := output["answer"].(string)
	if !ok {
		return output
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return output
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return output
	}
	switch parsed.(type) {
	case map[string]any, []any:
		output["answer"] = parsed
	}
	return output
}
