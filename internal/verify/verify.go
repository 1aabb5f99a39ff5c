// Package verify checks task outputs against JSON schemas and verify rules.
package verify

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/xeipuuv/gojsonschema"

	"github.com/korahq/kora/internal/fault"
	"github.com/korahq/kora/internal/ir"
)

// Output validates a task output against the verify block. The schema check
// runs first, then rules in list order; the first failure wins. All failures
// surface as OUTPUT_SCHEMA_INVALID at the VERIFY stage.
func Output(taskID string, out map[string]any, v *ir.Verify) error {
	if v == nil || v.Schema == nil {
		return fail(taskID, "task %q missing verify.schema", taskID)
	}
	if err := schema(out, v.Schema); err != nil {
		return fail(taskID, "%s", err)
	}
	for _, rule := range v.Rules {
		if err := applyRule(out, rule); err != nil {
			return fail(taskID, "%s", err)
		}
	}
	return nil
}

func fail(taskID, format string, args ...any) error {
	return fault.New(fault.TypeOutputSchemaInvalid, fault.StageVerify, format, args...).WithTask(taskID)
}

func schema(out, sch map[string]any) error {
	res, err := gojsonschema.Validate(gojsonschema.NewGoLoader(sch), gojsonschema.NewGoLoader(out))
	if err != nil {
		return fmt.Errorf("schema validation failed: %v", err)
	}
	if !res.Valid() {
		return fmt.Errorf("schema validation failed: %s", res.Errors()[0].String())
	}
	return nil
}

func applyRule(out map[string]any, rule ir.Rule) error {
	switch rule.Kind {
	case ir.RuleRequired:
		var missing []string
		for _, path := range rule.Required.Paths {
			if _, ok := out[path]; !ok {
				missing = append(missing, path)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required rule failed; missing keys: %v", missing)
		}
	case ir.RuleRange:
		// Top-level keys only. Absent or null values skip the rule.
		raw, ok := out[rule.Range.Path]
		if !ok || raw == nil {
			return nil
		}
		v, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("range rule failed; '%s' is not numeric", rule.Range.Path)
		}
		lo, hi := bound(rule.Range.Min, math.Inf(-1)), bound(rule.Range.Max, math.Inf(1))
		if v < lo || v > hi {
			return fmt.Errorf("range rule failed; %s=%v outside [%v, %v]", rule.Range.Path, v, lo, hi)
		}
	}
	return nil
}

func bound(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
