package adapter

// HardenSchema returns a deep copy of schema tightened for responder APIs
// that require closed object shapes: every object gains
// additionalProperties=false unless already set, recursing through
// properties, items, and the anyOf/oneOf/allOf combinators. The input is
// never mutated and hardening is idempotent.
func HardenSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	h := deepCopyMap(schema)
	hardenInPlace(h)
	return h
}

func hardenInPlace(schema map[string]any) {
	typ, _ := schema["type"].(string)

	if typ == "object" {
		if _, ok := schema["additionalProperties"]; !ok {
			schema["additionalProperties"] = false
		}
		if props, ok := schema["properties"].(map[string]any); ok {
			for _, v := range props {
				if child, ok := v.(map[string]any); ok {
					hardenInPlace(child)
				}
			}
		}
	}

	if typ == "array" {
		switch items := schema["items"].(type) {
		case map[string]any:
			hardenInPlace(items)
		case []any:
			for _, it := range items {
				if child, ok := it.(map[string]any); ok {
					hardenInPlace(child)
				}
			}
		}
	}

	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if variants, ok := schema[key].([]any); ok {
			for _, v := range variants {
				if child, ok := v.(map[string]any); ok {
					hardenInPlace(child)
				}
			}
		}
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
