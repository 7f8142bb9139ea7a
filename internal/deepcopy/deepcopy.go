// Package deepcopy clones the JSON-shaped values (maps, slices, scalars) that
// flow through claims, settings and batch bodies.
package deepcopy

// Value returns a copy of v that shares no mutable state with it. Maps and
// slices of the JSON-ish kinds are copied recursively; anything else is
// returned as is.
func Value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Map(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Value(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	default:
		return v
	}
}

// Map clones m. A nil map stays nil.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[k] = Value(e)
	}
	return out
}
