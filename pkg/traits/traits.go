// Package traits reshapes attribute maps between the platform's flat wire
// format and the nested form connectors usually work with.
package traits

import (
	"sort"
	"strings"

	"hullclient/internal/deepcopy"
)

const flatPrefix = "traits_"

// Group nests a flat attribute map. Keys are split on "/"; a "traits_" prefix
// is dropped when the key already names a group ("traits_cb/bio" goes to
// cb.bio) and becomes the "traits" group otherwise ("traits_x" goes to
// traits.x). Other keys are split as they are. When a key is a path prefix
// of another ("a" and "a/b"), the nested value wins.
func Group(flat map[string]any) map[string]any {
	type entry struct{ key, dest string }
	entries := make([]entry, 0, len(flat))
	for key := range flat {
		dest := key
		if strings.HasPrefix(key, flatPrefix) {
			rest := strings.TrimPrefix(key, flatPrefix)
			if strings.Contains(rest, "/") {
				dest = rest
			} else {
				dest = "traits/" + rest
			}
		}
		entries = append(entries, entry{key, dest})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].dest != entries[j].dest {
			return entries[i].dest < entries[j].dest
		}
		return entries[i].key < entries[j].key
	})

	out := map[string]any{}
	for _, e := range entries {
		setPath(out, strings.Split(e.dest, "/"), deepcopy.Value(flat[e.key]))
	}
	return out
}

// setPath stores value at path. Scalars on the way are replaced by groups,
// and a scalar never replaces an existing group.
func setPath(m map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	last := path[len(path)-1]
	if _, isGroup := m[last].(map[string]any); isGroup {
		if _, replacement := value.(map[string]any); !replacement {
			return
		}
	}
	m[last] = value
}

// Normalize turns every attribute into an operation object. Scalars become
// {"operation": "set", "value": v}; objects without an operation get "set".
func Normalize(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		op, ok := v.(map[string]any)
		if !ok {
			out[k] = map[string]any{"operation": "set", "value": deepcopy.Value(v)}
			continue
		}
		op = deepcopy.Map(op)
		if _, has := op["operation"]; !has {
			op["operation"] = "set"
		}
		out[k] = op
	}
	return out
}

// WithSource prefixes every key with "<source>/". An empty source returns a
// copy of attrs.
func WithSource(source string, attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if source != "" {
			k = source + "/" + k
		}
		out[k] = deepcopy.Value(v)
	}
	return out
}
