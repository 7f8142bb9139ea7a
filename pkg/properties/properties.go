// Package properties turns the platform's attribute tree into a flat map of
// attribute descriptions.
package properties

import (
	"encoding/json"
	"fmt"

	"hullclient/internal/deepcopy"
)

// Property describes one attribute. It is the tree node as served, plus
// title, key, path and id_path.
type Property = map[string]any

// Bootstrap is the response of the search/user_reports/bootstrap route.
type Bootstrap struct {
	Version string `json:"version"`
	Tree    []any  `json:"tree"`
}

// Parse decodes a bootstrap response.
func Parse(raw []byte) (Bootstrap, error) {
	var b Bootstrap
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("decode properties tree: %w", err)
	}
	return b, nil
}

// Flatten walks tree and returns every leaf keyed by its attribute key. Group
// nodes (nodes without a key but with children) contribute their title to the
// path of their descendants and their source id to the id_path.
func Flatten(tree []any) map[string]Property {
	props, _ := walk(tree, nil, nil)
	return props
}

func walk(items []any, path, idPath []string) (map[string]Property, []any) {
	props := map[string]Property{}
	out := make([]any, 0, len(items))
	for _, it := range items {
		raw, ok := it.(map[string]any)
		if !ok {
			continue
		}
		node := deepcopy.Map(raw)
		title := firstString(node, "text", "name")
		key := firstString(node, "id", "key")
		set(node, "title", title)
		set(node, "key", key)
		if path != nil {
			node["path"] = path
		}
		if idPath != nil {
			node["id_path"] = idPath
		}

		if key != "" {
			props[key] = node
		} else if children, ok := node["children"].([]any); ok {
			pathID := firstString(node, "ship_id", "app_id", "platform_id", "resource_id")
			if pathID == "" {
				pathID = title
			}
			sub, subtree := walk(children,
				append(append([]string(nil), path...), title),
				append(append([]string(nil), idPath...), pathID))
			node["children"] = subtree
			for k, v := range sub {
				props[k] = v
			}
		}
		out = append(out, node)
	}
	return props, out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func set(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}
