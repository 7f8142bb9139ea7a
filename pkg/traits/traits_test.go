package traits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroup(t *testing.T) {
	got := Group(map[string]any{
		"email":                       "romain@user",
		"name":                        "name",
		"traits_coconut_name":         "coconut",
		"traits_coconut_size":         "large",
		"traits_cb/twitter_bio":       "parisian",
		"traits_cb/twitter_name":      "parisian",
		"traits_group/name":           "groupname",
		"traits_zendesk/open_tickets": 18,
	})
	require.Equal(t, map[string]any{
		"email": "romain@user",
		"name":  "name",
		"traits": map[string]any{
			"coconut_name": "coconut",
			"coconut_size": "large",
		},
		"cb": map[string]any{
			"twitter_bio":  "parisian",
			"twitter_name": "parisian",
		},
		"group":   map[string]any{"name": "groupname"},
		"zendesk": map[string]any{"open_tickets": 18},
	}, got)
}

func TestGroupReplacesScalarParents(t *testing.T) {
	for i := 0; i < 100; i++ {
		got := Group(map[string]any{"a": 1, "a/b": 2, "traits_x": 3, "traits/x/y": 4})
		require.Equal(t, map[string]any{
			"a":      map[string]any{"b": 2},
			"traits": map[string]any{"x": map[string]any{"y": 4}},
		}, got)
	}

	require.Empty(t, Group(nil))
}

func TestNormalize(t *testing.T) {
	in := map[string]any{
		"name":  "x",
		"count": map[string]any{"operation": "inc", "value": 1},
		"seen":  map[string]any{"value": true},
	}
	got := Normalize(in)
	require.Equal(t, map[string]any{
		"name":  map[string]any{"operation": "set", "value": "x"},
		"count": map[string]any{"operation": "inc", "value": 1},
		"seen":  map[string]any{"operation": "set", "value": true},
	}, got)
	require.NotContains(t, in["seen"], "operation")
}

func TestWithSource(t *testing.T) {
	require.Equal(t, map[string]any{"zendesk/open": 2, "zendesk/name": "a"},
		WithSource("zendesk", map[string]any{"open": 2, "name": "a"}))
	require.Equal(t, map[string]any{"open": 2}, WithSource("", map[string]any{"open": 2}))
}
