package properties

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func sampleTree() []any {
	return []any{
		map[string]any{"id": "email", "text": "Email", "type": "string"},
		map[string]any{
			"text":    "Zendesk",
			"ship_id": "ship-1",
			"children": []any{
				map[string]any{"id": "traits_zendesk/open_tickets", "text": "Open tickets", "type": "number"},
				map[string]any{
					"name": "Org",
					"children": []any{
						map[string]any{"key": "traits_zendesk/org_name", "name": "Org name", "type": "string"},
					},
				},
			},
		},
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten(sampleTree())
	require.Len(t, got, 3)

	email := got["email"]
	require.Equal(t, "Email", email["title"])
	require.Equal(t, "email", email["key"])
	require.NotContains(t, email, "path")

	open := got["traits_zendesk/open_tickets"]
	require.Equal(t, []string{"Zendesk"}, open["path"])
	require.Equal(t, []string{"ship-1"}, open["id_path"])
	require.Equal(t, "number", open["type"])

	org := got["traits_zendesk/org_name"]
	require.Equal(t, "Org name", org["title"])
	require.Equal(t, []string{"Zendesk", "Org"}, org["path"])
	require.Equal(t, []string{"ship-1", "Org"}, org["id_path"])
}

func TestFlattenDoesNotMutateInput(t *testing.T) {
	tree := sampleTree()
	Flatten(tree)
	require.NotContains(t, tree[0].(map[string]any), "title")
}

func TestParse(t *testing.T) {
	b, err := Parse([]byte(`{"version":"1","tree":[{"id":"email","text":"Email"}]}`))
	require.NoError(t, err)
	require.Equal(t, "1", b.Version)
	require.Contains(t, Flatten(b.Tree), "email")

	_, err = Parse([]byte(`nope`))
	require.Error(t, err)
}

func TestCacheRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	c := NewCache(rdb, time.Minute)
	org := "cache-test.hullapp.io"
	require.NoError(t, c.Invalidate(ctx, org))

	_, ok, err := c.Get(ctx, org)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, org, Flatten(sampleTree())))
	got, ok, err := c.Get(ctx, org)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Email", got["email"]["title"])
	require.NoError(t, c.Invalidate(ctx, org))
}
