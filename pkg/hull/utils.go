package hull

import (
	"context"
	"encoding/json"
	"fmt"

	"hullclient/pkg/properties"
	"hullclient/pkg/traits"
)

// Utils bundles helpers that build on a client.
type Utils struct {
	Traits     TraitsUtil
	Settings   SettingsUtil
	Properties PropertiesUtil
}

type TraitsUtil struct{}

// Group nests a flat attribute map, see traits.Group.
func (TraitsUtil) Group(flat map[string]any) map[string]any { return traits.Group(flat) }

// Normalize turns every attribute into an operation object, see
// traits.Normalize.
func (TraitsUtil) Normalize(attrs map[string]any) map[string]any { return traits.Normalize(attrs) }

type SettingsUtil struct{ c *Client }

// Update merges newSettings into the connector's private settings and writes
// them back. The write triggers a settings update notification on the
// platform, so calling it from that notification's handler loops.
func (u SettingsUtil) Update(ctx context.Context, newSettings map[string]any) (map[string]any, error) {
	raw, err := u.c.Get(ctx, "app", nil)
	if err != nil {
		return nil, err
	}
	var app struct {
		ID              string         `json:"id"`
		PrivateSettings map[string]any `json:"private_settings"`
	}
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, fmt.Errorf("decode app: %w", err)
	}
	merged := make(map[string]any, len(app.PrivateSettings)+len(newSettings))
	for k, v := range app.PrivateSettings {
		merged[k] = v
	}
	for k, v := range newSettings {
		merged[k] = v
	}
	id := app.ID
	if id == "" {
		id = u.c.conf.GetAll().ID
	}
	raw, err = u.c.Put(ctx, id, map[string]any{"private_settings": merged})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode app: %w", err)
		}
	}
	return out, nil
}

type PropertiesUtil struct{ c *Client }

// Get returns every property of the organization keyed by property key.
// Results are cached when the client has a properties cache; cache failures
// are logged and bypassed.
func (u PropertiesUtil) Get(ctx context.Context) (map[string]properties.Property, error) {
	org := u.c.conf.GetAll().Organization
	cache := u.c.deps.cache
	if cache != nil {
		props, ok, err := cache.Get(ctx, org)
		switch {
		case err != nil:
			u.c.log.Warnw("properties.cache_get_failed", "error", err)
		case ok:
			return props, nil
		}
	}

	raw, err := u.c.Get(ctx, "search/user_reports/bootstrap", nil)
	if err != nil {
		return nil, err
	}
	b, err := properties.Parse(raw)
	if err != nil {
		return nil, err
	}
	props := properties.Flatten(b.Tree)
	if cache != nil {
		if err := cache.Set(ctx, org, props); err != nil {
			u.c.log.Warnw("properties.cache_set_failed", "error", err)
		}
	}
	return props, nil
}
