package claims

import (
	"fmt"
	"reflect"
	"strings"

	"hullclient/internal/deepcopy"
	"hullclient/pkg/problems"
)

// Schema is the static table of identity fields accepted per entity type.
type Schema struct {
	Version int
	allowed map[EntityType][]string
	// multi holds fields whose values are lists or maps and pass through
	// filtering untouched.
	multi map[string]struct{}
}

var (
	// V1 accepts the basic scalar identity fields.
	V1 = Schema{
		Version: 1,
		allowed: map[EntityType][]string{
			User:    {"id", "email", "external_id", "anonymous_id"},
			Account: {"id", "external_id", "domain", "anonymous_id"},
		},
		multi: map[string]struct{}{},
	}
	// V2 additionally accepts alias lists and service id maps.
	V2 = Schema{
		Version: 2,
		allowed: map[EntityType][]string{
			User:    {"id", "email", "external_id", "anonymous_id", "aliases", "service_ids"},
			Account: {"id", "external_id", "domain", "anonymous_id", "aliases", "service_ids"},
		},
		multi: map[string]struct{}{"aliases": {}, "service_ids": {}},
	}
)

// SchemaFor returns the schema for version; unknown or zero versions fall back to V1.
func SchemaFor(version int) Schema {
	if version == 2 {
		return V2
	}
	return V1
}

// Allowed returns the allowed field names for t.
func (s Schema) Allowed(t EntityType) []string {
	return append([]string(nil), s.allowed[t]...)
}

func (s Schema) allows(t EntityType, key string) bool {
	for _, k := range s.allowed[t] {
		if k == key {
			return true
		}
	}
	return false
}

// Validate checks c against the schema for entity type t. A zero claim is
// skipped and an id claim is always valid. An object claim must contain at
// least one allowed field.
func Validate(s Schema, t EntityType, c Claim) error {
	if _, ok := s.allowed[t]; !ok {
		return fmt.Errorf("%w: %q", problems.ErrUnsupportedSubjectType, t)
	}
	if c.Empty() && !c.IsObject() {
		return nil
	}
	if c.IsID() {
		return nil
	}
	for k := range c.fields {
		if s.allows(t, k) {
			return nil
		}
	}
	return fmt.Errorf("%w: you need to pass a %s claim with one of the %s fields",
		problems.ErrInvalidClaim, t, strings.Join(s.allowed[t], ", "))
}

// Filter drops fields outside the allowed set. Basic fields holding a list are
// reduced to their first element; the schema's multi-value fields are kept
// verbatim. Id claims and zero claims are returned unchanged.
func Filter(s Schema, t EntityType, c Claim) Claim {
	if !c.IsObject() {
		return c
	}
	out := make(map[string]any, len(c.fields))
	for k, v := range c.fields {
		if !s.allows(t, k) {
			continue
		}
		if _, multi := s.multi[k]; multi {
			out[k] = deepcopy.Value(v)
			continue
		}
		first, ok := firstScalar(v)
		if !ok {
			continue
		}
		out[k] = first
	}
	return Claim{fields: out}
}

// firstScalar returns v, or its first element when v is a list. An empty list
// has no value.
func firstScalar(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return v, true
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return v, true
	}
	if rv.Len() == 0 {
		return nil, false
	}
	return deepcopy.Value(rv.Index(0).Interface()), true
}
