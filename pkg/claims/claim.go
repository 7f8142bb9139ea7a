package claims

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"hullclient/internal/deepcopy"
	"hullclient/pkg/problems"
)

// EntityType names the kind of platform entity a claim identifies.
type EntityType string

const (
	User    EntityType = "user"
	Account EntityType = "account"
)

// EntityTypes lists the supported entity types in token-building order.
var EntityTypes = []EntityType{User, Account}

// ParseEntityType normalizes s to lowercase and checks it is supported.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case User, Account:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q (only user and account are supported)", problems.ErrUnsupportedSubjectType, s)
}

// Capitalized returns "User" / "Account", used for the io.hull.as<Type> claim keys.
func (t EntityType) Capitalized() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// Claim identifies a user or an account. It is either absent (the zero value),
// an opaque identifier string, or an object of identity fields.
type Claim struct {
	id     string
	fields map[string]any
}

// FromID builds a string claim. An empty id yields the zero Claim.
func FromID(id string) Claim { return Claim{id: id} }

// FromFields builds an object claim. The map is copied.
func FromFields(fields map[string]any) Claim {
	c := Claim{fields: deepcopy.Map(fields)}
	if c.fields == nil {
		c.fields = map[string]any{}
	}
	return c
}

// IsZero reports whether the claim is absent.
func (c Claim) IsZero() bool { return c.id == "" && c.fields == nil }

// IsID reports whether the claim is a non-empty identifier string.
func (c Claim) IsID() bool { return c.id != "" }

// IsObject reports whether the claim is an object claim (possibly empty).
func (c Claim) IsObject() bool { return c.fields != nil }

// Empty reports whether the claim carries no identifying data at all.
func (c Claim) Empty() bool { return c.id == "" && len(c.fields) == 0 }

// Ident returns the string identifier of an id claim.
func (c Claim) Ident() string { return c.id }

// Fields returns a copy of the object claim's fields, or nil for id claims.
func (c Claim) Fields() map[string]any { return deepcopy.Map(c.fields) }

// Field returns a single object field.
func (c Claim) Field(key string) (any, bool) {
	v, ok := c.fields[key]
	return v, ok
}

// Keys returns the object claim's keys in sorted order.
func (c Claim) Keys() []string {
	keys := make([]string, 0, len(c.fields))
	for k := range c.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the claim as a JSON-shaped value: nil, string or map.
func (c Claim) Value() any {
	switch {
	case c.id != "":
		return c.id
	case c.fields != nil:
		return deepcopy.Map(c.fields)
	}
	return nil
}

func (c Claim) MarshalJSON() ([]byte, error) { return json.Marshal(c.Value()) }

func (c *Claim) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*c = Claim{}
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = FromID(s)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: claim must be a string or an object", problems.ErrInvalidClaim)
	}
	*c = FromFields(m)
	return nil
}

func (c Claim) MarshalYAML() (any, error) { return c.Value(), nil }

func (c *Claim) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*c = Claim{}
			return nil
		}
		*c = FromID(node.Value)
		return nil
	case yaml.MappingNode:
		var m map[string]any
		if err := node.Decode(&m); err != nil {
			return err
		}
		*c = FromFields(m)
		return nil
	}
	return fmt.Errorf("%w: claim must be a string or a mapping (line %d)", problems.ErrInvalidClaim, node.Line)
}
