// Package token builds and checks the signed identity assertions a connector
// hands to the platform.
//
// Tokens are HS256 JWTs carrying the registered iss/iat/sub claims plus the
// platform's namespaced identity claims:
//
//	io.hull.asUser / io.hull.asAccount  identity claim objects
//	io.hull.subjectType                 "user" or "account"
//	io.hull.create / io.hull.active     optional directives
//	scopes                              optional scope list
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"hullclient/pkg/claims"
	"hullclient/pkg/problems"
)

const (
	claimPrefix      = "io.hull.as"
	SubjectTypeClaim = "io.hull.subjectType"
	CreateClaim      = "io.hull.create"
	ActiveClaim      = "io.hull.active"
	ScopesClaim      = "scopes"
)

// ClaimKey returns the namespaced claim key for t, e.g. io.hull.asUser.
func ClaimKey(t claims.EntityType) string { return claimPrefix + t.Capitalized() }

// Credentials is the subset of the connector configuration used for signing.
type Credentials struct {
	ID          string
	Secret      string
	AccessToken string
}

func (c Credentials) check() error {
	if c.ID == "" || c.Secret == "" {
		return fmt.Errorf("%w: id and secret are required", problems.ErrMissingConfig)
	}
	return nil
}

func (c Credentials) signingKey() []byte {
	if c.AccessToken != "" {
		return []byte(c.AccessToken)
	}
	return []byte(c.Secret)
}

// AdditionalClaims are directives that change token semantics without
// identifying anyone. Nil fields are absent from the token; absence is not
// the same as false or empty.
type AdditionalClaims struct {
	Create *bool    `json:"create,omitempty" yaml:"create,omitempty"`
	Scopes []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Active *bool    `json:"active,omitempty" yaml:"active,omitempty"`
	// NotBefore and ExpiresAt accept unix seconds as numbers, numeric strings
	// or time.Time values.
	NotBefore any `json:"nbf,omitempty" yaml:"nbf,omitempty"`
	ExpiresAt any `json:"exp,omitempty" yaml:"exp,omitempty"`
}

// Bool returns a pointer to b, for AdditionalClaims.Create and Active.
func Bool(b bool) *bool { return &b }

// Merge overlays the fields set in o on top of a.
func (a AdditionalClaims) Merge(o AdditionalClaims) AdditionalClaims {
	if o.Create != nil {
		a.Create = o.Create
	}
	if o.Scopes != nil {
		a.Scopes = slices.Clone(o.Scopes)
	}
	if o.Active != nil {
		a.Active = o.Active
	}
	if o.NotBefore != nil {
		a.NotBefore = o.NotBefore
	}
	if o.ExpiresAt != nil {
		a.ExpiresAt = o.ExpiresAt
	}
	return a
}

// now is swapped in tests.
var now = time.Now

// LookupToken builds the identity token for subjectType.
//
// The subject claim's string value, or its object "id" field, becomes "sub".
// Every non-empty object claim is embedded under io.hull.as<Type>; a string
// claim of a non-subject type is embedded as {id: claim} so a user can be
// linked to an account by id. A subject's own string claim is carried only by
// "sub".
func LookupToken(creds Credentials, subjectType string, byType map[claims.EntityType]claims.Claim, extra AdditionalClaims) (string, error) {
	subject, err := claims.ParseEntityType(subjectType)
	if err != nil {
		return "", err
	}
	if err := creds.check(); err != nil {
		return "", err
	}

	tok := jwt.New()
	set := func(k string, v any) {
		if err == nil {
			err = tok.Set(k, v)
		}
	}

	if sc, ok := byType[subject]; ok {
		switch {
		case sc.IsID():
			set(jwt.SubjectKey, sc.Ident())
		case sc.IsObject():
			if id, ok := sc.Field("id"); ok && id != nil && id != "" {
				set(jwt.SubjectKey, fmt.Sprint(id))
			}
		}
	}

	for _, t := range claims.EntityTypes {
		c, ok := byType[t]
		if !ok {
			continue
		}
		switch {
		case c.IsObject() && !c.Empty():
			set(ClaimKey(t), c.Fields())
		case c.IsID() && t != subject:
			set(ClaimKey(t), map[string]any{"id": c.Ident()})
		}
	}

	if extra.Scopes != nil {
		set(ScopesClaim, slices.Clone(extra.Scopes))
	}
	if extra.Create != nil {
		set(CreateClaim, *extra.Create)
	}
	if extra.Active != nil {
		set(ActiveClaim, *extra.Active)
	}
	if extra.NotBefore != nil {
		nbf, cerr := numericDate(extra.NotBefore)
		if cerr != nil {
			return "", fmt.Errorf("nbf: %w", cerr)
		}
		set(jwt.NotBeforeKey, nbf)
	}
	if extra.ExpiresAt != nil {
		exp, cerr := numericDate(extra.ExpiresAt)
		if cerr != nil {
			return "", fmt.Errorf("exp: %w", cerr)
		}
		set(jwt.ExpirationKey, exp)
	}

	set(SubjectTypeClaim, string(subject))
	set(jwt.IssuerKey, creds.ID)
	set(jwt.IssuedAtKey, now().Truncate(time.Second))
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, creds.signingKey()))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// Decode verifies raw with key and returns its claims. Registered date claims
// (iat, nbf, exp) come back as time.Time values.
func Decode(raw, key string) (map[string]any, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, []byte(key)), jwt.WithValidate(true))
	if err != nil {
		return nil, err
	}
	return tok.AsMap(context.Background())
}

func numericDate(v any) (time.Time, error) {
	var secs float64
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case int:
		secs = float64(t)
	case int64:
		secs = float64(t)
	case float64:
		secs = t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, err
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("not a numeric date: %q", t)
		}
		secs = f
	default:
		return time.Time{}, fmt.Errorf("not a numeric date: %T", v)
	}
	return time.Unix(int64(secs), 0), nil
}
