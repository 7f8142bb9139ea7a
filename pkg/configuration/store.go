// Package configuration holds the validated, immutable-by-default settings of
// one client instance.
package configuration

import (
	"fmt"
	"strings"
	"sync"

	"hullclient/pkg/claims"
	"hullclient/pkg/problems"
	"hullclient/pkg/token"
)

// Version is stamped into every configuration and sent in the User-Agent.
const Version = "2.0.0"

const (
	DefaultPrefix   = "/api/v1"
	DefaultProtocol = "https"
)

// Store is a validated configuration. Reads return copies; Set is the only
// mutation.
type Store struct {
	mu    sync.RWMutex
	state Settings
}

// New validates in and derives the stored state: defaults, namespace/domain
// split, filtered claims and, when any identity claim is present, the scoped
// access token.
func New(in Settings) (*Store, error) {
	if in.isEmpty() {
		return nil, fmt.Errorf("%w: settings should not be empty", problems.ErrInvalidConfiguration)
	}
	in = in.clone()

	schema := claims.SchemaFor(in.ClaimSchema)
	scoped := !in.UserClaim.IsZero() || !in.AccountClaim.IsZero()
	if scoped {
		if err := claims.Validate(schema, claims.User, in.UserClaim); err != nil {
			return nil, err
		}
		if err := claims.Validate(schema, claims.Account, in.AccountClaim); err != nil {
			return nil, err
		}
		in.UserClaim = claims.Filter(schema, claims.User, in.UserClaim)
		in.AccountClaim = claims.Filter(schema, claims.Account, in.AccountClaim)
	}

	for _, name := range required {
		f := fields[name]
		v := f.get(&in)
		if v == "" {
			return nil, fmt.Errorf("%w: missing required property: %s", problems.ErrInvalidConfiguration, name)
		}
		if !f.valid(v) {
			return nil, fmt.Errorf("%w: %s property is invalid: %v", problems.ErrInvalidConfiguration, name, v)
		}
	}

	if scoped {
		if in.SubjectType == "" {
			in.SubjectType = string(claims.User)
			if in.UserClaim.IsZero() {
				in.SubjectType = string(claims.Account)
			}
		}
		var extra token.AdditionalClaims
		if in.AdditionalClaims != nil {
			extra = *in.AdditionalClaims
		}
		tok, err := token.LookupToken(in.Credentials(), in.SubjectType, map[claims.EntityType]claims.Claim{
			claims.User:    in.UserClaim,
			claims.Account: in.AccountClaim,
		}, extra)
		if err != nil {
			return nil, err
		}
		in.AccessToken = tok
	}

	state := Settings{Prefix: DefaultPrefix, Protocol: DefaultProtocol}
	for _, f := range fields {
		if v := f.get(&in); f.valid(v) {
			f.set(&state, v)
		}
	}

	if state.Domain == "" && state.Organization != "" {
		ns, domain, _ := strings.Cut(state.Organization, ".")
		state.Namespace = ns
		state.Domain = domain
	}
	state.Version = Version

	return &Store{state: state}, nil
}

// Get returns a single setting by its JSON key.
func (s *Store) Get(key string) (any, bool) {
	f, ok := fields[key]
	if !ok {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := f.get(&s.state)
	if !f.valid(v) {
		return nil, false
	}
	return v, true
}

// GetAll returns a deep copy of every setting.
func (s *Store) GetAll() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Set replaces a single setting. Unknown keys and values of the wrong type are
// rejected.
func (s *Store) Set(key string, value any) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: unknown property %q", problems.ErrInvalidConfiguration, key)
	}
	if !f.valid(value) {
		return fmt.Errorf("%w: %s property is invalid: %v", problems.ErrInvalidConfiguration, key, value)
	}
	if a, ok := value.(*token.AdditionalClaims); ok {
		value = Settings{AdditionalClaims: a}.clone().AdditionalClaims
	}
	s.mu.Lock()
	f.set(&s.state, value)
	s.mu.Unlock()
	return nil
}
