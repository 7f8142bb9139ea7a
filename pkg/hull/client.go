// Package hull is the connector-facing client of the platform.
//
// A Client is built from connector settings and performs signed API calls.
// AsUser and AsAccount return clients scoped to one identity, which can write
// attributes and events through the firehose:
//
//	c, err := hull.New(configuration.Settings{ID: id, Secret: secret, Organization: org})
//	user, err := c.AsUser(claims.FromFields(map[string]any{"email": "foo@bar.com"}))
//	err = user.Traits(ctx, map[string]any{"plan": "pro"})
//	err = user.Track(ctx, "Signed up", nil, nil)
package hull

import (
	"context"
	"encoding/json"

	"hullclient/pkg/claims"
	"hullclient/pkg/configuration"
	"hullclient/pkg/firehose"
	"hullclient/pkg/logger"
	"hullclient/pkg/properties"
	"hullclient/pkg/rest"
	"hullclient/pkg/token"
)

// Scope tells which identities a client is bound to.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeUser
	ScopeAccount
	// ScopeUserAccount writes to a user linked to an account.
	ScopeUserAccount
)

func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeAccount:
		return "account"
	case ScopeUserAccount:
		return "user+account"
	}
	return "none"
}

// PropertiesCache keeps flattened properties per organization.
type PropertiesCache interface {
	Get(ctx context.Context, organization string) (map[string]properties.Property, bool, error)
	Set(ctx context.Context, organization string, props map[string]properties.Property) error
}

// deps are shared by a client and every client scoped from it.
type deps struct {
	log      logger.Sugared
	registry *firehose.Registry
	capture  *firehose.Capture
	invoker  *rest.Invoker
	cache    PropertiesCache
}

type Option func(*deps)

// WithLogger sets the base logger; clients add their context fields to it.
func WithLogger(l logger.Sugared) Option { return func(d *deps) { d.log = l } }

// WithRegistry sets where firehose batchers come from. Defaults to
// firehose.Default().
func WithRegistry(r *firehose.Registry) Option { return func(d *deps) { d.registry = r } }

// WithCapture records firehose entries in c instead of sending them.
func WithCapture(c *firehose.Capture) Option { return func(d *deps) { d.capture = c } }

// WithInvoker sets the REST invoker used for API calls.
func WithInvoker(inv *rest.Invoker) Option { return func(d *deps) { d.invoker = inv } }

// WithPropertiesCache caches Utils().Properties.Get results.
func WithPropertiesCache(c PropertiesCache) Option { return func(d *deps) { d.cache = c } }

// Client is safe for concurrent use.
type Client struct {
	// input is the settings as supplied; scoped clients are derived from it,
	// never from the validated state.
	input  configuration.Settings
	conf   *configuration.Store
	scope  Scope
	logCtx map[string]string
	log    logger.Sugared
	deps   *deps
}

// New validates s and returns an unscoped client.
func New(s configuration.Settings, opts ...Option) (*Client, error) {
	d := &deps{}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = logger.Nop()
	}
	if d.invoker == nil {
		d.invoker = rest.New(rest.WithLogger(d.log))
	}
	if d.registry == nil && d.capture == nil {
		d.registry = firehose.Default()
	}
	return newClient(s, d)
}

func newClient(s configuration.Settings, d *deps) (*Client, error) {
	conf, err := configuration.New(s)
	if err != nil {
		return nil, err
	}
	state := conf.GetAll()
	lc := logContext(state)
	return &Client{
		input:  s,
		conf:   conf,
		scope:  scopeOf(state),
		logCtx: lc,
		log:    logger.WithContext(d.log, lc),
		deps:   d,
	}, nil
}

func scopeOf(s configuration.Settings) Scope {
	hasUser := !s.UserClaim.IsZero()
	switch claims.EntityType(s.SubjectType) {
	case claims.User:
		if hasUser {
			return ScopeUser
		}
	case claims.Account:
		if hasUser {
			return ScopeUserAccount
		}
		return ScopeAccount
	}
	return ScopeNone
}

// Configuration returns a copy of the validated settings.
func (c *Client) Configuration() configuration.Settings { return c.conf.GetAll() }

// Scope reports the identities this client is bound to.
func (c *Client) Scope() Scope { return c.scope }

// Logger returns the client logger, carrying the client's context fields.
func (c *Client) Logger() logger.Sugared { return c.log }

// Utils groups the helper utilities.
func (c *Client) Utils() Utils {
	return Utils{Settings: SettingsUtil{c: c}, Properties: PropertiesUtil{c: c}}
}

// API calls path with method. Relative paths are resolved against the
// organization's API prefix.
func (c *Client) API(ctx context.Context, path, method string, params any, opts ...rest.Options) (json.RawMessage, error) {
	var o rest.Options
	if len(opts) > 0 {
		o = opts[0]
	}
	return c.deps.invoker.Call(ctx, rest.TargetFrom(c.conf.GetAll()), method, path, params, o)
}

func (c *Client) Get(ctx context.Context, path string, params any, opts ...rest.Options) (json.RawMessage, error) {
	return c.API(ctx, path, "get", params, opts...)
}

func (c *Client) Post(ctx context.Context, path string, params any, opts ...rest.Options) (json.RawMessage, error) {
	return c.API(ctx, path, "post", params, opts...)
}

func (c *Client) Put(ctx context.Context, path string, params any, opts ...rest.Options) (json.RawMessage, error) {
	return c.API(ctx, path, "put", params, opts...)
}

func (c *Client) Del(ctx context.Context, path string, params any, opts ...rest.Options) (json.RawMessage, error) {
	return c.API(ctx, path, "delete", params, opts...)
}

// AsUser returns a client scoped to the user identified by claim. extra
// replaces the additional claims inherited from c.
func (c *Client) AsUser(claim claims.Claim, extra ...token.AdditionalClaims) (*UserClient, error) {
	if claim.IsZero() {
		return nil, missingClaim(claims.User)
	}
	s := c.derive(claims.User, extra)
	s.UserClaim = claim
	cl, err := newClient(s, c.deps)
	if err != nil {
		return nil, err
	}
	return &UserClient{EntityClient{cl}}, nil
}

// AsAccount returns a client scoped to the account identified by claim.
func (c *Client) AsAccount(claim claims.Claim, extra ...token.AdditionalClaims) (*AccountClient, error) {
	if claim.IsZero() {
		return nil, missingClaim(claims.Account)
	}
	s := c.derive(claims.Account, extra)
	s.AccountClaim = claim
	cl, err := newClient(s, c.deps)
	if err != nil {
		return nil, err
	}
	return &AccountClient{EntityClient{cl}}, nil
}

func (c *Client) derive(subject claims.EntityType, extra []token.AdditionalClaims) configuration.Settings {
	s := c.input
	s.SubjectType = string(subject)
	s.AdditionalClaims = nil
	if len(extra) > 0 {
		var merged token.AdditionalClaims
		for _, e := range extra {
			merged = merged.Merge(e)
		}
		s.AdditionalClaims = &merged
	}
	return s
}

// queue is where this client's firehose entries go.
func (c *Client) queue() firehose.Queue {
	if c.deps.capture != nil {
		return c.deps.capture
	}
	return c.deps.registry.Batcher(firehose.ConfigFrom(c.conf.GetAll()))
}
