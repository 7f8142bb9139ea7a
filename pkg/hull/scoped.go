package hull

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"hullclient/pkg/claims"
	"hullclient/pkg/firehose"
	"hullclient/pkg/problems"
	"hullclient/pkg/token"
	"hullclient/pkg/traits"
)

func missingClaim(t claims.EntityType) error {
	return fmt.Errorf("%w: %s claim is required", problems.ErrMissingClaim, t)
}

// EntityClient is a client bound to a user or an account.
type EntityClient struct {
	*Client
}

// Token signs a fresh identity token for the client's claims. extra is
// merged over the additional claims the client was scoped with.
// It is signed with the connector's configured credentials: the supplied
// access token when one was passed to New, the secret otherwise.
func (e *EntityClient) Token(extra ...token.AdditionalClaims) (string, error) {
	s := e.conf.GetAll()
	var ac token.AdditionalClaims
	if s.AdditionalClaims != nil {
		ac = *s.AdditionalClaims
	}
	for _, x := range extra {
		ac = ac.Merge(x)
	}
	return token.LookupToken(e.input.Credentials(), s.SubjectType, map[claims.EntityType]claims.Claim{
		claims.User:    s.UserClaim,
		claims.Account: s.AccountClaim,
	}, ac)
}

// TraitsContext tunes a Traits call.
type TraitsContext struct {
	// Source namespaces every attribute as "<source>/<key>".
	Source string
	// Sync writes through the API instead of the firehose.
	Sync bool
}

// Traits updates attributes of the subject. It blocks until the write was
// accepted or ctx ends.
func (e *EntityClient) Traits(ctx context.Context, attrs map[string]any, tc ...TraitsContext) error {
	var opts TraitsContext
	if len(tc) > 0 {
		opts = tc[0]
	}
	body := traits.WithSource(opts.Source, attrs)
	if opts.Sync {
		_, err := e.Put(ctx, "me/traits", body)
		return err
	}
	return e.batch(ctx, "traits", body)
}

// batch hands one item to the firehose and waits for its batch to settle.
func (e *EntityClient) batch(ctx context.Context, typ string, body map[string]any) error {
	s := e.conf.GetAll()
	p := e.queue().Enqueue(firehose.Entry{
		Context: entryContext(e.logCtx),
		Data:    firehose.Item{Type: typ, Body: body, RequestID: s.RequestID},
		Token:   s.AccessToken,
	})
	e.log.Debugw("firehose.enqueued", "type", typ)
	if err := p.Wait(ctx); err != nil {
		e.log.Errorw("firehose.failed", "type", typ, "error", err)
		return err
	}
	return nil
}

// UserClient is scoped to a user.
type UserClient struct {
	EntityClient
}

// Track records event on the user. ip, url and referer default to null and
// event_id to a fresh UUID unless evctx provides them.
func (u *UserClient) Track(ctx context.Context, event string, props, evctx map[string]any) error {
	body := map[string]any{"ip": nil, "url": nil, "referer": nil}
	for k, v := range evctx {
		body[k] = v
	}
	if id, ok := body["event_id"]; !ok || id == nil || id == "" {
		body["event_id"] = uuid.NewString()
	}
	if props == nil {
		props = map[string]any{}
	}
	body["properties"] = props
	body["event"] = event
	return u.batch(ctx, "track", body)
}

func (u *UserClient) Alias(ctx context.Context, body map[string]any) error {
	return u.batch(ctx, "alias", body)
}

func (u *UserClient) Unalias(ctx context.Context, body map[string]any) error {
	return u.batch(ctx, "unalias", body)
}

// Account returns a client that writes to this user and links it to the
// account identified by claim. Without a claim the link is left to the
// platform.
func (u *UserClient) Account(claim ...claims.Claim) (*AccountClient, error) {
	s := u.input
	s.SubjectType = string(claims.Account)
	s.AccountClaim = claims.Claim{}
	if len(claim) > 0 {
		s.AccountClaim = claim[0]
	}
	cl, err := newClient(s, u.deps)
	if err != nil {
		return nil, err
	}
	return &AccountClient{EntityClient{cl}}, nil
}

// AccountClient is scoped to an account, optionally through a user.
type AccountClient struct {
	EntityClient
}
