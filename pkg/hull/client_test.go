package hull

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"hullclient/pkg/claims"
	"hullclient/pkg/configuration"
	"hullclient/pkg/firehose"
	"hullclient/pkg/logger"
	"hullclient/pkg/minihull"
	"hullclient/pkg/problems"
	"hullclient/pkg/token"
)

const (
	appID  = "562123b470df84b740000042"
	secret = "1234"
)

func settings(org string) configuration.Settings {
	return configuration.Settings{ID: appID, Secret: secret, Organization: org}
}

type platform struct {
	mh       *minihull.Server
	srv      *httptest.Server
	registry *firehose.Registry
}

// newPlatform starts a minihull and returns settings pointing at it.
func newPlatform(t *testing.T, opts ...minihull.Option) (*platform, configuration.Settings) {
	t.Helper()
	t.Setenv("BATCH_RETRY", "1")
	t.Setenv("BATCH_TIMEOUT", "2000")
	mh := minihull.New(append([]minihull.Option{minihull.WithSecret(secret)}, opts...)...)
	srv := httptest.NewServer(mh.Handler())
	reg := firehose.NewRegistry(firehose.WithMetrics(firehose.NewMetrics(prometheus.NewRegistry())))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
		srv.Close()
	})
	s := settings(strings.TrimPrefix(srv.URL, "http://"))
	s.Protocol = "http"
	s.FirehoseURL = srv.URL + "/firehose"
	return &platform{mh: mh, srv: srv, registry: reg}, s
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	_, err := New(configuration.Settings{})
	require.ErrorIs(t, err, problems.ErrInvalidConfiguration)

	_, err = New(configuration.Settings{ID: "nope", Secret: secret, Organization: "a.hullapp.io"})
	require.ErrorIs(t, err, problems.ErrInvalidConfiguration)
}

func TestNewDefaults(t *testing.T) {
	c, err := New(settings("demo.hullapp.io"), WithCapture(&firehose.Capture{}))
	require.NoError(t, err)
	require.Equal(t, ScopeNone, c.Scope())

	conf := c.Configuration()
	require.Equal(t, "demo", conf.Namespace)
	require.Equal(t, "hullapp.io", conf.Domain)
	require.Equal(t, configuration.DefaultPrefix, conf.Prefix)
	require.Equal(t, configuration.DefaultProtocol, conf.Protocol)
	require.Empty(t, conf.AccessToken)
}

func TestAPICallsCarryConnectorHeaders(t *testing.T) {
	p, s := newPlatform(t)
	c, err := New(s, WithRegistry(p.registry))
	require.NoError(t, err)

	_, err = c.Get(testCtx(t), "users", map[string]any{"limit": 10})
	require.NoError(t, err)
	_, err = c.Post(testCtx(t), "/users", map[string]any{"a": 1})
	require.NoError(t, err)

	reqs := p.mh.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, http.MethodGet, reqs[0].Method)
	require.Equal(t, "/api/v1/users", reqs[0].Path)
	require.Equal(t, "10", reqs[0].Query.Get("limit"))
	require.Equal(t, appID, reqs[0].Header.Get("Hull-App-Id"))
	require.Equal(t, secret, reqs[0].Header.Get("Hull-Access-Token"))
	require.Equal(t, s.Organization, reqs[0].Header.Get("Hull-Organization"))
	require.Equal(t, map[string]any{"a": float64(1)}, reqs[1].Body)
}

func TestAPIErrorsAreTransportErrors(t *testing.T) {
	p, s := newPlatform(t)
	c, err := New(s, WithRegistry(p.registry))
	require.NoError(t, err)
	p.mh.Stub(http.MethodDelete, "/api/v1/users/1", http.StatusNotFound, map[string]any{"message": "nope"}, 1)

	_, err = c.Del(testCtx(t), "users/1", nil)
	require.ErrorIs(t, err, problems.ErrTransport)
	var te *problems.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusNotFound, te.StatusCode)

	_, err = c.API(testCtx(t), "users", "purge", nil)
	require.ErrorIs(t, err, problems.ErrUnsupportedMethod)
}

func TestLoggerCarriesContext(t *testing.T) {
	log, logs := logger.Capture("debug")
	s := settings("demo.hullapp.io")
	s.ConnectorName = "slack"
	s.RequestID = "req-1"
	c, err := New(s, WithLogger(log), WithCapture(&firehose.Capture{}))
	require.NoError(t, err)

	u, err := c.AsUser(claims.FromFields(map[string]any{"email": "foo@bar.com", "external_id": "42"}))
	require.NoError(t, err)
	u.Logger().Infow("incoming.user.success")

	entries := logs.FilterMessage("incoming.user.success").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "demo.hullapp.io", fields["organization"])
	require.Equal(t, appID, fields["id"])
	require.Equal(t, "slack", fields["connector_name"])
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "user", fields["subject_type"])
	require.Equal(t, "foo@bar.com", fields["user_email"])
	require.Equal(t, "42", fields["user_external_id"])

	a, err := c.AsAccount(claims.FromID("acc-1"))
	require.NoError(t, err)
	a.Logger().Infow("incoming.account.success")
	fields = logs.FilterMessage("incoming.account.success").All()[0].ContextMap()
	require.Equal(t, "acc-1", fields["account_id"])
	require.NotContains(t, fields, "user_email")
}

func TestScopedClientsDoNotTouchParent(t *testing.T) {
	c, err := New(settings("demo.hullapp.io"), WithCapture(&firehose.Capture{}))
	require.NoError(t, err)
	before := c.Configuration()

	u, err := c.AsUser(claims.FromID("u-1"), token.AdditionalClaims{Create: token.Bool(false)})
	require.NoError(t, err)
	require.NotEmpty(t, u.Configuration().AccessToken)

	require.Equal(t, before, c.Configuration())
	require.Equal(t, ScopeNone, c.Scope())
	require.Nil(t, c.Configuration().AdditionalClaims)
}
