package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hullclient/pkg/problems"
)

func fastRetry(attempts int) *RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.Backoff = Constant(time.Millisecond)
	return &p
}

func targetFor(srv *httptest.Server) Target {
	host := strings.TrimPrefix(srv.URL, "http://")
	return Target{
		ID:           "562123b470df84b740000042",
		Secret:       "1234",
		Organization: host,
		Prefix:       "/api/v1",
		Protocol:     "http",
	}
}

func TestResolve(t *testing.T) {
	tg := Target{Protocol: "https", Organization: "demo.hullapp.io", Prefix: "/api/v1"}
	require.Equal(t, "https://demo.hullapp.io/api/v1/me/traits", tg.Resolve("/me/traits"))
	require.Equal(t, "https://demo.hullapp.io/api/v1/app", tg.Resolve("app"))
	require.Equal(t, "http://elsewhere/x", tg.Resolve("http://elsewhere/x"))
}

func TestTargetToken(t *testing.T) {
	tg := Target{Secret: "s", AccessToken: "tok"}
	require.Equal(t, "tok", tg.Token())
	tg.Sudo = true
	require.Equal(t, "s", tg.Token())
	require.Equal(t, "s", Target{Secret: "s"}.Token())
}

func TestCallSendsIdentityHeadersAndQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := targetFor(srv)
	tg.AccessToken = "scoped"
	tg.UserID = "u-1"
	res, err := New().Call(context.Background(), tg, "get", "/app", map[string]any{"limit": 10, "tags": []string{"a", "b"}}, Options{})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(res))

	require.Equal(t, http.MethodGet, got.Method)
	require.Equal(t, "/api/v1/app", got.URL.Path)
	require.Equal(t, "10", got.URL.Query().Get("limit"))
	require.Equal(t, []string{"a", "b"}, got.URL.Query()["tags"])
	require.Equal(t, tg.ID, got.Header.Get("Hull-App-Id"))
	require.Equal(t, "scoped", got.Header.Get("Hull-Access-Token"))
	require.Equal(t, tg.Organization, got.Header.Get("Hull-Organization"))
	require.Equal(t, "u-1", got.Header.Get("Hull-User-Id"))
	require.Equal(t, UserAgent, got.Header.Get("User-Agent"))
}

func TestCallSendsJSONBody(t *testing.T) {
	var body map[string]any
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := New().Call(context.Background(), targetFor(srv), "PUT", "me/traits", map[string]any{"name": "x"}, Options{
		Headers: map[string]string{"X-Extra": "1"},
	})
	require.NoError(t, err)
	require.Nil(t, res)
	require.Equal(t, http.MethodPut, method)
	require.Equal(t, map[string]any{"name": "x"}, body)
}

func TestCallRejectsUnknownMethod(t *testing.T) {
	_, err := New().Call(context.Background(), Target{}, "brew", "/x", nil, Options{})
	require.ErrorIs(t, err, problems.ErrUnsupportedMethod)
}

func TestCallRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New().Call(context.Background(), targetFor(srv), "post", "/x", nil, Options{Retry: fastRetry(3)})
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
}

func TestCallSurfacesTransportError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	_, err := New().Call(context.Background(), targetFor(srv), "post", "/x", nil, Options{Retry: fastRetry(3)})
	require.ErrorIs(t, err, problems.ErrTransport)

	var te *problems.TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	require.Equal(t, 3, te.Attempts)
	require.Equal(t, "down", te.Body)
	require.EqualValues(t, 3, calls.Load())
}

func TestCallDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New().Call(context.Background(), targetFor(srv), "delete", "/x", nil, Options{Retry: fastRetry(3)})
	var te *problems.TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, 1, te.Attempts)
	require.EqualValues(t, 1, calls.Load())
}

func TestCallRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"second":true}`))
	}))
	defer srv.Close()

	res, err := New().Call(context.Background(), targetFor(srv), "get", "/x", nil, Options{
		Timeout: 50 * time.Millisecond,
		Retry:   fastRetry(2),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"second":true}`, string(res))
}
