// Package rest performs signed calls against the platform API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hullclient/pkg/configuration"
	"hullclient/pkg/logger"
	"hullclient/pkg/problems"
	"hullclient/pkg/tracing"
)

const DefaultTimeout = 10 * time.Second

var UserAgent = "Hull Go Client version: " + configuration.Version

var absoluteURL = regexp.MustCompile(`^https?://`)

// Target is the connector a call is made on behalf of.
type Target struct {
	ID           string
	Secret       string
	Organization string
	Prefix       string
	Protocol     string
	AccessToken  string
	UserID       string
	Sudo         bool
}

// TargetFrom extracts the call target from client settings.
func TargetFrom(s configuration.Settings) Target {
	return Target{
		ID:           s.ID,
		Secret:       s.Secret,
		Organization: s.Organization,
		Prefix:       s.Prefix,
		Protocol:     s.Protocol,
		AccessToken:  s.AccessToken,
		UserID:       s.UserID,
		Sudo:         s.Sudo,
	}
}

// Token is the value sent as Hull-Access-Token.
func (t Target) Token() string {
	if t.Sudo || t.AccessToken == "" {
		return t.Secret
	}
	return t.AccessToken
}

// Resolve turns a path into a full URL. Absolute URLs are returned as is.
func (t Target) Resolve(path string) string {
	if absoluteURL.MatchString(path) {
		return path
	}
	return fmt.Sprintf("%s://%s%s/%s", t.Protocol, t.Organization, t.Prefix, strings.TrimPrefix(path, "/"))
}

// Options tune a single call.
type Options struct {
	// Timeout bounds each attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// Retry replaces DefaultRetryPolicy.
	Retry *RetryPolicy
	// Headers are added after the identity headers and may override them.
	Headers map[string]string
}

// Invoker performs the HTTP calls. It is safe for concurrent use.
type Invoker struct {
	http *http.Client
	log  logger.Sugared
}

type Option func(*Invoker)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option { return func(i *Invoker) { i.http = c } }

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l logger.Sugared) Option { return func(i *Invoker) { i.log = l } }

func New(opts ...Option) *Invoker {
	inv := &Invoker{
		http: &http.Client{Transport: tracing.Transport(http.DefaultTransport)},
		log:  logger.Nop(),
	}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

var methods = map[string]string{
	"get":    http.MethodGet,
	"post":   http.MethodPost,
	"put":    http.MethodPut,
	"patch":  http.MethodPatch,
	"delete": http.MethodDelete,
	"del":    http.MethodDelete,
}

// Call sends params to path and returns the raw response body. GET params go
// into the query string, everything else is sent as JSON.
func (inv *Invoker) Call(ctx context.Context, t Target, method, path string, params any, opts Options) (json.RawMessage, error) {
	verb, ok := methods[strings.ToLower(method)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", problems.ErrUnsupportedMethod, method)
	}
	full := t.Resolve(path)

	var body []byte
	if verb == http.MethodGet {
		q, err := query(params)
		if err != nil {
			return nil, err
		}
		if q != "" {
			sep := "?"
			if strings.Contains(full, "?") {
				sep = "&"
			}
			full += sep + q
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", verb, full, err)
		}
		body = b
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	policy := DefaultRetryPolicy()
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	onRetry := policy.OnRetry
	policy.OnRetry = func(n int, err error) {
		inv.log.Debugw("client.retry", "method", verb, "path", full, "retryCount", n, "error", err)
		if onRetry != nil {
			onRetry(n, err)
		}
	}

	var out json.RawMessage
	err := policy.Do(ctx, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res, err := inv.do(actx, t, verb, full, body, opts.Headers)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (inv *Invoker) do(ctx context.Context, t Target, verb, full string, body []byte, extra map[string]string) (json.RawMessage, error) {
	fail := func(status int, respBody string, err error) error {
		return &problems.TransportError{Method: verb, URL: full, StatusCode: status, Body: respBody, Err: err}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, verb, full, rd)
	if err != nil {
		return nil, fail(0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Hull-App-Id", t.ID)
	req.Header.Set("Hull-Access-Token", t.Token())
	req.Header.Set("Hull-Organization", t.Organization)
	if t.UserID != "" {
		req.Header.Set("Hull-User-Id", t.UserID)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := inv.http.Do(req)
	if err != nil {
		return nil, fail(0, "", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fail(resp.StatusCode, "", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fail(resp.StatusCode, string(raw), nil)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// query encodes params as a query string. Lists become repeated keys and
// nested objects are sent as JSON.
func query(params any) (string, error) {
	switch p := params.(type) {
	case nil:
		return "", nil
	case url.Values:
		return p.Encode(), nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return "", fmt.Errorf("encode query: params must be an object: %w", err)
	}
	vals := url.Values{}
	for k, val := range m {
		switch v := val.(type) {
		case nil:
		case []any:
			for _, e := range v {
				vals.Add(k, scalar(e))
			}
		default:
			vals.Add(k, scalar(v))
		}
	}
	return vals.Encode(), nil
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	}
	return fmt.Sprint(v)
}
