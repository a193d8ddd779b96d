// Package hubspot is the HTTP client for the CRM API used by the bridge:
// forms, contact properties, owners, contacts, form submissions and token
// revocation. Every failure comes back as an *errs.Error.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/metrics"
	"github.com/pysugar/hubspot-bridge/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Client talks to the CRM API on behalf of one access token.
type Client struct {
	httpClient *http.Client
	// plain carries no bearer header; token revocation is unauthenticated.
	plain     *http.Client
	apiBase   string
	formsBase string
	limiter   *rate.Limiter
}

// ClientOption customizes a Client.
type ClientOption func(*options)

type options struct {
	apiBase   string
	formsBase string
	timeout   time.Duration
	limiter   *rate.Limiter
	transport http.RoundTripper
}

// WithBaseURLs overrides the API and form submission hosts.
func WithBaseURLs(api, forms string) ClientOption {
	return func(o *options) {
		if api != "" {
			o.apiBase = api
		}
		if forms != "" {
			o.formsBase = forms
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithRateLimiter makes every call wait on l first. Share one limiter
// between clients to enforce a process-wide budget.
func WithRateLimiter(l *rate.Limiter) ClientOption {
	return func(o *options) { o.limiter = l }
}

// WithTransport replaces the base round tripper under the bearer transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *options) { o.transport = rt }
}

// New builds a client that authenticates with accessToken.
func New(accessToken string, opts ...ClientOption) *Client {
	return NewFromToken(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}, opts...)
}

// NewFromToken builds a client that sends tok as its bearer. The token is
// sent as is, even past its expiry; refreshing is the caller's concern.
func NewFromToken(tok *oauth2.Token, opts ...ClientOption) *Client {
	o := options{
		apiBase:   config.DefaultAPIBaseURL,
		formsBase: config.DefaultFormsBaseURL,
		timeout:   config.DefaultRequestTimeout,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(&o)
	}

	bearer := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(tok),
		Base:   o.transport,
	}
	return &Client{
		httpClient: &http.Client{Transport: bearer, Timeout: o.timeout},
		plain:      &http.Client{Transport: o.transport, Timeout: o.timeout},
		apiBase:    strings.TrimRight(o.apiBase, "/") + "/",
		formsBase:  strings.TrimRight(o.formsBase, "/"),
		limiter:    o.limiter,
	}
}

type call struct {
	op     string
	method string
	url    string
	body   any
	expect int
	out    any
	plain  bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	logger := logging.From(ctx)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &errs.Error{Kind: errs.TemporarilyUnavailable, Op: cl.op, Message: "rate limit wait aborted", Err: err}
		}
	}

	var reader io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return errs.Wrap(errs.Unknown, cl.op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
		logger.Debug().Str("op", cl.op).Str("payload", util.TruncateBytes(payload)).Msg("remote request")
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, cl.url, reader)
	if err != nil {
		return errs.Wrap(errs.Unknown, cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := c.httpClient
	if cl.plain {
		hc = c.plain
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		metrics.RemoteRequest(cl.op, 0, time.Since(start))
		logger.Error().Err(err).Str("op", cl.op).Msg("❌ remote request failed")
		return &errs.Error{Kind: errs.TemporarilyUnavailable, Op: cl.op, Message: "HTTP request failed", Err: err}
	}
	defer resp.Body.Close()
	metrics.RemoteRequest(cl.op, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{Kind: errs.TemporarilyUnavailable, Op: cl.op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode != cl.expect {
		apiErr := parseAPIError(cl.op, cl.expect, resp, body)
		event := logger.Error()
		if resp.StatusCode == http.StatusUnauthorized {
			event = logger.Warn()
		}
		event.Str("op", cl.op).
			Int("status", resp.StatusCode).
			Str("message", apiErr.Message).
			Str("body", util.TruncateBytes(body)).
			Msg("⚠️ remote API error")
		return apiErr
	}

	if cl.out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, cl.out); err != nil {
			return &errs.Error{Kind: errs.Remote, Op: cl.op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
		}
	}
	return nil
}

func (c *Client) api(path string) string { return c.apiBase + path }
