package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/auth/token"
	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/metrics"
	"github.com/pysugar/hubspot-bridge/internal/util"
)

// Broker refreshes tokens through the token broker, which holds the OAuth
// client secret.
type Broker struct {
	httpClient *http.Client
	baseURL    string
}

// NewBroker creates a broker client with the default request timeout.
func NewBroker(baseURL string) *Broker {
	return NewBrokerWithClient(baseURL, &http.Client{Timeout: config.DefaultRequestTimeout})
}

// NewBrokerWithClient creates a broker client using httpClient.
func NewBrokerWithClient(baseURL string, httpClient *http.Client) *Broker {
	return &Broker{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type refreshEnvelope struct {
	AuthPayload string `json:"auth_payload"`
}

type refreshPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	State        string `json:"state"`
	Error        string `json:"error"`
	Status       string `json:"status"`
}

// Refresh exchanges refreshToken for a new token pair. A rejected refresh
// token is reported with Reason token.BadRefreshToken.
func (b *Broker) Refresh(ctx context.Context, refreshToken string) (token.Grant, error) {
	const op = "broker.Refresh"
	if refreshToken == "" {
		return token.Grant{}, errs.E(errs.Validation, op, "Refresh token must be provided.")
	}

	state := newNonce()
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	form.Set("state", state)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/auth/hubspot/refresh", strings.NewReader(form.Encode()))
	if err != nil {
		return token.Grant{}, errs.Wrap(errs.Unknown, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		metrics.RemoteRequest(op, 0, time.Since(start))
		return token.Grant{}, &errs.Error{Kind: errs.TemporarilyUnavailable, Op: op, Message: "HTTP request failed", Err: err}
	}
	defer resp.Body.Close()
	metrics.RemoteRequest(op, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return token.Grant{}, &errs.Error{Kind: errs.TemporarilyUnavailable, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	message := http.StatusText(resp.StatusCode)
	if resp.StatusCode == http.StatusOK {
		var env refreshEnvelope
		var inner refreshPayload
		if err := json.Unmarshal(body, &env); err != nil {
			return token.Grant{}, &errs.Error{Kind: errs.Remote, Op: op, StatusCode: resp.StatusCode, Message: "malformed broker response", Err: err}
		}
		if err := json.Unmarshal([]byte(env.AuthPayload), &inner); err != nil {
			return token.Grant{}, &errs.Error{Kind: errs.Remote, Op: op, StatusCode: resp.StatusCode, Message: "malformed broker payload", Err: err}
		}

		if inner.AccessToken != "" {
			if inner.State != state {
				return token.Grant{}, errs.E(errs.StateMismatch, op, "broker echoed a different state")
			}
			return token.Grant{
				AccessToken:  inner.AccessToken,
				RefreshToken: inner.RefreshToken,
				ExpiresIn:    inner.ExpiresIn,
			}, nil
		}

		switch {
		case inner.Error != "":
			message = inner.Error
		case inner.Status != "":
			message = inner.Status
		}
	}

	e := &errs.Error{Kind: brokerKind(resp.StatusCode), Op: op, StatusCode: resp.StatusCode, Message: message}
	if message == token.BadRefreshToken {
		e.Kind = errs.Remote
		e.Reason = token.BadRefreshToken
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	logging.From(ctx).Error().
		Str("op", op).
		Int("status", resp.StatusCode).
		Str("message", e.Message).
		Str("body", util.TruncateBytes(body)).
		Msg("❌ broker refresh failed")
	return token.Grant{}, e
}

func brokerKind(status int) errs.Kind {
	switch {
	case status == http.StatusOK:
		return errs.Remote
	case status == http.StatusTooManyRequests, status >= 500:
		return errs.TemporarilyUnavailable
	case status == http.StatusUnauthorized:
		return errs.Unauthenticated
	default:
		return errs.Remote
	}
}
