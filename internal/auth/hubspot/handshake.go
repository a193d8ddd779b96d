// Package hubspot runs the OAuth authorization handshake through the token
// broker and exchanges refresh tokens with it.
//
// The broker owns the OAuth client secret. The bridge sends the user to the
// broker with a one-time state nonce; the broker answers either by posting
// the payload back through the user's browser or, asynchronously, to the
// bridge directly.
package hubspot

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/auth/credentials"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/logging"
)

// HandshakeTTL bounds how long a nonce or a pending async response lives.
const HandshakeTTL = 10 * time.Minute

// State is where an installation is in the authorization lifecycle.
type State string

const (
	Disconnected     State = "disconnected"
	AwaitingCallback State = "awaiting_callback"
	Connected        State = "connected"
)

// Transients is the expiring key/value store the handshake keeps its nonce
// and pending responses in.
type Transients interface {
	GetTransient(ctx context.Context, key string) (string, bool, error)
	SetTransient(ctx context.Context, key, value string, ttl time.Duration) error
	DeleteTransient(ctx context.Context, key string) error
}

// CallbackPayload is what the broker sends back.
type CallbackPayload struct {
	AuthPayload string `json:"auth_payload"`
	AuthError   string `json:"auth_error"`
	State       string `json:"state"`
}

// authPayload is the decoded content of CallbackPayload.AuthPayload.
type authPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	State        string `json:"state"`
}

// Completion reports what Complete changed.
type Completion struct {
	// Updated is set when a new access token was stored.
	Updated bool
}

// Handshake drives Disconnected -> AwaitingCallback -> Connected.
type Handshake struct {
	transients  Transients
	creds       *credentials.Store
	brokerURL   string
	license     string
	requestKey  string
	responseKey string
	now         func() time.Time
}

// NewHandshake creates the handshake for one installation.
func NewHandshake(installation, brokerURL, license string, transients Transients, creds *credentials.Store) *Handshake {
	return &Handshake{
		transients:  transients,
		creds:       creds,
		brokerURL:   strings.TrimRight(brokerURL, "/"),
		license:     license,
		requestKey:  installation + "_oauth_request",
		responseKey: installation + "_oauth_response",
		now:         time.Now,
	}
}

// State derives the lifecycle state from stored credentials and nonce.
func (h *Handshake) State(ctx context.Context) (State, error) {
	if _, err := h.creds.Load(ctx); err == nil {
		return Connected, nil
	} else if !errors.Is(err, errs.NotFound) {
		return "", err
	}
	_, pending, err := h.transients.GetTransient(ctx, h.requestKey)
	if err != nil {
		return "", err
	}
	if pending {
		return AwaitingCallback, nil
	}
	return Disconnected, nil
}

// Begin stores a fresh nonce, replacing any older one, and returns the
// broker URL the user must visit.
func (h *Handshake) Begin(ctx context.Context, redirectTo string) (string, error) {
	nonce := newNonce()
	if err := h.transients.SetTransient(ctx, h.requestKey, nonce, HandshakeTTL); err != nil {
		return "", errs.Wrap(errs.Unknown, "handshake.Begin", err)
	}

	q := url.Values{}
	q.Set("redirect_to", redirectTo)
	q.Set("license", h.license)
	q.Set("state", nonce)

	logging.From(ctx).Info().Msg("🔐 authorization started")
	return h.brokerURL + "/auth/hubspot?" + q.Encode(), nil
}

// StoreAsyncResponse caches a payload the broker posted directly to us so
// the next Complete without a direct payload can pick it up.
func (h *Handshake) StoreAsyncResponse(ctx context.Context, p CallbackPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return errs.Wrap(errs.Unknown, "handshake.StoreAsyncResponse", err)
	}
	if err := h.transients.SetTransient(ctx, h.responseKey, string(raw), HandshakeTTL); err != nil {
		return errs.Wrap(errs.Unknown, "handshake.StoreAsyncResponse", err)
	}
	return nil
}

// Complete verifies the callback and stores the token pair. Without a
// direct payload the cached async response is used instead, and dropped
// once its state matches. On a state mismatch the nonce and any cached
// response are kept so the user can retry.
func (h *Handshake) Complete(ctx context.Context, p CallbackPayload) (Completion, error) {
	const op = "handshake.Complete"
	logger := logging.From(ctx)

	fromAsync := p.AuthPayload == "" && p.AuthError == ""
	if fromAsync {
		raw, ok, err := h.transients.GetTransient(ctx, h.responseKey)
		if err != nil {
			return Completion{}, errs.Wrap(errs.Unknown, op, err)
		}
		if !ok {
			return Completion{}, errs.E(errs.NotFound, op, "no authorization response received")
		}
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Completion{}, errs.Wrap(errs.Validation, op, err)
		}
	}

	nonce, ok, err := h.transients.GetTransient(ctx, h.requestKey)
	if err != nil {
		return Completion{}, errs.Wrap(errs.Unknown, op, err)
	}
	if !ok || p.State == "" || p.State != nonce {
		logger.Warn().Msg("⚠️ authorization state mismatch")
		return Completion{}, errs.E(errs.StateMismatch, op, "Unable to connect your HubSpot account due to mismatched state.")
	}
	if fromAsync {
		if err := h.transients.DeleteTransient(ctx, h.responseKey); err != nil {
			return Completion{}, errs.Wrap(errs.Unknown, op, err)
		}
	}

	if p.AuthError != "" {
		logger.Warn().Str("auth_error", p.AuthError).Msg("authorization refused")
		return Completion{}, &errs.Error{
			Kind:    errs.Unauthenticated,
			Op:      op,
			Message: "Unable to connect your HubSpot account.",
			Reason:  p.AuthError,
		}
	}

	decoded, err := decodeAuthPayload(p.AuthPayload)
	if err != nil {
		return Completion{}, errs.Wrap(errs.Validation, op, err)
	}
	// The broker echoes the nonce inside the payload too.
	if decoded.State != "" && decoded.State != nonce {
		logger.Warn().Msg("⚠️ authorization payload state mismatch")
		return Completion{}, errs.E(errs.StateMismatch, op, "Unable to connect your HubSpot account due to mismatched state.")
	}

	var done Completion
	current, err := h.creds.Load(ctx)
	if err != nil && !errors.Is(err, errs.NotFound) {
		return Completion{}, err
	}
	if err != nil || current.AccessToken != decoded.AccessToken {
		rec := credentials.TokenRecord{
			AccessToken:  decoded.AccessToken,
			RefreshToken: decoded.RefreshToken,
			IssuedAt:     h.now().UTC(),
			TTLSeconds:   decoded.ExpiresIn,
		}
		if err := h.creds.Save(ctx, rec); err != nil {
			return Completion{}, err
		}
		done.Updated = true
		logger.Info().Msg("✅ HubSpot settings have been updated")
	}

	if err := h.transients.DeleteTransient(ctx, h.requestKey); err != nil {
		logger.Error().Err(err).Msg("failed to drop authorization nonce")
	}
	return done, nil
}

// Disconnect forgets the stored credentials and any pending handshake.
func (h *Handshake) Disconnect(ctx context.Context) error {
	if err := h.creds.Delete(ctx); err != nil {
		return err
	}
	if err := h.transients.DeleteTransient(ctx, h.requestKey); err != nil {
		return errs.Wrap(errs.Unknown, "handshake.Disconnect", err)
	}
	return h.transients.DeleteTransient(ctx, h.responseKey)
}

func decodeAuthPayload(encoded string) (authPayload, error) {
	var p authPayload
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return p, errors.New("authorization payload is not valid base64")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.New("authorization payload is not valid JSON")
	}
	if p.AccessToken == "" {
		return p, errors.New("authorization payload has no access token")
	}
	return p, nil
}

func newNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
