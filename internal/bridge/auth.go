package bridge

import (
	"context"
	"errors"
	"time"

	authhubspot "github.com/pysugar/hubspot-bridge/internal/auth/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/logging"
)

// Deauthorize scopes.
const (
	ScopeSite    = "site"
	ScopeAccount = "account"
)

// Status is the connection overview shown to operators.
type Status struct {
	State          authhubspot.State `json:"state"`
	Connected      bool              `json:"connected"`
	Message        string            `json:"message,omitempty"`
	SupportURL     string            `json:"support_url,omitempty"`
	CacheClearedAt *time.Time        `json:"cache_cleared_at,omitempty"`
}

// Status reports the handshake state and, when credentials exist, whether
// the remote side accepts them.
func (s *Service) Status(ctx context.Context) (Status, error) {
	ctx = logging.StartOperation(ctx, "status")
	state, err := s.handshake.State(ctx)
	if err != nil {
		return Status{}, err
	}
	out := Status{State: state}
	if t, ok, err := s.schema.LastCleared(ctx); err == nil && ok {
		out.CacheClearedAt = &t
	}
	if state != authhubspot.Connected {
		return out, nil
	}

	err = s.begin(true).session.Probe(ctx)
	switch {
	case err == nil:
		out.Connected = true
	case errors.Is(err, errs.Unauthenticated):
		out.State = authhubspot.Disconnected
		out.Message = "Your HubSpot account is not connected. Connect it to continue."
	default:
		out.Message = "There is a problem communicating with HubSpot right now, please check back later."
		out.SupportURL = s.cfg.SupportURL
	}
	return out, nil
}

// Connect starts the authorization handshake and returns the broker URL.
func (s *Service) Connect(ctx context.Context, redirectTo string) (string, error) {
	ctx = logging.StartOperation(ctx, "connect")
	return s.handshake.Begin(ctx, redirectTo)
}

// StoreAuthResponse keeps an asynchronous broker response for Complete.
func (s *Service) StoreAuthResponse(ctx context.Context, p authhubspot.CallbackPayload) error {
	ctx = logging.StartOperation(ctx, "auth_response")
	return s.handshake.StoreAsyncResponse(ctx, p)
}

// CompleteAuthorization finishes the handshake. When a new token was stored
// every feed whose remote form is missing gets it recreated; sweep failures
// are logged and do not fail the authorization.
func (s *Service) CompleteAuthorization(ctx context.Context, p authhubspot.CallbackPayload) (authhubspot.Completion, error) {
	ctx = logging.StartOperation(ctx, "authorize")
	done, err := s.handshake.Complete(ctx, p)
	if err != nil || !done.Updated {
		return done, err
	}
	if _, err := s.sweep(ctx, s.begin(true)); err != nil {
		logging.From(ctx).Error().Err(err).Msg("❌ Form sweep after authorization failed")
	}
	return done, nil
}

// Deauthorize deletes the remote forms of every feed (best effort), revokes
// the refresh token for the account scope, then forgets the credentials.
// Feeds keep their guid so a later authorization recreates their forms.
func (s *Service) Deauthorize(ctx context.Context, scope string) error {
	const op = "bridge.Deauthorize"
	ctx = logging.StartOperation(ctx, "deauthorize")
	log := logging.From(ctx)

	if scope != ScopeSite && scope != ScopeAccount {
		return errs.E(errs.Validation, op, "scope must be site or account")
	}
	o := s.begin(true)
	client, err := o.client(ctx)
	if err != nil {
		log.Error().Err(err).Msg("❌ Unable to de-authorize because API is not initialized")
		return err
	}

	all, err := s.feeds.List(ctx)
	if err != nil {
		return err
	}
	for _, f := range all {
		_ = s.forms.Delete(ctx, client, f)
	}

	if scope == ScopeAccount {
		rec, err := s.creds.Load(ctx)
		if err != nil {
			return err
		}
		if err := client.RevokeToken(ctx, rec.RefreshToken); err != nil {
			log.Error().Err(err).Str("message", errs.MessageOf(err)).Msg("❌ Unable to revoke token")
			return errs.Wrap(errs.KindOf(err), op, err)
		}
		log.Warn().Msg("🔌 All sites connected to this HubSpot account have been disconnected")
	}

	if err := s.handshake.Disconnect(ctx); err != nil {
		return err
	}
	log.Info().Msg("🔌 Disconnected from HubSpot")
	return nil
}
