package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/hubspot-bridge/internal/auth/credentials"
	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/metrics"
	"github.com/pysugar/hubspot-bridge/internal/util"
)

// BadRefreshToken is the reason the broker reports for a refresh token the
// remote side no longer accepts.
const BadRefreshToken = "BAD_REFRESH_TOKEN"

// Grant is a token pair returned by a refresh.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Refresher exchanges a refresh token for a new Grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Grant, error)
}

// Locker is a set-if-absent lease store.
type Locker interface {
	TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// ClientFactory builds an API client bound to a stored token.
type ClientFactory func(rec credentials.TokenRecord) *hubspot.Client

// Manager hands out API clients bound to a valid access token, refreshing
// expired tokens under a lease so only one caller refreshes at a time.
type Manager struct {
	creds     *credentials.Store
	locks     Locker
	refresher Refresher
	newClient ClientFactory
	lockName  string
	lockTTL   time.Duration
	now       func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLockTTL overrides the refresh lease lifetime.
func WithLockTTL(d time.Duration) Option {
	return func(m *Manager) { m.lockTTL = d }
}

// NewManager creates a token manager for one installation.
func NewManager(installation string, creds *credentials.Store, locks Locker, refresher Refresher, newClient ClientFactory, opts ...Option) *Manager {
	m := &Manager{
		creds:     creds,
		locks:     locks,
		refresher: refresher,
		newClient: newClient,
		lockName:  installation + "_refresh_lock",
		lockTTL:   config.DefaultRefreshLockTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns a client bound to the stored access token. An expired
// token is refreshed only when allowRefresh is set; otherwise the stale
// token is used as is.
func (m *Manager) Acquire(ctx context.Context, allowRefresh bool) (*hubspot.Client, error) {
	const op = "token.Acquire"
	logger := logging.From(ctx)

	rec, err := m.creds.Load(ctx)
	if errors.Is(err, errs.NotFound) {
		return nil, errs.E(errs.Unauthenticated, op, "not connected")
	}
	if err != nil {
		return nil, err
	}

	now := m.now()
	if !rec.Expired(now) || !allowRefresh {
		return m.newClient(rec), nil
	}

	if rec.RefreshToken == "" {
		logger.Warn().Msg("🔒 access token expired and no refresh token stored; reconnect required")
		return nil, errs.E(errs.Unauthenticated, op, "access token expired and cannot be refreshed")
	}

	owner := uuid.NewString()
	acquired, err := m.locks.TryAcquire(ctx, m.lockName, owner, m.lockTTL)
	if err != nil {
		return nil, errs.Wrap(errs.TemporarilyUnavailable, op, err)
	}
	if !acquired {
		metrics.TokenRefresh("contended")
		logger.Info().Msg("⏳ token refresh already in progress")
		return nil, errs.E(errs.TemporarilyUnavailable, op, "token refresh already in progress")
	}
	defer func() {
		if err := m.locks.Release(context.WithoutCancel(ctx), m.lockName, owner); err != nil {
			logger.Error().Err(err).Msg("failed to release refresh lock")
		}
	}()

	// Someone else may have refreshed between our read and the lease.
	if current, err := m.creds.Load(ctx); err == nil && !current.Expired(now) {
		return m.newClient(current), nil
	} else if err == nil {
		rec = current
	}

	grant, err := m.refresher.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		logger.Error().Err(err).Str("refresh_token", util.MaskSecret(rec.RefreshToken)).Msg("❌ token refresh failed")
		if isBadRefreshToken(err) {
			metrics.TokenRefresh("bad_token")
			if delErr := m.creds.Delete(ctx); delErr != nil {
				logger.Error().Err(delErr).Msg("failed to delete rejected credentials")
			}
			logger.Warn().Msg("🔒 refresh token rejected; credentials removed, reconnect required")
			return nil, errs.Wrap(errs.Unauthenticated, op, err)
		}
		metrics.TokenRefresh("failed")
		return nil, errs.Wrap(errs.TemporarilyUnavailable, op, err)
	}

	next := credentials.TokenRecord{
		AccessToken:  grant.AccessToken,
		RefreshToken: rec.RefreshToken,
		IssuedAt:     now,
		TTLSeconds:   grant.ExpiresIn,
	}
	if grant.RefreshToken != "" && grant.RefreshToken != rec.RefreshToken {
		logger.Info().Msg("🔄 rotating refresh token")
		next.RefreshToken = grant.RefreshToken
	}
	if err := m.creds.Save(ctx, next); err != nil {
		metrics.TokenRefresh("failed")
		return nil, errs.Wrap(errs.TemporarilyUnavailable, op, err)
	}

	metrics.TokenRefresh("success")
	logger.Info().Time("expires_at", next.ExpiresAt()).Msg("✅ refreshed access token")
	return m.newClient(next), nil
}

func isBadRefreshToken(err error) bool {
	if err == nil {
		return false
	}
	var e *errs.Error
	if errors.As(err, &e) && e.Reason == BadRefreshToken {
		return true
	}
	return strings.Contains(err.Error(), BadRefreshToken)
}
