// Package bridge is the application service. Each exported method of
// Service is one logical operation: it gets its own operation id and its
// own token session, so a token is acquired at most once per operation.
package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/auth/credentials"
	authhubspot "github.com/pysugar/hubspot-bridge/internal/auth/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/auth/token"
	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/feeds"
	"github.com/pysugar/hubspot-bridge/internal/forms"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/schema"
	"github.com/pysugar/hubspot-bridge/internal/store"
	"github.com/pysugar/hubspot-bridge/internal/submission"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Service wires the bridge components for one installation.
type Service struct {
	cfg        config.Config
	store      *store.Store
	creds      *credentials.Store
	tokens     *token.Manager
	handshake  *authhubspot.Handshake
	schema     *schema.Cache
	feeds      *feeds.Repository
	forms      *forms.Reconciler
	dispatcher *submission.Dispatcher
}

// Option customizes the Service wiring.
type Option func(*wiring)

type wiring struct {
	clientOpts []hubspot.ClientOption
	refresher  token.Refresher
	now        func() time.Time
	formOpts   []forms.Option
}

// WithClientOptions appends options to every API client the service builds.
func WithClientOptions(opts ...hubspot.ClientOption) Option {
	return func(w *wiring) { w.clientOpts = append(w.clientOpts, opts...) }
}

// WithRefresher replaces the token broker.
func WithRefresher(r token.Refresher) Option {
	return func(w *wiring) { w.refresher = r }
}

// WithClock overrides the time source of the store and token manager.
func WithClock(now func() time.Time) Option {
	return func(w *wiring) { w.now = now }
}

// WithFormOptions configures the form reconciler.
func WithFormOptions(opts ...forms.Option) Option {
	return func(w *wiring) { w.formOpts = append(w.formOpts, opts...) }
}

// New builds the service on an initialized database.
func New(cfg config.Config, db *gorm.DB, opts ...Option) *Service {
	w := wiring{now: time.Now}
	for _, opt := range opts {
		opt(&w)
	}
	if w.refresher == nil {
		w.refresher = authhubspot.NewBrokerWithClient(cfg.BrokerURL, &http.Client{Timeout: cfg.RequestTimeout})
	}

	clientOpts := []hubspot.ClientOption{
		hubspot.WithBaseURLs(cfg.APIBaseURL, cfg.FormsBaseURL),
		hubspot.WithTimeout(cfg.RequestTimeout),
	}
	if cfg.RateRPS > 0 {
		clientOpts = append(clientOpts, hubspot.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)))
	}
	clientOpts = append(clientOpts, w.clientOpts...)
	newClient := func(rec credentials.TokenRecord) *hubspot.Client {
		return hubspot.NewFromToken(rec.OAuth2(), clientOpts...)
	}

	st := store.New(db, store.WithClock(w.now))
	creds := credentials.NewStore(db, cfg.Installation)
	tokens := token.NewManager(cfg.Installation, creds, st, w.refresher, newClient,
		token.WithClock(w.now), token.WithLockTTL(cfg.RefreshLockTTL))
	return &Service{
		cfg:        cfg,
		store:      st,
		creds:      creds,
		tokens:     tokens,
		handshake:  authhubspot.NewHandshake(cfg.Installation, cfg.BrokerURL, cfg.License, st, creds),
		schema:     schema.NewCache(cfg.Installation, st, cfg.SchemaTTL, cfg.SelectionProperties),
		feeds:      feeds.NewRepository(db),
		forms:      forms.New(cfg.PipelineStageProperty, w.formOpts...),
		dispatcher: submission.NewDispatcher(db),
	}
}

// Store exposes the host primitives, e.g. for periodic purges.
func (s *Service) Store() *store.Store { return s.store }

// operation is the per-call scope: one token session, lazily used.
type operation struct {
	s            *Service
	session      *token.Session
	allowRefresh bool
}

func (s *Service) begin(allowRefresh bool) *operation {
	return &operation{s: s, session: s.tokens.NewSession(), allowRefresh: allowRefresh}
}

func (o *operation) client(ctx context.Context) (*hubspot.Client, error) {
	return o.session.Client(ctx, o.allowRefresh)
}

func (o *operation) properties(ctx context.Context) (schema.Properties, error) {
	return o.s.schema.Get(ctx, func(ctx context.Context) ([]hubspot.PropertyGroup, error) {
		c, err := o.client(ctx)
		if err != nil {
			return nil, err
		}
		return c.ListPropertyGroups(ctx)
	})
}
