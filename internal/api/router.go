package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pysugar/hubspot-bridge/internal/metrics"
)

// NewRouter builds the chi router of the bridge service.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware)

	// ============================================
	// Public Routes
	// ============================================
	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	// Broker callbacks; the state nonce authenticates them.
	r.Post("/auth/hubspot/callback", h.callback)
	r.Post("/auth/hubspot/async", h.asyncResponse)

	// ============================================
	// Admin Routes (basic auth when admin_password is set)
	// ============================================
	r.Route("/api", func(r chi.Router) {
		r.Use(AdminAuth(h.cfg.AdminPassword))

		r.Get("/status", h.status)
		r.Get("/connect", h.connect)
		r.Post("/complete", h.callback)
		r.Post("/deauthorize", h.deauthorize)

		r.Get("/properties", h.properties)
		r.Post("/cache/clear", h.clearCache)
		r.Get("/owners", h.owners)

		r.Get("/feeds", h.listFeeds)
		r.Post("/feeds", h.createFeed)
		r.Get("/feeds/{id}", h.getFeed)
		r.Put("/feeds/{id}", h.updateFeed)
		r.Delete("/feeds/{id}", h.deleteFeed)
		r.Post("/sync", h.sync)

		r.Get("/config/apikey", h.getAPIKey)
		r.Post("/config/apikey/regenerate", h.regenerateAPIKey)
	})

	// ============================================
	// Submission Routes (API key required)
	// ============================================
	r.Route("/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(h.db))
		r.Post("/entries", h.processEntry)
		r.Post("/entries/defer", h.deferEntry)
	})

	return r
}
