// Package api exposes the bridge over HTTP: admin routes for the connection
// and feed settings, the broker callbacks, and the entry submission routes.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	authhubspot "github.com/pysugar/hubspot-bridge/internal/auth/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/bridge"
	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/db"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/feeds"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/submission"
	"github.com/pysugar/hubspot-bridge/internal/util"
	"github.com/pysugar/hubspot-bridge/internal/version"
	"gorm.io/gorm"
)

// HutkCookie is the visitor tracking cookie set by the CRM's tracking code.
const HutkCookie = "hubspotutk"

// Handler serves the bridge routes.
type Handler struct {
	svc *bridge.Service
	db  *gorm.DB
	cfg config.Config
}

// NewHandler creates a Handler.
func NewHandler(svc *bridge.Service, database *gorm.DB, cfg config.Config) *Handler {
	return &Handler{svc: svc, db: database, cfg: cfg}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// connect redirects to the broker, or returns the URL as JSON when asked.
func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	redirectTo := r.URL.Query().Get("redirect_to")
	if redirectTo == "" {
		redirectTo = "/api/status"
	}
	link, err := h.svc.Connect(r.Context(), redirectTo)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, map[string]string{"url": link})
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

// callbackPayload reads the broker payload from a form post or JSON body.
func callbackPayload(r *http.Request) (authhubspot.CallbackPayload, error) {
	var p authhubspot.CallbackPayload
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := decodeJSON(r, &p)
		return p, err
	}
	if err := r.ParseForm(); err != nil {
		return p, errs.Wrap(errs.Validation, "api.callback", err)
	}
	p.AuthPayload = r.PostForm.Get("auth_payload")
	p.AuthError = r.PostForm.Get("auth_error")
	p.State = r.PostForm.Get("state")
	return p, nil
}

// callback completes the authorization with the payload the broker sent
// through the user's browser. An empty body consumes the async response.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	p, err := callbackPayload(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	done, err := h.svc.CompleteAuthorization(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg := "HubSpot account already connected."
	if done.Updated {
		msg = "HubSpot settings have been updated."
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": done.Updated, "message": msg})
}

func (h *Handler) asyncResponse(w http.ResponseWriter, r *http.Request) {
	p, err := callbackPayload(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.StoreAuthResponse(r.Context(), p); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) deauthorize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope string `json:"scope"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Scope == "" {
		body.Scope = bridge.ScopeSite
	}
	if err := h.svc.Deauthorize(r.Context(), body.Scope); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) properties(w http.ResponseWriter, r *http.Request) {
	props, err := h.svc.Properties(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	at, err := h.svc.ClearSchemaCache(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared_at": at})
}

func (h *Handler) owners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.svc.Owners(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owners": owners})
}

func (h *Handler) listFeeds(w http.ResponseWriter, r *http.Request) {
	formID, _ := strconv.Atoi(r.URL.Query().Get("form_id"))
	list, err := h.svc.ListFeeds(r.Context(), formID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": list})
}

func feedID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errs.E(errs.Validation, "api.feedID", "feed id must be a positive integer")
	}
	return uint(id), nil
}

func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	id, err := feedID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.svc.GetFeed(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) createFeed(w http.ResponseWriter, r *http.Request) {
	var f feeds.Feed
	if err := decodeJSON(r, &f); err != nil {
		h.writeError(w, r, err)
		return
	}
	f.ID = 0
	saved, err := h.svc.SaveFeed(r.Context(), &f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) updateFeed(w http.ResponseWriter, r *http.Request) {
	id, err := feedID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var f feeds.Feed
	if err := decodeJSON(r, &f); err != nil {
		h.writeError(w, r, err)
		return
	}
	f.ID = id
	saved, err := h.svc.SaveFeed(r.Context(), &f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) deleteFeed(w http.ResponseWriter, r *http.Request) {
	id, err := feedID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteFeed(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ReconcileAllMissing(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	failed := make(map[string]string, len(res.Failed))
	for id, ferr := range res.Failed {
		failed[strconv.FormatUint(uint64(id), 10)] = errs.MessageOf(ferr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"checked": res.Checked, "created": res.Created, "failed": failed})
}

func (h *Handler) getAPIKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"api_key": util.MaskSecret(db.GetAPIKey(h.db)), "masked": true})
}

func (h *Handler) regenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := db.RegenerateAPIKey(h.db)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.From(r.Context()).Info().Str("api_key", util.MaskSecret(key)).Msg("🔑 Regenerated API key")
	writeJSON(w, http.StatusOK, map[string]any{"api_key": key, "masked": false})
}

type entryRequest struct {
	Form  submission.Form  `json:"form"`
	Entry submission.Entry `json:"entry"`
	// Hutk is the tracking cookie when the caller forwards it in the body
	// rather than as a cookie.
	Hutk  string           `json:"hutk,omitempty"`
}

func (req entryRequest) hutk(r *http.Request) string {
	if c, err := r.Cookie(HutkCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return req.Hutk
}

func (h *Handler) processEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := h.svc.ProcessEntry(r.Context(), &req.Form, &req.Entry, req.hutk(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) deferEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Entry.FormID == 0 {
		req.Entry.FormID = req.Form.ID
	}
	if err := h.svc.DeferEntry(r.Context(), &req.Entry, req.hutk(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deferred"})
}
