package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/logging"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind       string        `json:"kind"`
	Message    string        `json:"message"`
	Status     int           `json:"remote_status,omitempty"`
	Details    []errs.Detail `json:"details,omitempty"`
	SupportURL string        `json:"support_url,omitempty"`
	ConnectURL string        `json:"connect_url,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to the HTTP status returned to callers.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Unauthenticated:
		return http.StatusUnauthorized
	case errs.TemporarilyUnavailable:
		return http.StatusServiceUnavailable
	case errs.Validation:
		return http.StatusUnprocessableEntity
	case errs.StateMismatch:
		return http.StatusBadRequest
	case errs.ReconcileFailed, errs.SubmissionFailed, errs.Remote:
		return http.StatusBadGateway
	case errs.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	detail := errorDetail{Kind: kind.String(), Message: errs.MessageOf(err), Status: errs.StatusOf(err)}

	var e *errs.Error
	if errors.As(err, &e) {
		detail.Details = e.Details
		if e.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())))
		}
	}
	switch kind {
	case errs.Unauthenticated:
		detail.ConnectURL = "/api/connect"
	case errs.TemporarilyUnavailable:
		detail.SupportURL = h.cfg.SupportURL
	case errs.Unknown:
		detail.Message = "internal error"
	}

	event := logging.From(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = logging.From(r.Context()).Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorBody{Error: detail})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		e := errs.Wrap(errs.Validation, "api.decode", err)
		e.Message = "Request body is not valid JSON."
		return e
	}
	return nil
}
