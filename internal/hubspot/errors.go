package hubspot

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/errs"
)

// apiErrorBody is the common error envelope of the CRM API.
type apiErrorBody struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Errors   []struct {
		Message   string `json:"message"`
		ErrorType string `json:"errorType"`
		Code      string `json:"code"`
		In        string `json:"in"`
	} `json:"errors"`
}

// parseAPIError maps an unexpected response to a typed error. The message
// comes from the body when present.
func parseAPIError(op string, expected int, resp *http.Response, body []byte) *errs.Error {
	e := &errs.Error{
		Kind:       kindForStatus(resp.StatusCode),
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("Expected response code: %d. Returned response code: %d.", expected, resp.StatusCode),
	}

	var parsed apiErrorBody
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			e.Message = parsed.Message
		}
		e.Reason = parsed.Category
		for _, item := range parsed.Errors {
			code := item.ErrorType
			if code == "" {
				code = item.Code
			}
			e.Details = append(e.Details, errs.Detail{Field: item.In, Message: item.Message, Code: code})
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		e.RetryAfter = ParseRetryDelay(resp.Header)
	}
	return e
}

func kindForStatus(status int) errs.Kind {
	switch {
	case status == http.StatusUnauthorized:
		return errs.Unauthenticated
	case status == http.StatusNotFound:
		return errs.NotFound
	case status == http.StatusTooManyRequests, status >= 500:
		return errs.TemporarilyUnavailable
	default:
		return errs.Remote
	}
}

// ParseRetryDelay reads the Retry-After header as seconds or an HTTP date.
// Returns 0 when absent or unparseable.
func ParseRetryDelay(h http.Header) time.Duration {
	retryAfter := h.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
