// Package metrics holds the Prometheus collectors of the bridge.
//
// Label sets are kept small: remote calls are labelled by operation name and
// status class, never by GUID or URL.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	remoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_remote_requests_total",
			Help: "Calls to the remote CRM API by operation and status code.",
		},
		[]string{"op", "status"},
	)

	remoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_remote_request_duration_seconds",
			Help:    "Duration of remote CRM API calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	schemaCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_schema_cache_total",
			Help: "Contact property cache lookups by result.",
		},
		[]string{"result"},
	)

	reconciles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_form_reconcile_total",
			Help: "Remote form reconciliation actions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_submissions_total",
			Help: "Entry submissions by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(tokenRefreshes, remoteRequests, remoteLatency, schemaCache, reconciles, submissions, httpReqs, httpLat)
}

// TokenRefresh records a refresh outcome: success, bad_token, failed, contended.
func TokenRefresh(outcome string) {
	tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RemoteRequest records one remote call. status is 0 for transport errors.
func RemoteRequest(op string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	remoteRequests.WithLabelValues(op, label).Inc()
	remoteLatency.WithLabelValues(op).Observe(d.Seconds())
}

// SchemaCache records a cache hit or miss.
func SchemaCache(hit bool) {
	if hit {
		schemaCache.WithLabelValues("hit").Inc()
		return
	}
	schemaCache.WithLabelValues("miss").Inc()
}

// Reconcile records a create/update/delete against the remote form API.
func Reconcile(action string, err error) {
	reconciles.WithLabelValues(action, outcome(err)).Inc()
}

// Submission records the outcome of dispatching one entry through one feed.
func Submission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
