// Package stats exposes daemon counters in Prometheus format.
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons for RecordRejected.
const (
	ReasonRateLimit = "rate_limit"
	ReasonCapacity  = "capacity"
)

var (
	// connectionsAccepted counts TCP connections accepted by the listener.
	connectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coffer_connections_accepted_total",
			Help: "Total TCP connections accepted by the daemon",
		},
	)

	// connectionsRejected counts connections closed before the handshake.
	connectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_connections_rejected_total",
			Help: "Total connections rejected before the TLS handshake by reason",
		},
		[]string{"reason"},
	)

	// handshakes counts TLS handshake outcomes.
	handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_handshakes_total",
			Help: "Total TLS handshakes by result",
		},
		[]string{"result"},
	)

	// sessions counts established sessions by authentication outcome.
	sessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_sessions_total",
			Help: "Total established sessions by authentication outcome",
		},
		[]string{"authenticated"},
	)

	// activeSessions tracks sessions currently being served.
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coffer_active_sessions",
			Help: "Number of sessions currently being served",
		},
	)

	// sessionDuration observes how long sessions last. Restore sessions
	// can run for many minutes, so the buckets reach into the hours.
	sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coffer_session_duration_seconds",
			Help:    "Session duration from handshake to close",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	// configReloads counts SIGHUP reload outcomes.
	configReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_config_reloads_total",
			Help: "Total configuration reloads by result",
		},
		[]string{"result"},
	)

	// requests counts protocol requests answered, by operation and status.
	requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_requests_total",
			Help: "Total protocol requests answered by operation and status",
		},
		[]string{"operation", "status"},
	)

	// workerPanics counts panics recovered at the session worker boundary.
	workerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coffer_worker_panics_total",
			Help: "Total panics recovered in session workers",
		},
	)
)

// RecordAccepted increments the accepted-connection counter.
func RecordAccepted() {
	connectionsAccepted.Inc()
}

// RecordRejected increments the rejection counter.
// reason should be one of the Reason constants.
func RecordRejected(reason string) {
	connectionsRejected.WithLabelValues(reason).Inc()
}

// RecordHandshake increments the handshake counter with "ok" or "error".
func RecordHandshake(ok bool) {
	handshakes.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordSessionStart counts an established session and bumps the
// active-session gauge. Pair with RecordSessionEnd.
func RecordSessionStart(authenticated bool) {
	label := "false"
	if authenticated {
		label = "true"
	}
	sessions.WithLabelValues(label).Inc()
	activeSessions.Inc()
}

// RecordSessionEnd drops the active-session gauge and observes the
// session duration measured from start.
func RecordSessionEnd(start time.Time) {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(start).Seconds())
}

// RecordReload increments the reload counter with "ok" or "error".
func RecordReload(ok bool) {
	configReloads.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordRequest counts one answered protocol request.
func RecordRequest(operation, status string) {
	requests.WithLabelValues(operation, status).Inc()
}

// RecordPanic counts one recovered session worker panic.
func RecordPanic() {
	workerPanics.Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
