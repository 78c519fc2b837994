// Package metrics holds passgate's Prometheus collectors.
//
// Collectors register on the default registry at init; /metrics serves them
// through promhttp.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every passgate metric.
const Namespace = "passgate"

// Label names.
const (
	LabelCeremony    = "ceremony"
	LabelResult      = "result"
	LabelOp          = "op"
	LabelMethod      = "method"
	LabelStatusClass = "status_class"
)

// Ceremony and result values.
const (
	CeremonyRegister = "register"
	CeremonyLogin    = "login"

	ResultOptions = "options"
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLocked  = "locked"
)

// Session operations.
const (
	SessionCreated   = "created"
	SessionValidated = "validated"
	SessionRejected  = "rejected"
	SessionDestroyed = "destroyed"
	SessionRevoked   = "revoked"
	SessionExpired   = "expired"
)

var (
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "WebAuthn ceremonies by kind and result",
		},
		[]string{LabelCeremony, LabelResult},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Session lifecycle operations",
		},
		[]string{LabelOp},
	)

	CSRFRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "csrf_rejections_total",
			Help:      "Mutating requests rejected by the CSRF guard",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status class",
		},
		[]string{LabelMethod, LabelStatusClass},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "realtime_clients",
			Help:      "Connected realtime clients",
		},
	)
)

// RecordCeremony counts one ceremony step.
func RecordCeremony(ceremony, result string) {
	CeremoniesTotal.WithLabelValues(ceremony, result).Inc()
}

// RecordSession counts one session operation.
func RecordSession(op string) {
	SessionsTotal.WithLabelValues(op).Inc()
}

// RecordHTTPRequest counts a finished request.
func RecordHTTPRequest(method string, status int, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, StatusClass(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(seconds)
}

// StatusClass maps 404 to "4xx".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
