// Package metrics provides the Prometheus collectors for the authentication
// service. Collectors register on the default registry; /metrics exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hospital_auth"

var (
	// LoginAttempts counts login attempts by outcome (challenge_issued, authenticated, failed, locked, rate_limited, error).
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Hospital administrator login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// SecondFactor counts second-factor verifications by outcome.
	SecondFactor = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "second_factor_verifications_total",
			Help:      "Second-factor verifications by outcome.",
		},
		[]string{"outcome"},
	)

	// Lockouts counts lockout records created.
	Lockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Accounts locked after repeated failures.",
		},
	)

	// RateLimited counts throttled requests by scope (ip, route class).
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by throttling, by scope.",
		},
		[]string{"scope"},
	)

	// ResetSteps counts password reset steps by step and outcome.
	ResetSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_reset_steps_total",
			Help:      "Password reset steps by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	// TokenRefresh counts refresh attempts by outcome.
	TokenRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Refresh token exchanges by outcome.",
		},
		[]string{"outcome"},
	)

	// Notifications counts notification dispatches by result (sent, failed).
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Security notifications by result.",
		},
		[]string{"result"},
	)

	// AuditDropped counts audit events discarded before reaching the sink.
	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the queue was full or the caller gave up.",
		},
	)

	// HTTPRequests counts requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration is request latency by route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"route"},
	)
)
