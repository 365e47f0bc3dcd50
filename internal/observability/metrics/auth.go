// Package metrics exposes Prometheus instrumentation for the identity core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AuthMetrics groups the counters the session service and the update
// broadcaster report.
type AuthMetrics struct {
	SessionsIssued    prometheus.Counter
	SessionsRefreshed prometheus.Counter
	Registrations     *prometheus.CounterVec
	Logins            *prometheus.CounterVec
	BroadcastDispatch *prometheus.CounterVec
	BroadcastFailures *prometheus.CounterVec
}

// NewAuthMetrics creates and registers the auth metric set. A nil registerer
// uses the default registry.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &AuthMetrics{
		SessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ferrite_sessions_issued_total",
			Help: "Sessions issued, across all auth methods.",
		}),
		SessionsRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ferrite_sessions_refreshed_total",
			Help: "Sessions rotated through the refresh flow.",
		}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrite_registrations_total",
			Help: "Successful registrations by auth method.",
		}, []string{"method"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrite_logins_total",
			Help: "Successful logins by auth method.",
		}, []string{"method"}),
		BroadcastDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrite_broadcast_dispatch_total",
			Help: "User-update hook invocations by target method.",
		}, []string{"method"}),
		BroadcastFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrite_broadcast_failures_total",
			Help: "User-update hook failures by target method.",
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.SessionsIssued,
		m.SessionsRefreshed,
		m.Registrations,
		m.Logins,
		m.BroadcastDispatch,
		m.BroadcastFailures,
	)
	return m
}
