// Package metrics exposes Prometheus counters for session events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Session counts teardowns, redirects and refreshes. A nil *Session is
// valid and records nothing.
type Session struct {
	Teardowns  *prometheus.CounterVec
	Redirects  prometheus.Counter
	Refreshes  *prometheus.CounterVec
	AuthErrors *prometheus.CounterVec
}

// NewSession creates the counters and registers them with reg.
func NewSession(reg prometheus.Registerer) *Session {
	m := &Session{
		Teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dairy_console",
			Subsystem: "session",
			Name:      "teardowns_total",
			Help:      "Session teardowns by trigger.",
		}, []string{"reason"}),
		Redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dairy_console",
			Subsystem: "session",
			Name:      "login_redirects_total",
			Help:      "Navigations to the login route.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dairy_console",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Proactive token refresh attempts by outcome.",
		}, []string{"outcome"}),
		AuthErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dairy_console",
			Subsystem: "session",
			Name:      "auth_errors_total",
			Help:      "Responses classified as authorization failures by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.Teardowns, m.Redirects, m.Refreshes, m.AuthErrors)
	}
	return m
}

// Teardown records a session teardown.
func (m *Session) Teardown(reason string) {
	if m == nil {
		return
	}
	m.Teardowns.WithLabelValues(reason).Inc()
}

// Redirect records a navigation to the login route.
func (m *Session) Redirect() {
	if m == nil {
		return
	}
	m.Redirects.Inc()
}

// Refresh records a refresh attempt outcome ("ok", "rejected", "error").
func (m *Session) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

// AuthError records a 401/403 response.
func (m *Session) AuthError(status string) {
	if m == nil {
		return
	}
	m.AuthErrors.WithLabelValues(status).Inc()
}
