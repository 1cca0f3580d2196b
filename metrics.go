package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ActionSignIn  = "sign_in"
	ActionSignOut = "sign_out"
	ActionAPICall = "api_call"
)

// Metrics exports auth state and action outcomes. Subscribe it to a
// SessionMirror to track state changes.
type Metrics struct {
	loggedIn     prometheus.Gauge
	stateChanges prometheus.Counter
	actions      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loggedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "acebook",
			Subsystem: "auth",
			Name:      "logged_in",
			Help:      "1 when a user is signed in, 0 otherwise.",
		}),
		stateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acebook",
			Subsystem: "auth",
			Name:      "state_changes_total",
			Help:      "Auth state snapshots published by the session mirror.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acebook",
			Subsystem: "auth",
			Name:      "actions_total",
			Help:      "Sign in and sign out attempts by outcome.",
		}, []string{"action", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}

	return m
}

// OnAuthStateChange implements Listener.
func (m *Metrics) OnAuthStateChange(state AuthState) {
	m.stateChanges.Inc()
	if state.IsLoggedIn {
		m.loggedIn.Set(1)
	} else {
		m.loggedIn.Set(0)
	}
}

// ObserveAction records the outcome of an action.
func (m *Metrics) ObserveAction(action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}

// Collectors returns the logged in gauge, the state change counter and the
// action counter, in that order.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.loggedIn, m.stateChanges, m.actions}
}
