package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client-side counters.
type Metrics struct {
	// Settings update outcomes: committed, rolled_back, rejected
	SettingUpdates *prometheus.CounterVec

	// Feature-Access denials by feature
	FeatureDenials *prometheus.CounterVec

	// Kill switch phase transitions by target phase
	KillSwitchTransitions *prometheus.CounterVec

	// Outbound API requests by endpoint and status code ("error" for network failures)
	TransportRequests *prometheus.CounterVec

	// Toggle requests dropped by the debounce guard, by reason
	ToggleDrops *prometheus.CounterVec
}

// New creates the metric set and registers it with reg. A nil reg leaves the
// collectors unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SettingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpnpanel_setting_updates_total",
			Help: "Settings updates by outcome",
		}, []string{"outcome"}),

		FeatureDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpnpanel_feature_denials_total",
			Help: "Feature-Access denials by feature",
		}, []string{"feature"}),

		KillSwitchTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpnpanel_killswitch_transitions_total",
			Help: "Kill switch phase transitions by target phase",
		}, []string{"to"}),

		TransportRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpnpanel_transport_requests_total",
			Help: "Outbound API requests by endpoint and status code",
		}, []string{"endpoint", "code"}),

		ToggleDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpnpanel_toggle_drops_total",
			Help: "Toggle requests dropped by the debounce guard",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SettingUpdates,
			m.FeatureDenials,
			m.KillSwitchTransitions,
			m.TransportRequests,
			m.ToggleDrops,
		)
	}
	return m
}

// Nop returns unregistered metrics for callers that do not export them.
func Nop() *Metrics {
	return New(nil)
}
