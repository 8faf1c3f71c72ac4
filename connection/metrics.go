package connection

import "github.com/prometheus/client_golang/prometheus"

// Measures is the catalog of Prometheus metrics the connection manager
// updates, adapted from device/metrics.go's Metrics() catalog function
// (there a list of xmetrics.Metric literals registered with a provider;
// here concrete prometheus vectors, since this module depends on
// client_golang directly rather than the wider repo's xmetrics wrapper).
type Measures struct {
	RobotsConnected   prometheus.Gauge
	AppSessions       prometheus.Gauge
	ForwardTotal      *prometheus.CounterVec // label: result (ok, not_authorized, offline)
	RateLimitRejected prometheus.Counter
	WebRTCActive      prometheus.Gauge
	GracePeriods      prometheus.Gauge
}

// NewMeasures registers and returns the relay's connection-manager
// metrics against reg. If reg is nil, a private registry is used so
// tests and multiple Managers in the same process never collide on
// metric registration.
func NewMeasures(reg prometheus.Registerer) Measures {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := Measures{
		RobotsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_robots_connected",
			Help: "Number of robots currently connected.",
		}),
		AppSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_app_sessions",
			Help: "Number of live app WebSocket sessions.",
		}),
		ForwardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_forward_total",
			Help: "Count of forward-command/forward-event attempts by result.",
		}, []string{"result"}),
		RateLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_rate_limit_rejections_total",
			Help: "Count of commands rejected by the rate limiter.",
		}),
		WebRTCActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_webrtc_sessions_active",
			Help: "Number of WebRTC sessions currently in the active slot index.",
		}),
		GracePeriods: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_grace_periods_active",
			Help: "Number of users currently within their reconnect grace period.",
		}),
	}

	reg.MustRegister(m.RobotsConnected, m.AppSessions, m.ForwardTotal, m.RateLimitRejected, m.WebRTCActive, m.GracePeriods)
	return m
}
