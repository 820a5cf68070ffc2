// Package metrics provides Prometheus metrics for OpenVPN Manager.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for OpenVPN Manager.
type Metrics struct {
	// Connection metrics
	ConnectAttempts *prometheus.CounterVec
	Disconnects     *prometheus.CounterVec
	TunnelUp        prometheus.Gauge

	// OpenVPN output
	LogLines prometheus.Counter

	// Public IP lookups
	PublicIPLookups *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvpn_manager_connect_attempts_total",
			Help: "Connect attempts by result",
		},
		[]string{"result"},
	)

	m.Disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvpn_manager_disconnects_total",
			Help: "Disconnects by termination mode",
		},
		[]string{"mode"},
	)

	m.TunnelUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openvpn_manager_tunnel_up",
			Help: "Whether OpenVPN reported a completed initialization (1 = up)",
		},
	)

	m.LogLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openvpn_manager_log_lines_total",
			Help: "Lines of OpenVPN output captured",
		},
	)

	m.PublicIPLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openvpn_manager_public_ip_lookups_total",
			Help: "Public IP lookups by outcome",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.ConnectAttempts,
		m.Disconnects,
		m.TunnelUp,
		m.LogLines,
		m.PublicIPLookups,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ConnectAttempt counts a connect attempt with its result.
func (m *Metrics) ConnectAttempt(result string) {
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// Disconnected counts a disconnect.
func (m *Metrics) Disconnected(forced bool) {
	mode := "graceful"
	if forced {
		mode = "forced"
	}
	m.Disconnects.WithLabelValues(mode).Inc()
}

// LogLine counts one captured output line.
func (m *Metrics) LogLine() {
	m.LogLines.Inc()
}

// SetTunnelUp sets the tunnel gauge.
func (m *Metrics) SetTunnelUp(up bool) {
	if up {
		m.TunnelUp.Set(1)
	} else {
		m.TunnelUp.Set(0)
	}
}

// PublicIPLookup counts a public IP lookup.
func (m *Metrics) PublicIPLookup(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.PublicIPLookups.WithLabelValues(outcome).Inc()
}
