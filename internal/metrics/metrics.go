package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds scanner session counters
type Metrics struct {
	// Session lifecycle counters
	StartsRequested atomic.Uint64
	StartsSucceeded atomic.Uint64
	StartFailures   atomic.Uint64
	NoCameraErrors  atomic.Uint64
	AccessErrors    atomic.Uint64
	Stops           atomic.Uint64
	Switches        atomic.Uint64
	SwitchFailures  atomic.Uint64

	// Decode counters
	Decodes           atomic.Uint64
	DecodeNoise       atomic.Uint64 // Suppressed per-frame misses
	DecodeDiagnostics atomic.Uint64 // Logged non-fatal decode errors
	PauseFailures     atomic.Uint64 // Capability kept capturing after a decode

	// Cooldown tracking
	Resumes       atomic.Uint64
	StaleResumes  atomic.Uint64 // Cooldown timers that fired after the session moved on
	SessionActive atomic.Uint64 // 0 = idle, 1 = scanning or cooling down

	// Host delivery
	HostSubscribers atomic.Int64
	HostEvents      atomic.Uint64
	HostDropped     atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("qrscan_starts_requested_total", "Start requests received", counter(&m.StartsRequested))
	m.gauge("qrscan_starts_succeeded_total", "Sessions that reached the active state", counter(&m.StartsSucceeded))
	m.gauge("qrscan_start_failures_total", "Capability start failures", counter(&m.StartFailures))
	m.gauge("qrscan_no_camera_errors_total", "Start requests with no camera enumerated", counter(&m.NoCameraErrors))
	m.gauge("qrscan_device_access_errors_total", "Camera enumeration failures", counter(&m.AccessErrors))
	m.gauge("qrscan_stops_total", "Sessions stopped", counter(&m.Stops))
	m.gauge("qrscan_switches_total", "Successful camera switches", counter(&m.Switches))
	m.gauge("qrscan_switch_failures_total", "Failed camera switches", counter(&m.SwitchFailures))

	m.gauge("qrscan_decodes_total", "QR codes decoded and reported", counter(&m.Decodes))
	m.gauge("qrscan_decode_noise_total", "Suppressed per-frame decode misses", counter(&m.DecodeNoise))
	m.gauge("qrscan_decode_diagnostics_total", "Non-fatal decode errors logged", counter(&m.DecodeDiagnostics))
	m.gauge("qrscan_pause_failures_total", "Decodes whose capability pause failed", counter(&m.PauseFailures))

	m.gauge("qrscan_resumes_total", "Scanner resumes after cooldown", counter(&m.Resumes))
	m.gauge("qrscan_stale_resumes_total", "Cooldown timers discarded by the session guard", counter(&m.StaleResumes))
	m.gauge("qrscan_session_active", "Session active (0=idle, 1=active)", counter(&m.SessionActive))

	m.gauge("qrscan_host_subscribers", "Connected host event subscribers",
		func() float64 { return float64(m.HostSubscribers.Load()) })
	m.gauge("qrscan_host_events_total", "Host events published", counter(&m.HostEvents))
	m.gauge("qrscan_host_events_dropped_total", "Host events dropped for slow subscribers", counter(&m.HostDropped))
}

// SetSessionActive records the session flag.
func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.SessionActive.Store(1)
	} else {
		m.SessionActive.Store(0)
	}
}

// AddSubscribers adjusts the host subscriber gauge.
func (m *Metrics) AddSubscribers(delta int64) {
	m.HostSubscribers.Add(delta)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
