package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Render loop counters
	Ticks           atomic.Uint64
	FramesDrawn     atomic.Uint64
	FramesUnmatched atomic.Uint64
	KeypointsDrawn  atomic.Uint64
	BonesDrawn      atomic.Uint64
	RenderLatencyUs atomic.Uint64 // Last render pass in microseconds

	// Sessions
	SessionsOpened atomic.Uint64
	SessionsActive atomic.Uint64
	LoadErrors     atomic.Uint64

	// Backend and posture cache
	BackendRequests atomic.Uint64
	BackendErrors   atomic.Uint64
	CacheHits       atomic.Uint64
	CacheMisses     atomic.Uint64
	CacheErrors     atomic.Uint64

	// Clients
	StreamClients atomic.Uint64
	EventClients  atomic.Uint64
	WebRTCClients atomic.Uint64
	WebRTCSent    atomic.Uint64
	WebRTCErrors  atomic.Uint64
	EncodeErrors  atomic.Uint64
	EventsDropped atomic.Uint64

	// Recording state
	RecordingActive  atomic.Uint64 // 0 = inactive, 1 = active
	RecordingFrames  atomic.Uint64
	RecordingBytes   atomic.Uint64
	RecordingDropped atomic.Uint64

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

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "penaltyvision_" + name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Render loop
	m.gauge("render_ticks_total", "Total render loop ticks", &m.Ticks)
	m.gauge("render_frames_drawn_total", "Ticks that drew a posture frame", &m.FramesDrawn)
	m.gauge("render_frames_unmatched_total", "Ticks with no posture frame for the playback time", &m.FramesUnmatched)
	m.gauge("render_keypoints_drawn_total", "Total keypoints drawn", &m.KeypointsDrawn)
	m.gauge("render_bones_drawn_total", "Total bones drawn", &m.BonesDrawn)
	m.gauge("render_latency_us", "Duration of the last render pass in microseconds", &m.RenderLatencyUs)

	// Sessions
	m.gauge("sessions_opened_total", "Total player sessions opened", &m.SessionsOpened)
	m.gauge("sessions_active", "Open player sessions", &m.SessionsActive)
	m.gauge("session_load_errors_total", "Total failed penalty loads", &m.LoadErrors)

	// Backend
	m.gauge("backend_requests_total", "Total requests sent to the penalty backend", &m.BackendRequests)
	m.gauge("backend_errors_total", "Total failed backend requests", &m.BackendErrors)
	m.gauge("posture_cache_hits_total", "Posture cache hits", &m.CacheHits)
	m.gauge("posture_cache_misses_total", "Posture cache misses", &m.CacheMisses)
	m.gauge("posture_cache_errors_total", "Posture cache errors", &m.CacheErrors)

	// Clients
	m.gauge("stream_clients", "Connected MJPEG clients", &m.StreamClients)
	m.gauge("event_clients", "Connected SSE clients", &m.EventClients)
	m.gauge("webrtc_clients", "Connected WebRTC clients", &m.WebRTCClients)
	m.gauge("webrtc_messages_sent_total", "Posture events sent over data channels", &m.WebRTCSent)
	m.gauge("webrtc_errors_total", "Total WebRTC errors", &m.WebRTCErrors)
	m.gauge("encode_errors_total", "Total overlay encode errors", &m.EncodeErrors)
	m.gauge("events_dropped_total", "Events dropped for slow subscribers", &m.EventsDropped)

	// Recording
	m.gauge("recording_active", "Recording active (0=inactive, 1=active)", &m.RecordingActive)
	m.gauge("recording_frames", "Frames written to the current recording", &m.RecordingFrames)
	m.gauge("recording_bytes", "Bytes written to the current recording", &m.RecordingBytes)
	m.gauge("recording_frames_dropped_total", "Frames dropped by the recorder", &m.RecordingDropped)
}

// ObserveTick accounts for one render pass.
func (m *Metrics) ObserveTick(matched bool, keypoints, bones int, took time.Duration) {
	m.Ticks.Add(1)
	if matched {
		m.FramesDrawn.Add(1)
	} else {
		m.FramesUnmatched.Add(1)
	}
	m.KeypointsDrawn.Add(uint64(keypoints))
	m.BonesDrawn.Add(uint64(bones))
	m.RenderLatencyUs.Store(uint64(took.Microseconds()))
}

// Snapshot is a point-in-time copy of the counters served by /api/status.
type Snapshot struct {
	Ticks           uint64 `json:"ticks"`
	FramesDrawn     uint64 `json:"frames_drawn"`
	FramesUnmatched uint64 `json:"frames_unmatched"`
	SessionsActive  uint64 `json:"sessions_active"`
	SessionsOpened  uint64 `json:"sessions_opened"`
	BackendRequests uint64 `json:"backend_requests"`
	BackendErrors   uint64 `json:"backend_errors"`
	CacheHits       uint64 `json:"cache_hits"`
	CacheMisses     uint64 `json:"cache_misses"`
	StreamClients   uint64 `json:"stream_clients"`
	EventClients    uint64 `json:"event_clients"`
	WebRTCClients   uint64 `json:"webrtc_clients"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Ticks:           m.Ticks.Load(),
		FramesDrawn:     m.FramesDrawn.Load(),
		FramesUnmatched: m.FramesUnmatched.Load(),
		SessionsActive:  m.SessionsActive.Load(),
		SessionsOpened:  m.SessionsOpened.Load(),
		BackendRequests: m.BackendRequests.Load(),
		BackendErrors:   m.BackendErrors.Load(),
		CacheHits:       m.CacheHits.Load(),
		CacheMisses:     m.CacheMisses.Load(),
		StreamClients:   m.StreamClients.Load(),
		EventClients:    m.EventClients.Load(),
		WebRTCClients:   m.WebRTCClients.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on a dedicated listener.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
