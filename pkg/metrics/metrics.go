// Package metrics exposes bridge activity as Prometheus metrics. It
// implements bridge.Observer against its own registry so embedding
// applications never collide with the default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Audio metrics
	FramesTotal     prometheus.Counter
	AudioBytesTotal prometheus.Counter

	// Analysis metrics
	AnalysesTotal      *prometheus.CounterVec
	ValidationFailures prometheus.Counter
	LateEventsDropped  prometheus.Counter
}

// New creates a Metrics instance with all metrics registered on a fresh
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callsensei"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live provider sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total provider sessions by terminal status",
		},
		[]string{"provider", "status"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Provider session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)

	framesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total audio frames sent upstream",
		},
	)

	audioBytesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent upstream",
		},
	)

	analysesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total accepted analysis records by emotion",
		},
		[]string{"emotion"},
	)

	validationFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_validation_failures_total",
			Help:      "Total rejected tool-call payloads",
		},
	)

	lateEventsDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_events_dropped_total",
			Help:      "Total provider events suppressed after teardown began",
		},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesTotal,
		audioBytesTotal,
		analysesTotal,
		validationFailures,
		lateEventsDropped,
	)

	return &Metrics{
		registry:           registry,
		SessionsActive:     sessionsActive,
		SessionsTotal:      sessionsTotal,
		SessionDuration:    sessionDuration,
		FramesTotal:        framesTotal,
		AudioBytesTotal:    audioBytesTotal,
		AnalysesTotal:      analysesTotal,
		ValidationFailures: validationFailures,
		LateEventsDropped:  lateEventsDropped,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted implements bridge.Observer.
func (m *Metrics) SessionStarted(provider string) {
	m.SessionsActive.Inc()
}

// SessionEnded implements bridge.Observer.
func (m *Metrics) SessionEnded(provider string, terminal bridge.Status, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(provider, string(terminal)).Inc()
	m.SessionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// FrameSent implements bridge.Observer.
func (m *Metrics) FrameSent(bytes int) {
	m.FramesTotal.Inc()
	m.AudioBytesTotal.Add(float64(bytes))
}

// AnalysisAccepted implements bridge.Observer.
func (m *Metrics) AnalysisAccepted(emotion bridge.Emotion) {
	m.AnalysesTotal.WithLabelValues(string(emotion)).Inc()
}

// ValidationFailure implements bridge.Observer.
func (m *Metrics) ValidationFailure() {
	m.ValidationFailures.Inc()
}

// LateEventDropped implements bridge.Observer.
func (m *Metrics) LateEventDropped() {
	m.LateEventsDropped.Inc()
}
