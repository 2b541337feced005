package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bündelt die Pipeline-Metriken mit eigener Registry
type Metrics struct {
	FramesRead       *prometheus.CounterVec
	ReadErrors       *prometheus.CounterVec
	DetectErrors     *prometheus.CounterVec
	EmbedErrors      *prometheus.CounterVec
	Matches          *prometheus.CounterVec
	Suppressed       *prometheus.CounterVec
	PersistErrors    *prometheus.CounterVec
	WorkerState      *prometheus.GaugeVec
	FrameDuration    *prometheus.HistogramVec
	IdentitiesCached prometheus.Gauge

	registry *prometheus.Registry
}

// New erstellt die Metriken und registriert sie
func New() *Metrics {
	m := &Metrics{
		FramesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewatch_frames_read_total",
			Help: "Frames read from camera sources",
		}, []string{"camera_id"}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewatch_read_errors_total",
			Help: "Failed frame source open/read attempts",
		}, []string{"camera_id"}),
		DetectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewatch_detect_errors_total",
			Help: "Frames skipped because detection failed",
		}, []string{"camera_id"}),
		EmbedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewatch_embed_errors_total",
			Help: "Tracks skipped because embedding failed",
		}, []string{"camera_id"}),
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewatch_matches_total",
			Help: "Accepted identity matches that raised an alert",
		}, []string{"camera_id"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewatch_matches_suppressed_total",
			Help: "Accepted matches suppressed by the alert policy",
		}, []string{"camera_id"}),
		PersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewatch_persist_errors_total",
			Help: "Snapshot or detection log write failures",
		}, []string{"camera_id", "kind"}),
		WorkerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "facewatch_worker_state",
			Help: "Camera worker state (1 for the current state)",
		}, []string{"camera_id", "state"}),
		FrameDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facewatch_frame_processing_seconds",
			Help:    "Time spent processing one frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"camera_id"}),
		IdentitiesCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facewatch_identities_cached",
			Help: "Identities in the recognition cache",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesRead, m.ReadErrors, m.DetectErrors, m.EmbedErrors,
		m.Matches, m.Suppressed, m.PersistErrors, m.WorkerState,
		m.FrameDuration, m.IdentitiesCached,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterGaugeFunc registriert einen Wert, der beim Scrape gelesen wird
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// SetWorkerState markiert genau einen Zustand einer Kamera als aktiv
func (m *Metrics) SetWorkerState(cameraID string, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.WorkerState.WithLabelValues(cameraID, s).Set(v)
	}
}

// ForgetCamera entfernt alle Serien einer Kamera
func (m *Metrics) ForgetCamera(cameraID string) {
	labels := prometheus.Labels{"camera_id": cameraID}
	m.FramesRead.DeletePartialMatch(labels)
	m.ReadErrors.DeletePartialMatch(labels)
	m.DetectErrors.DeletePartialMatch(labels)
	m.EmbedErrors.DeletePartialMatch(labels)
	m.Matches.DeletePartialMatch(labels)
	m.Suppressed.DeletePartialMatch(labels)
	m.PersistErrors.DeletePartialMatch(labels)
	m.WorkerState.DeletePartialMatch(labels)
	m.FrameDuration.DeletePartialMatch(labels)
}

// Registry liefert die Registry, z.B. für Tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler liefert den HTTP-Handler für /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
