// Package metrics provides Prometheus collectors for the monitoring engine.
package metrics

import (
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. All Record methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	capturesTotal       *prometheus.CounterVec
	captureDuration     *prometheus.HistogramVec
	captureQuality      *prometheus.HistogramVec
	detectionsTotal     *prometheus.CounterVec
	detectionConfidence *prometheus.HistogramVec
	cloudRequestsTotal  *prometheus.CounterVec
	indexRefreshesTotal *prometheus.CounterVec
	indexRefreshSeconds prometheus.Histogram
	indexFingerprints   prometheus.Gauge
	activeSessions      prometheus.Gauge
	sessionTransitions  *prometheus.CounterVec
	alertsTotal         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.capturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationdna_captures_total",
			Help: "Capture cycles by station and result",
		},
		[]string{"station", "result"},
	)
	m.captureDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationdna_capture_duration_seconds",
			Help:    "Wall-clock time of one capture including retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~64s
		},
		[]string{"station"},
	)
	m.captureQuality = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationdna_capture_quality_score",
			Help:    "Audio quality score of successful captures",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"station"},
	)
	m.detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationdna_detections_total",
			Help: "Detection records by station and source",
		},
		[]string{"station", "source"}, // source: local, acrcloud, none
	)
	m.detectionConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationdna_detection_confidence",
			Help:    "Confidence of accepted detections",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"source"},
	)
	m.cloudRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationdna_cloud_requests_total",
			Help: "Cloud recognition calls by outcome",
		},
		[]string{"outcome"}, // match, no_result, rate_limited, error
	)
	m.indexRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationdna_index_refreshes_total",
			Help: "Fingerprint index loads by status",
		},
		[]string{"status"},
	)
	m.indexRefreshSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stationdna_index_refresh_duration_seconds",
		Help:    "Time taken to load the fingerprint index",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	m.indexFingerprints = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stationdna_index_fingerprints",
		Help: "Fingerprints in the current index snapshot",
	})
	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stationdna_active_sessions",
		Help: "Registered monitoring sessions",
	})
	m.sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationdna_session_transitions_total",
			Help: "Session state transitions by target state",
		},
		[]string{"status"},
	)
	m.alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationdna_alerts_total",
			Help: "Alerts raised by type",
		},
		[]string{"type"},
	)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.capturesTotal, m.captureDuration, m.captureQuality,
		m.detectionsTotal, m.detectionConfidence, m.cloudRequestsTotal,
		m.indexRefreshesTotal, m.indexRefreshSeconds, m.indexFingerprints,
		m.activeSessions, m.sessionTransitions, m.alertsTotal,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) RecordCapture(station string, result models.CaptureResult, took time.Duration) {
	if m == nil {
		return
	}
	m.capturesTotal.WithLabelValues(station, string(result)).Inc()
	m.captureDuration.WithLabelValues(station).Observe(took.Seconds())
}

func (m *Metrics) RecordQuality(station string, score float64) {
	if m == nil {
		return
	}
	m.captureQuality.WithLabelValues(station).Observe(score)
}

func (m *Metrics) RecordDetection(station string, source models.DetectionSource, confidence float64) {
	if m == nil {
		return
	}
	m.detectionsTotal.WithLabelValues(station, string(source)).Inc()
	if source != models.SourceNone {
		m.detectionConfidence.WithLabelValues(string(source)).Observe(confidence)
	}
}

func (m *Metrics) RecordCloudCall(outcome string) {
	if m == nil {
		return
	}
	m.cloudRequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordIndexRefresh(entries int, took time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.indexRefreshesTotal.WithLabelValues("error").Inc()
		return
	}
	m.indexRefreshesTotal.WithLabelValues("success").Inc()
	m.indexRefreshSeconds.Observe(took.Seconds())
	m.indexFingerprints.Set(float64(entries))
}

func (m *Metrics) SessionRegistered() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionRemoved() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) RecordTransition(status models.SessionStatus) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) RecordAlert(t models.AlertType) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(string(t)).Inc()
}
