package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCaptureAndDetection(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordCapture("joy-fm", models.CaptureSuccess, 21*time.Second)
	m.RecordCapture("joy-fm", models.CaptureSuccess, 20*time.Second)
	m.RecordCapture("joy-fm", models.CaptureTimeout, 30*time.Second)
	m.RecordDetection("joy-fm", models.SourceLocal, 0.9)
	m.RecordDetection("joy-fm", models.SourceNone, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.capturesTotal.WithLabelValues("joy-fm", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.capturesTotal.WithLabelValues("joy-fm", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detectionsTotal.WithLabelValues("joy-fm", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detectionsTotal.WithLabelValues("joy-fm", "none")))
}

func TestIndexAndSessionGauges(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordIndexRefresh(1200, time.Second, nil)
	m.RecordIndexRefresh(0, time.Second, errors.New("db locked"))
	assert.Equal(t, 1200.0, testutil.ToFloat64(m.indexFingerprints))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.indexRefreshesTotal.WithLabelValues("error")))

	m.SessionRegistered()
	m.SessionRegistered()
	m.SessionRemoved()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))

	m.RecordCloudCall("rate_limited")
	m.RecordAlert(models.AlertHighFailureRate)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cloudRequestsTotal.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("high_failure_rate")))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCapture("x", models.CaptureSuccess, time.Second)
		m.RecordDetection("x", models.SourceLocal, 1)
		m.RecordIndexRefresh(1, time.Second, nil)
		m.SessionRegistered()
		m.RecordTransition(models.StatusActive)
	})
}
