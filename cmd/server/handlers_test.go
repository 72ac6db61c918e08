package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService implements stationdna.Service over in-memory maps.
type fakeService struct {
	tracks      map[string]models.Track
	stations    map[string]models.Station
	sessions    map[string]models.SessionMetrics
	detections  []models.DetectionRecord
	startErr    error
	override    *stationdna.SessionOverride
	uploadBody  string
	identifyTer string
	reg         *prometheus.Registry
}

func newFakeService() *fakeService {
	return &fakeService{
		tracks:   map[string]models.Track{"t1": {ID: "t1", Title: "Song", Artist: "Band", DurationMs: 1000}},
		stations: map[string]models.Station{"st1": {ID: "st1", Name: "Radio One", StreamURL: "http://radio.example/live", Territory: "GH"}},
		sessions: map[string]models.SessionMetrics{},
		reg:      prometheus.NewRegistry(),
	}
}

func (f *fakeService) AddTrack(_ context.Context, path, title, artist, isrc, pro string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f.uploadBody = string(b)
	f.tracks["t2"] = models.Track{ID: "t2", Title: title, Artist: artist, ISRC: isrc, ProAffiliation: pro}
	return "t2", nil
}

func (f *fakeService) GetTrack(_ context.Context, id string) (*models.Track, error) {
	t, ok := f.tracks[id]
	if !ok {
		return nil, stationdna.ErrNotFound
	}
	return &t, nil
}

func (f *fakeService) ListTracks(context.Context) ([]models.Track, error) {
	out := make([]models.Track, 0, len(f.tracks))
	for _, t := range f.tracks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeService) DeleteTrack(_ context.Context, id string) error {
	if _, ok := f.tracks[id]; !ok {
		return fmt.Errorf("deleting track %s: %w", id, stationdna.ErrNotFound)
	}
	delete(f.tracks, id)
	return nil
}

func (f *fakeService) AddStation(_ context.Context, name, url, territory string) (string, error) {
	f.stations["st2"] = models.Station{ID: "st2", Name: name, StreamURL: url, Territory: territory}
	return "st2", nil
}

func (f *fakeService) ListStations(context.Context) ([]models.Station, error) {
	out := make([]models.Station, 0, len(f.stations))
	for _, st := range f.stations {
		out = append(out, st)
	}
	return out, nil
}

func (f *fakeService) Identify(context.Context, []byte, string) (*stationdna.Identification, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeService) IdentifyFile(_ context.Context, _ string, territory string) (*stationdna.Identification, error) {
	f.identifyTer = territory
	return &stationdna.Identification{
		Matched: true, Source: models.SourceLocal, Confidence: 0.8, TrackID: "t1",
		Title: "Song", Artist: "Band", LocalHashes: 42, ProcessingTime: 15 * time.Millisecond,
	}, nil
}

func (f *fakeService) IdentifyStream(context.Context, string, string) (*stationdna.Identification, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeService) StartMonitoring(_ context.Context, stationID string, override *stationdna.SessionOverride) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	if _, ok := f.stations[stationID]; !ok {
		return "", stationdna.ErrNotFound
	}
	f.override = override
	f.sessions["s1"] = models.SessionMetrics{SessionID: "s1", StationID: stationID, Status: models.StatusActive, TotalCaptures: 4, SuccessfulCaptures: 3, MatchesFound: 1}
	return "s1", nil
}

func (f *fakeService) StopMonitoring(_ context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return stationdna.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeService) PauseMonitoring(id string) error {
	m, ok := f.sessions[id]
	if !ok {
		return stationdna.ErrSessionNotFound
	}
	if m.Status != models.StatusActive {
		return session.ErrInvalidTransition
	}
	m.Status = models.StatusPaused
	f.sessions[id] = m
	return nil
}

func (f *fakeService) ResumeMonitoring(id string) error {
	m, ok := f.sessions[id]
	if !ok {
		return stationdna.ErrSessionNotFound
	}
	m.Status = models.StatusActive
	f.sessions[id] = m
	return nil
}

func (f *fakeService) GetSessionMetrics(id string) (models.SessionMetrics, error) {
	m, ok := f.sessions[id]
	if !ok {
		return models.SessionMetrics{}, stationdna.ErrSessionNotFound
	}
	return m, nil
}

func (f *fakeService) ListActiveSessions() []models.SessionMetrics {
	out := make([]models.SessionMetrics, 0, len(f.sessions))
	for _, m := range f.sessions {
		out = append(out, m)
	}
	return out
}

func (f *fakeService) GetRecentAttempts(id string) ([]models.CaptureAttempt, error) {
	if _, ok := f.sessions[id]; !ok {
		return nil, stationdna.ErrSessionNotFound
	}
	return []models.CaptureAttempt{{Result: models.CaptureSuccess, MatchFound: true, TrackID: "t1"}}, nil
}

func (f *fakeService) ListDetections(_ context.Context, stationID string, limit int) ([]models.DetectionRecord, error) {
	var out []models.DetectionRecord
	for _, d := range f.detections {
		if stationID == "" || d.StationID == stationID {
			out = append(out, d)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeService) StopAll(context.Context) error  { return nil }
func (f *fakeService) Registry() *prometheus.Registry { return f.reg }
func (f *fakeService) Close() error                   { return nil }

func newTestServer(t *testing.T, svc *fakeService) http.Handler {
	t.Helper()
	s := NewServer(svc, &ServerConfig{TempDir: t.TempDir(), AllowedOrigins: []string{"*"}}, logger.NewNop())
	return s.setupRoutes()
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func multipartBody(t *testing.T, fields map[string]string, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t, newFakeService())
	rec := do(t, h, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestTrackEndpoints(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(t, svc)

	rec := do(t, h, http.MethodGet, "/api/tracks/t1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Song", decode[TrackDTO](t, rec).Title)

	rec = do(t, h, http.MethodGet, "/api/tracks/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body, ct := multipartBody(t, map[string]string{"title": "New", "artist": "Act", "isrc": "GBAAA0000001"}, "RIFFdata")
	rec = do(t, h, http.MethodPost, "/api/tracks", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[AddTrackResponse](t, rec)
	assert.Equal(t, "t2", added.ID)
	assert.Equal(t, "New", added.Title)
	assert.Equal(t, "RIFFdata", svc.uploadBody)
	assert.Equal(t, "GBAAA0000001", svc.tracks["t2"].ISRC)

	rec = do(t, h, http.MethodGet, "/api/tracks", nil, "")
	assert.Equal(t, 2, decode[ListTracksResponse](t, rec).Count)

	rec = do(t, h, http.MethodDelete, "/api/tracks/t1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/tracks/t1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddTrackRequiresFile(t *testing.T) {
	h := newTestServer(t, newFakeService())
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "x"))
	require.NoError(t, mw.Close())

	rec := do(t, h, http.MethodPost, "/api/tracks", buf.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Message, "audio file is required")
}

func TestStationAndMonitoringFlow(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(t, svc)

	rec := do(t, h, http.MethodPost, "/api/stations", []byte(`{"name":"Joy","stream_url":"http://joy.example/live","territory":"GH"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "st2", decode[StationDTO](t, rec).ID)

	rec = do(t, h, http.MethodPost, "/api/stations", []byte(`{"name":"Joy"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/stations/st1/monitor", []byte(`{"capture_interval_seconds":60}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode[StartMonitoringResponse](t, rec)
	assert.Equal(t, "s1", started.SessionID)
	require.NotNil(t, svc.override)
	require.NotNil(t, svc.override.CaptureInterval)
	assert.Equal(t, time.Minute, *svc.override.CaptureInterval)
	assert.Nil(t, svc.override.Overlap)

	rec = do(t, h, http.MethodGet, "/api/stations", nil, "")
	stations := decode[ListStationsResponse](t, rec)
	for _, st := range stations.Stations {
		if st.ID == "st1" {
			assert.Equal(t, "s1", st.SessionID)
		}
	}

	rec = do(t, h, http.MethodGet, "/api/sessions/s1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[map[string]any](t, rec)
	assert.Equal(t, "active", dto["status"])
	assert.InDelta(t, 75.0, dto["success_rate"], 0.01)

	rec = do(t, h, http.MethodPost, "/api/sessions/s1/pause", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/sessions/s1/pause", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/sessions/s1/resume", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sessions/s1/attempts", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/sessions/s1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/sessions/s1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartMonitoringOverrideKeepsExplicitZero(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(t, svc)

	body := `{"capture_interval_seconds":3,"overlap_seconds":0,"confidence_threshold":0.6,"enable_hybrid_detection":false,"max_retry_attempts":1,"retry_delay_seconds":0.5}`
	rec := do(t, h, http.MethodPost, "/api/stations/st1/monitor", []byte(body), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	o := svc.override
	require.NotNil(t, o)
	require.NotNil(t, o.Overlap)
	assert.Zero(t, *o.Overlap)
	assert.Equal(t, 3*time.Second, *o.CaptureInterval)
	assert.InDelta(t, 0.6, *o.ConfidenceThreshold, 1e-9)
	assert.False(t, *o.EnableHybridDetection)
	assert.Equal(t, 1, *o.MaxRetryAttempts)
	assert.Equal(t, 500*time.Millisecond, *o.RetryDelay)
	assert.Nil(t, o.CaptureDuration)
}

func TestStartMonitoringErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{stationdna.ErrSessionExists, http.StatusConflict},
		{fmt.Errorf("probe: %w", session.ErrProbeFailed), http.StatusBadGateway},
		{fmt.Errorf("creating session for st1: %w", session.ErrInvalidConfig), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		svc := newFakeService()
		svc.startErr = tt.err
		h := newTestServer(t, svc)
		rec := do(t, h, http.MethodPost, "/api/stations/st1/monitor", nil, "")
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}

	h := newTestServer(t, newFakeService())
	rec := do(t, h, http.MethodPost, "/api/stations/nope/monitor", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDetections(t *testing.T) {
	svc := newFakeService()
	svc.detections = []models.DetectionRecord{
		{ID: "d1", StationID: "st1", DetectionSource: models.SourceLocal, ConfidenceScore: 0.9},
		{ID: "d2", StationID: "st2", DetectionSource: models.SourceNone},
		{ID: "d3", StationID: "st1", DetectionSource: models.SourceACRCloud, RawMetadata: map[string]any{"acrid": "x"}},
	}
	h := newTestServer(t, svc)

	rec := do(t, h, http.MethodGet, "/api/detections?station_id=st1&limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ListDetectionsResponse](t, rec)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "x", resp.Detections[1].RawMetadata["acrid"])

	rec = do(t, h, http.MethodGet, "/api/detections?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentifyUpload(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(t, svc)

	body, ct := multipartBody(t, map[string]string{"territory": "GH"}, "RIFF")
	rec := do(t, h, http.MethodPost, "/api/identify", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[IdentifyResponse](t, rec)
	assert.True(t, resp.Matched)
	assert.Equal(t, models.SourceLocal, resp.Source)
	assert.Equal(t, int64(15), resp.ProcessingTimeMs)
	assert.Equal(t, "GH", svc.identifyTer)
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newFakeService()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "stationdna_test_total", Help: "test"})
	svc.reg.MustRegister(c)
	c.Inc()

	rec := do(t, newTestServer(t, svc), http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stationdna_test_total 1")
}

func TestCORSPreflight(t *testing.T) {
	s := NewServer(newFakeService(), &ServerConfig{TempDir: t.TempDir(), AllowedOrigins: []string{"http://app.example"}}, logger.NewNop())
	h := s.setupRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/api/tracks", nil)
	req.Header.Set("Origin", "http://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	assert.Equal(t, "1.2.3.4", getClientIP(req))
	assert.True(t, strings.HasPrefix(getClientIP(req), "1.2.3.4"))
}
