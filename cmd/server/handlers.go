package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/stationdna"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/session"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service stationdna.Service
	config  *ServerConfig
	log     stationdna.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	TempDir        string
	AllowedOrigins []string
}

func NewServer(service stationdna.Service, config *ServerConfig, log stationdna.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Server{service: service, config: config, log: log}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, stationdna.ErrNotFound), errors.Is(err, stationdna.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, stationdna.ErrSessionExists), errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrProbeFailed):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrStopTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.Errorf("%s: %v", what, err)
	} else {
		s.log.Warnf("%s: %v", what, err)
	}
	s.respondError(w, code, fmt.Sprintf("%s: %v", what, err))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"time":            time.Now().Format(time.RFC3339),
		"active_sessions": len(s.service.ListActiveSessions()),
	})
}

// handleListTracks handles GET /api/tracks
func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.service.ListTracks(r.Context())
	if err != nil {
		s.fail(w, "Failed to list tracks", err)
		return
	}
	dtos := make([]TrackDTO, len(tracks))
	for i, t := range tracks {
		dtos[i] = toTrackDTO(t)
	}
	s.respondJSON(w, http.StatusOK, ListTracksResponse{Tracks: dtos, Count: len(dtos)})
}

// handleGetTrack handles GET /api/tracks/{id}
func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTrack(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "Failed to get track", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toTrackDTO(*t))
}

// handleDeleteTrack handles DELETE /api/tracks/{id}
func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.DeleteTrack(r.Context(), id); err != nil {
		s.fail(w, "Failed to delete track", err)
		return
	}
	s.log.Infof("Deleted track %s", id)
	s.respondJSON(w, http.StatusOK, MessageResponse{Message: "Track deleted successfully", ID: id})
}

// saveUpload copies the multipart "audio" field to a temp file the caller removes.
func (s *Server) saveUpload(r *http.Request, prefix string, maxBytes int64) (string, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return "", fmt.Errorf("parsing form: %w", err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", errors.New("audio file is required")
	}
	defer file.Close()

	tempFile := filepath.Join(s.config.TempDir, fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), filepath.Base(header.Filename)))
	out, err := os.Create(tempFile)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(tempFile)
		return "", fmt.Errorf("saving upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempFile)
		return "", err
	}
	return tempFile, nil
}

// handleAddTrack handles POST /api/tracks (multipart file upload)
func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	tempFile, err := s.saveUpload(r, "upload", 100<<20)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tempFile)

	title, artist := r.FormValue("title"), r.FormValue("artist")
	id, err := s.service.AddTrack(ctx, tempFile, title, artist, r.FormValue("isrc"), r.FormValue("pro_affiliation"))
	if err != nil {
		s.fail(w, "Failed to add track", err)
		return
	}
	t, err := s.service.GetTrack(ctx, id)
	if err == nil {
		title, artist = t.Title, t.Artist
	}

	s.log.Infof("Successfully added track: %s by %s (ID: %s)", title, artist, id)
	s.respondJSON(w, http.StatusCreated, AddTrackResponse{Message: "Track added successfully", ID: id, Title: title, Artist: artist})
}

// handleListStations handles GET /api/stations
func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.service.ListStations(r.Context())
	if err != nil {
		s.fail(w, "Failed to list stations", err)
		return
	}
	running := map[string]string{}
	for _, m := range s.service.ListActiveSessions() {
		if !m.Status.Terminal() {
			running[m.StationID] = m.SessionID
		}
	}
	dtos := make([]StationDTO, len(stations))
	for i, st := range stations {
		dtos[i] = StationDTO{ID: st.ID, Name: st.Name, StreamURL: st.StreamURL, Territory: st.Territory, SessionID: running[st.ID]}
	}
	s.respondJSON(w, http.StatusOK, ListStationsResponse{Stations: dtos, Count: len(dtos)})
}

// handleAddStation handles POST /api/stations
func (s *Server) handleAddStation(w http.ResponseWriter, r *http.Request) {
	var req AddStationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.service.AddStation(r.Context(), req.Name, req.StreamURL, req.Territory)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, StationDTO{ID: id, Name: req.Name, StreamURL: req.StreamURL, Territory: req.Territory})
}

// handleStartMonitoring handles POST /api/stations/{id}/monitor
func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	stationID := r.PathValue("id")

	var req StartMonitoringRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	sessionID, err := s.service.StartMonitoring(ctx, stationID, req.Override())
	if err != nil {
		s.fail(w, "Failed to start monitoring", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, StartMonitoringResponse{SessionID: sessionID, StationID: stationID})
}

// handleListSessions handles GET /api/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all := s.service.ListActiveSessions()
	dtos := make([]SessionDTO, len(all))
	for i, m := range all {
		dtos[i] = toSessionDTO(m)
	}
	s.respondJSON(w, http.StatusOK, ListSessionsResponse{Sessions: dtos, Count: len(dtos)})
}

// handleGetSession handles GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.GetSessionMetrics(r.PathValue("id"))
	if err != nil {
		s.fail(w, "Failed to get session", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSessionDTO(m))
}

// handleStopSession handles DELETE /api/sessions/{id}
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.StopMonitoring(r.Context(), id); err != nil {
		s.fail(w, "Failed to stop session", err)
		return
	}
	s.respondJSON(w, http.StatusOK, MessageResponse{Message: "Session stopped", ID: id})
}

// handlePauseSession handles POST /api/sessions/{id}/pause
func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.PauseMonitoring(id); err != nil {
		s.fail(w, "Failed to pause session", err)
		return
	}
	s.respondJSON(w, http.StatusOK, MessageResponse{Message: "Session paused", ID: id})
}

// handleResumeSession handles POST /api/sessions/{id}/resume
func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.ResumeMonitoring(id); err != nil {
		s.fail(w, "Failed to resume session", err)
		return
	}
	s.respondJSON(w, http.StatusOK, MessageResponse{Message: "Session resumed", ID: id})
}

// handleSessionAttempts handles GET /api/sessions/{id}/attempts
func (s *Server) handleSessionAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.service.GetRecentAttempts(r.PathValue("id"))
	if err != nil {
		s.fail(w, "Failed to get attempts", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"attempts": attempts, "count": len(attempts)})
}

// handleListDetections handles GET /api/detections?station_id=&limit=
func (s *Server) handleListDetections(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	recs, err := s.service.ListDetections(r.Context(), r.URL.Query().Get("station_id"), limit)
	if err != nil {
		s.fail(w, "Failed to list detections", err)
		return
	}
	dtos := make([]DetectionDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toDetectionDTO(rec)
	}
	s.respondJSON(w, http.StatusOK, ListDetectionsResponse{Detections: dtos, Count: len(dtos)})
}

// handleIdentify handles POST /api/identify (multipart file upload)
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	tempFile, err := s.saveUpload(r, "query", 50<<20)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tempFile)

	id, err := s.service.IdentifyFile(ctx, tempFile, r.FormValue("territory"))
	if err != nil {
		s.fail(w, "Failed to identify audio", err)
		return
	}
	s.respondJSON(w, http.StatusOK, IdentifyResponse{
		Matched:          id.Matched,
		Source:           id.Source,
		Confidence:       id.Confidence,
		TrackID:          id.TrackID,
		Title:            id.Title,
		Artist:           id.Artist,
		ISRC:             id.ISRC,
		ProAffiliation:   id.ProAffiliation,
		LocalConfidence:  id.LocalConfidence,
		LocalHashes:      id.LocalHashes,
		CloudConfidence:  id.CloudConfidence,
		CloudError:       id.CloudError,
		Reason:           id.Reason,
		ProcessingTimeMs: id.ProcessingTime.Milliseconds(),
	})
}
