package main

import (
	"errors"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna"
)

// AddStationRequest is the request body for POST /api/stations
type AddStationRequest struct {
	Name      string `json:"name"`
	StreamURL string `json:"stream_url"`
	Territory string `json:"territory,omitempty"`
}

func (r *AddStationRequest) Validate() error {
	if r.Name == "" || r.StreamURL == "" {
		return errors.New("name and stream_url are required")
	}
	if r.Territory != "" && len(r.Territory) != 2 {
		return errors.New("territory must be an ISO 3166-1 alpha-2 code")
	}
	return nil
}

// StartMonitoringRequest is the optional body for POST /api/stations/{id}/monitor.
// Omitted fields keep the server defaults; an explicit 0 is applied.
type StartMonitoringRequest struct {
	CaptureIntervalSeconds *float64 `json:"capture_interval_seconds,omitempty"`
	CaptureDurationSeconds *float64 `json:"capture_duration_seconds,omitempty"`
	OverlapSeconds         *float64 `json:"overlap_seconds,omitempty"`
	MaxConsecutiveFailures *int     `json:"max_consecutive_failures,omitempty"`
	FFmpegTimeoutSeconds   *float64 `json:"ffmpeg_timeout_seconds,omitempty"`
	HealthCheckSeconds     *float64 `json:"health_check_interval_seconds,omitempty"`
	MaxRetryAttempts       *int     `json:"max_retry_attempts,omitempty"`
	RetryDelaySeconds      *float64 `json:"retry_delay_seconds,omitempty"`
	ConfidenceThreshold    *float64 `json:"confidence_threshold,omitempty"`
	EnableHybridDetection  *bool    `json:"enable_hybrid_detection,omitempty"`
}

func seconds(v *float64) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v * float64(time.Second))
	return &d
}

func (r *StartMonitoringRequest) Override() *stationdna.SessionOverride {
	if r == nil || *r == (StartMonitoringRequest{}) {
		return nil
	}
	return &stationdna.SessionOverride{
		CaptureInterval:        seconds(r.CaptureIntervalSeconds),
		CaptureDuration:        seconds(r.CaptureDurationSeconds),
		Overlap:                seconds(r.OverlapSeconds),
		MaxConsecutiveFailures: r.MaxConsecutiveFailures,
		FFmpegTimeout:          seconds(r.FFmpegTimeoutSeconds),
		HealthCheckInterval:    seconds(r.HealthCheckSeconds),
		MaxRetryAttempts:       r.MaxRetryAttempts,
		RetryDelay:             seconds(r.RetryDelaySeconds),
		ConfidenceThreshold:    r.ConfidenceThreshold,
		EnableHybridDetection:  r.EnableHybridDetection,
	}
}

type StartMonitoringResponse struct {
	SessionID string `json:"session_id"`
	StationID string `json:"station_id"`
}

// SessionDTO is a session metrics snapshot with the derived rates.
type SessionDTO struct {
	models.SessionMetrics
	SuccessRate float64 `json:"success_rate"`
	MatchRate   float64 `json:"match_rate"`
}

func toSessionDTO(m models.SessionMetrics) SessionDTO {
	return SessionDTO{SessionMetrics: m, SuccessRate: m.SuccessRate(), MatchRate: m.MatchRate()}
}

type ListSessionsResponse struct {
	Sessions []SessionDTO `json:"sessions"`
	Count    int          `json:"count"`
}

type TrackDTO struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Artist         string `json:"artist"`
	ISRC           string `json:"isrc,omitempty"`
	ProAffiliation string `json:"pro_affiliation,omitempty"`
	DurationMs     int    `json:"duration_ms"`
}

func toTrackDTO(t models.Track) TrackDTO {
	return TrackDTO{ID: t.ID, Title: t.Title, Artist: t.Artist, ISRC: t.ISRC, ProAffiliation: t.ProAffiliation, DurationMs: t.DurationMs}
}

type ListTracksResponse struct {
	Tracks []TrackDTO `json:"tracks"`
	Count  int        `json:"count"`
}

type StationDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StreamURL string `json:"stream_url"`
	Territory string `json:"territory,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type ListStationsResponse struct {
	Stations []StationDTO `json:"stations"`
	Count    int          `json:"count"`
}

type DetectionDTO struct {
	ID               string                 `json:"id"`
	SessionID        string                 `json:"session_id"`
	StationID        string                 `json:"station_id"`
	TrackID          string                 `json:"track_id,omitempty"`
	DetectionSource  models.DetectionSource `json:"detection_source"`
	ConfidenceScore  float64                `json:"confidence_score"`
	DetectedTitle    string                 `json:"detected_title,omitempty"`
	DetectedArtist   string                 `json:"detected_artist,omitempty"`
	ISRC             string                 `json:"isrc,omitempty"`
	ProAffiliation   string                 `json:"pro_affiliation,omitempty"`
	AudioTimestamp   time.Time              `json:"audio_timestamp"`
	DurationSeconds  float64                `json:"duration_seconds"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	RawMetadata      map[string]any         `json:"raw_metadata,omitempty"`
}

func toDetectionDTO(r models.DetectionRecord) DetectionDTO {
	return DetectionDTO{
		ID:               r.ID,
		SessionID:        r.SessionID,
		StationID:        r.StationID,
		TrackID:          r.TrackID,
		DetectionSource:  r.DetectionSource,
		ConfidenceScore:  r.ConfidenceScore,
		DetectedTitle:    r.DetectedTitle,
		DetectedArtist:   r.DetectedArtist,
		ISRC:             r.ISRC,
		ProAffiliation:   r.ProAffiliation,
		AudioTimestamp:   r.AudioTimestamp,
		DurationSeconds:  r.DurationSeconds,
		ProcessingTimeMs: r.ProcessingTimeMs,
		RawMetadata:      r.RawMetadata,
	}
}

type ListDetectionsResponse struct {
	Detections []DetectionDTO `json:"detections"`
	Count      int            `json:"count"`
}

type IdentifyResponse struct {
	Matched          bool                   `json:"matched"`
	Source           models.DetectionSource `json:"source"`
	Confidence       float64                `json:"confidence"`
	TrackID          string                 `json:"track_id,omitempty"`
	Title            string                 `json:"title,omitempty"`
	Artist           string                 `json:"artist,omitempty"`
	ISRC             string                 `json:"isrc,omitempty"`
	ProAffiliation   string                 `json:"pro_affiliation,omitempty"`
	LocalConfidence  float64                `json:"local_confidence"`
	LocalHashes      int                    `json:"local_hashes"`
	CloudConfidence  *float64               `json:"cloud_confidence,omitempty"`
	CloudError       string                 `json:"cloud_error,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
}

type AddTrackResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
}

// MessageResponse acknowledges a state change.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
