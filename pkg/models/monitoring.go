package models

import "time"

// CaptureResult classifies the outcome of one capture cycle.
type CaptureResult string

const (
	CaptureSuccess           CaptureResult = "success"
	CaptureNoAudio           CaptureResult = "no_audio"
	CaptureStreamUnavailable CaptureResult = "stream_unavailable"
	CaptureTimeout           CaptureResult = "timeout"
	CaptureProcessingError   CaptureResult = "processing_error"
)

// CaptureAttempt records one capture cycle. Optional values are pointers.
type CaptureAttempt struct {
	Timestamp         time.Time     `json:"timestamp"`
	Result            CaptureResult `json:"result"`
	DurationMs        int64         `json:"duration_ms"`
	AudioQualityScore *float64      `json:"audio_quality_score,omitempty"`
	MatchFound        bool          `json:"match_found"`
	MatchConfidence   *float64      `json:"match_confidence,omitempty"`
	TrackID           string        `json:"track_id,omitempty"`
	ErrorMessage      string        `json:"error_message,omitempty"`
}

// Failed reports whether the attempt counts as a capture failure.
func (a CaptureAttempt) Failed() bool {
	return a.Result != CaptureSuccess
}

// SessionStatus is the lifecycle state of a monitoring session.
type SessionStatus string

const (
	StatusStarting          SessionStatus = "starting"
	StatusActive            SessionStatus = "active"
	StatusPaused            SessionStatus = "paused"
	StatusStopping          SessionStatus = "stopping"
	StatusStopped           SessionStatus = "stopped"
	StatusError             SessionStatus = "error"
	StatusHealthCheckFailed SessionStatus = "health_check_failed"
)

// Terminal reports whether no further captures happen in this state.
func (s SessionStatus) Terminal() bool {
	return s == StatusStopped || s == StatusError
}

// SessionMetrics is a point-in-time copy of a session's counters.
type SessionMetrics struct {
	SessionID           string        `json:"session_id"`
	StationID           string        `json:"station_id"`
	StartedAt           time.Time     `json:"started_at"`
	LastCaptureAt       *time.Time    `json:"last_capture_at,omitempty"`
	TotalCaptures       int           `json:"total_captures"`
	SuccessfulCaptures  int           `json:"successful_captures"`
	FailedCaptures      int           `json:"failed_captures"`
	MatchesFound        int           `json:"matches_found"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	Status              SessionStatus `json:"status"`
}

// SuccessRate is the percentage of captures that succeeded.
func (m SessionMetrics) SuccessRate() float64 {
	if m.TotalCaptures == 0 {
		return 0
	}
	return float64(m.SuccessfulCaptures) / float64(m.TotalCaptures) * 100
}

// MatchRate is the percentage of successful captures that produced a match.
func (m SessionMetrics) MatchRate() float64 {
	if m.SuccessfulCaptures == 0 {
		return 0
	}
	return float64(m.MatchesFound) / float64(m.SuccessfulCaptures) * 100
}

// AlertType names a class of health alert.
type AlertType string

const (
	AlertHighFailureRate AlertType = "high_failure_rate"
	AlertSessionError    AlertType = "session_error"
)

// Alert is published to the notification sink.
type Alert struct {
	Type      AlertType `json:"type"`
	SessionID string    `json:"session_id"`
	StationID string    `json:"station_id"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	RaisedAt  time.Time `json:"raised_at"`
}
