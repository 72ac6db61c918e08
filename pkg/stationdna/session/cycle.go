package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/audio"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/detect"
)

// cycle runs one capture, detect and persist round and updates the
// loop-owned counters. A panic inside the round counts as a failed capture.
func (s *Session) cycle(ctx context.Context) {
	start := time.Now()
	attempt, err := s.safeRound(ctx, start)
	if ctx.Err() != nil && attempt.Failed() {
		// stopped mid-cycle; the attempt is incomplete
		return
	}
	attempt.DurationMs = time.Since(start).Milliseconds()

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCapture(s.station.ID, attempt.Result, time.Since(start))
	}

	m := &s.metrics
	now := time.Now()
	m.TotalCaptures++
	m.LastCaptureAt = &now
	if attempt.Failed() {
		m.FailedCaptures++
		m.ConsecutiveFailures++
		if err != nil {
			m.LastError = err.Error()
		}
		s.log.Warnf("capture failed (%s), %d consecutive: %v", attempt.Result, m.ConsecutiveFailures, err)
	} else {
		m.SuccessfulCaptures++
		m.ConsecutiveFailures = 0
		if attempt.MatchFound {
			m.MatchesFound++
		}
	}
	s.publish()

	s.observeHealth(attempt)

	if m.ConsecutiveFailures >= s.cfg.MaxConsecutiveFailures {
		s.fail(fmt.Sprintf("%d consecutive capture failures, last: %s", m.ConsecutiveFailures, m.LastError))
	}
}

func (s *Session) safeRound(ctx context.Context, start time.Time) (attempt models.CaptureAttempt, err error) {
	defer func() {
		if r := recover(); r != nil {
			attempt = models.CaptureAttempt{Timestamp: start, Result: models.CaptureProcessingError}
			err = fmt.Errorf("panic in capture cycle: %v", r)
			attempt.ErrorMessage = err.Error()
		}
	}()
	return s.round(ctx, start)
}

func (s *Session) round(ctx context.Context, start time.Time) (models.CaptureAttempt, error) {
	attempt := models.CaptureAttempt{Timestamp: start}

	req := audio.CaptureRequest{
		StreamURL:  s.station.StreamURL,
		Duration:   s.cfg.CaptureDuration,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Timeout:    s.cfg.FFmpegTimeout,
		Retry:      s.cfg.retryPolicy(),
	}
	pcm, err := s.deps.Capturer.Capture(ctx, req)
	if err != nil {
		attempt.Result = audio.FailureReason(err)
		attempt.ErrorMessage = err.Error()
		return attempt, err
	}

	samples := audio.DecodePCM16(pcm, s.cfg.Channels)
	quality := audio.QualityScore(samples)
	attempt.AudioQualityScore = &quality
	if audio.IsSilent(samples) {
		attempt.Result = models.CaptureNoAudio
		attempt.ErrorMessage = "captured window is silent"
		return attempt, errors.New(attempt.ErrorMessage)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordQuality(s.station.ID, quality)
	}

	res, err := s.deps.Detector.Detect(ctx, detect.Input{PCM: pcm, Territory: s.station.Territory})
	if err != nil {
		attempt.Result = models.CaptureProcessingError
		attempt.ErrorMessage = err.Error()
		return attempt, err
	}

	rec := res.Record(detect.RecordInput{
		SessionID:      s.id,
		StationID:      s.station.ID,
		AudioTimestamp: start,
		Duration:       time.Duration(len(samples)) * time.Second / time.Duration(s.cfg.SampleRate),
	})
	if err := ctx.Err(); err != nil {
		attempt.Result = models.CaptureProcessingError
		attempt.ErrorMessage = "stopped before persisting"
		return attempt, err
	}
	if _, err := s.deps.Store.CreateDetectionRecord(ctx, rec); err != nil {
		attempt.Result = models.CaptureProcessingError
		attempt.ErrorMessage = "persisting detection: " + err.Error()
		return attempt, fmt.Errorf("persisting detection: %w", err)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordDetection(s.station.ID, rec.DetectionSource, rec.ConfidenceScore)
	}

	attempt.Result = models.CaptureSuccess
	attempt.MatchFound = res.Matched()
	conf := res.Confidence()
	attempt.MatchConfidence = &conf
	attempt.TrackID = res.TrackID()
	if attempt.MatchFound {
		s.log.Infof("detected %q by %q via %s (%.2f)", rec.DetectedTitle, rec.DetectedArtist, rec.DetectionSource, conf)
	} else {
		s.log.Debugf("no match: %v", rec.RawMetadata["reason"])
	}
	return attempt, nil
}

func (s *Session) observeHealth(a models.CaptureAttempt) {
	if s.deps.Health == nil {
		return
	}
	as := s.deps.Health.Record(s.id, s.station.ID, a)
	if !as.Evaluated {
		return
	}
	switch st := s.Status(); {
	case as.Degraded && st == models.StatusActive:
		_ = s.transition(models.StatusHealthCheckFailed, models.StatusActive)
	case !as.Degraded && st == models.StatusHealthCheckFailed:
		_ = s.transition(models.StatusActive, models.StatusHealthCheckFailed)
	}
}

func (s *Session) fail(reason string) {
	if err := s.transition(models.StatusError); err != nil {
		return
	}
	s.log.Errorf("session %s entering error: %s", s.id, reason)
	s.metrics.LastError = reason
	s.publish()
	if s.deps.Health != nil {
		s.deps.Health.Raise(models.Alert{
			Type:      models.AlertSessionError,
			SessionID: s.id,
			StationID: s.station.ID,
			Message:   reason,
			Value:     float64(s.metrics.ConsecutiveFailures),
		})
	}
}

// publish stores a copy of the loop-owned counters for readers.
func (s *Session) publish() {
	m := s.metrics
	if m.LastCaptureAt != nil {
		t := *m.LastCaptureAt
		m.LastCaptureAt = &t
	}
	m.Status = s.Status()
	s.snapshot.Store(&m)
}
