package stationdna

import (
	"context"
	"fmt"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/utils"
)

// StartMonitoring starts a session for a catalog station. Set override
// fields replace the process defaults for this session only.
func (s *stationService) StartMonitoring(ctx context.Context, stationID string, override *SessionOverride) (string, error) {
	st, err := s.storage.GetStation(ctx, stationID)
	if err != nil {
		return "", err
	}

	raw, err := s.storage.GetStreamURL(ctx, stationID)
	if err != nil {
		return "", err
	}
	direct, err := utils.ResolveStreamURL(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("resolving stream for %s: %w", st.Name, err)
	}
	if direct != raw {
		s.log.Infof("resolved %s to a direct stream", raw)
	}
	st.StreamURL = direct

	cfg := mergeSessionConfig(s.config.Monitor.SessionConfig(), override)
	return s.monitor.StartSession(ctx, *st, cfg)
}

func (s *stationService) StopMonitoring(ctx context.Context, sessionID string) error {
	return s.monitor.StopSession(ctx, sessionID)
}

func (s *stationService) PauseMonitoring(sessionID string) error {
	return s.monitor.PauseSession(sessionID)
}

func (s *stationService) ResumeMonitoring(sessionID string) error {
	return s.monitor.ResumeSession(sessionID)
}

func (s *stationService) GetSessionMetrics(sessionID string) (models.SessionMetrics, error) {
	return s.monitor.GetSessionMetrics(sessionID)
}

func (s *stationService) ListActiveSessions() []models.SessionMetrics {
	return s.monitor.ListActiveSessions()
}

// GetRecentAttempts returns the rolling health window of a registered session.
func (s *stationService) GetRecentAttempts(sessionID string) ([]models.CaptureAttempt, error) {
	if _, err := s.monitor.GetSessionMetrics(sessionID); err != nil {
		return nil, err
	}
	return s.health.Recent(sessionID), nil
}

func (s *stationService) ListDetections(ctx context.Context, stationID string, limit int) ([]models.DetectionRecord, error) {
	return s.storage.ListDetections(ctx, stationID, limit)
}

func (s *stationService) StopAll(ctx context.Context) error {
	return s.monitor.StopAll(ctx)
}
