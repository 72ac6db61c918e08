package stationdna

import (
	"context"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

type Service interface {
	AddTrack(ctx context.Context, audioPath, title, artist, isrc, proAffiliation string) (string, error)
	GetTrack(ctx context.Context, trackID string) (*models.Track, error)
	ListTracks(ctx context.Context) ([]models.Track, error)
	DeleteTrack(ctx context.Context, trackID string) error

	AddStation(ctx context.Context, name, streamURL, territory string) (string, error)
	ListStations(ctx context.Context) ([]models.Station, error)

	Identify(ctx context.Context, pcm []byte, territory string) (*Identification, error)
	IdentifyFile(ctx context.Context, audioPath, territory string) (*Identification, error)
	IdentifyStream(ctx context.Context, streamURL, territory string) (*Identification, error)

	StartMonitoring(ctx context.Context, stationID string, override *SessionOverride) (string, error)
	StopMonitoring(ctx context.Context, sessionID string) error
	PauseMonitoring(sessionID string) error
	ResumeMonitoring(sessionID string) error
	GetSessionMetrics(sessionID string) (models.SessionMetrics, error)
	ListActiveSessions() []models.SessionMetrics
	GetRecentAttempts(sessionID string) ([]models.CaptureAttempt, error)
	ListDetections(ctx context.Context, stationID string, limit int) ([]models.DetectionRecord, error)
	StopAll(ctx context.Context) error

	Registry() *prometheus.Registry
	Close() error
}

// Storage is the catalog service and detection store.
type Storage interface {
	RegisterTrack(ctx context.Context, t models.Track) (string, error)
	StoreFingerprints(ctx context.Context, entries []models.FingerprintEntry) error
	ListFingerprints(ctx context.Context) ([]models.FingerprintEntry, error)
	CountFingerprints(ctx context.Context, trackID string) (int64, error)
	GetTrack(ctx context.Context, id string) (*models.Track, error)
	ListTracks(ctx context.Context) ([]models.Track, error)
	DeleteTrack(ctx context.Context, id string) error

	AddStation(ctx context.Context, s models.Station) (string, error)
	GetStation(ctx context.Context, id string) (*models.Station, error)
	GetStreamURL(ctx context.Context, stationID string) (string, error)
	ListStations(ctx context.Context) ([]models.Station, error)

	CreateDetectionRecord(ctx context.Context, rec models.DetectionRecord) (string, error)
	ListDetections(ctx context.Context, stationID string, limit int) ([]models.DetectionRecord, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
