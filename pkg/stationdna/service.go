package stationdna

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/alert"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/audio"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/cloud"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/detect"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/fingerprint"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/health"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/index"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/match"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/metrics"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/monitor"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/session"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/storage"
	"github.com/himanishpuri/StationDNA/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
)

// stationService is the default implementation of the Service interface.
type stationService struct {
	config   *Config
	storage  Storage
	log      Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	index    *index.Index
	detector *detect.Coordinator
	cloud    *cloud.Client
	capturer audio.Capturer
	health   *health.Monitor
	monitor  *monitor.Manager
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Monitor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	log := cfg.Logger

	var stor Storage
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		db, err := storage.NewDBClientWithPath(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		stor = db
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := metrics.NewMetrics(reg)
	if err != nil {
		stor.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	s := &stationService{
		config:   cfg,
		storage:  stor,
		log:      log,
		registry: reg,
		metrics:  m,
	}

	mc := cfg.Monitor
	s.index = index.New(stor, index.Config{
		RefreshInterval: mc.IndexRefreshInterval,
		WaitBound:       mc.IndexWaitBound,
	}, log)
	s.index.OnRefresh(m.RecordIndexRefresh)

	var identifier detect.Identifier
	if cfg.Cloud != nil && cfg.Cloud.AccessKey != "" {
		s.cloud = cloud.NewClient(*cfg.Cloud, log)
		s.cloud.OnCall(m.RecordCloudCall)
		identifier = s.cloud
	} else if mc.EnableHybridDetection {
		log.Infof("cloud fallback disabled: no ACRCloud credentials")
	}

	engine := match.NewEngine()
	engine.ConfidenceDivisor = mc.ConfidenceDivisor
	s.detector = detect.NewCoordinator(detect.Config{
		ConfidenceThreshold: mc.ConfidenceThreshold,
		EnableCloud:         mc.EnableHybridDetection && identifier != nil,
		MinHashThreshold:    mc.MinHashThreshold,
		SampleRate:          mc.SampleRate,
		Channels:            mc.Channels,
	}, s.index, engine, identifier, stor, log)

	if cfg.Capturer != nil {
		s.capturer = cfg.Capturer
	} else {
		s.capturer = &audio.FFmpegCapturer{
			FFmpegPath: cfg.FFmpegPath,
			MaxRetries: mc.MaxRetryAttempts,
			RetryDelay: mc.RetryDelay,
			Log:        log,
		}
	}

	sink := cfg.AlertSink
	if sink == nil {
		sink = alert.LogSink{Log: log}
	}
	counted := alert.Func(func(ctx context.Context, a models.Alert) error {
		m.RecordAlert(a.Type)
		return sink.Publish(ctx, a)
	})
	s.health = health.New(health.Config{DedupTTL: mc.AlertDedupTTL}, counted, log)

	s.monitor = monitor.New(s.newSession, monitor.Options{
		Health: s.health,
		Gauge:  m,
		Log:    log,
	})

	return s, nil
}

func (s *stationService) newSession(st models.Station, cfg session.Config) (*session.Session, error) {
	dc := s.detector.Config()
	dc.ConfidenceThreshold = cfg.ConfidenceThreshold
	dc.EnableCloud = cfg.EnableHybridDetection && s.cloud != nil

	sess, err := session.New(st, cfg, session.Deps{
		Capturer: s.capturer,
		Detector: s.detector.WithConfig(dc),
		Store:    s.storage,
		Health:   s.health,
		Metrics:  s.metrics,
		Log:      s.log,
	})
	if err != nil {
		return nil, err
	}
	if l, ok := s.log.(*logger.Logger); ok {
		sess.WithLogger(l.WithPrefix("[session " + utils.ShortID(sess.ID()) + "]"))
	}
	return sess, nil
}

// AddTrack fingerprints a reference recording and stores it in the catalog.
// Tags read from the file fill in a missing title or artist.
func (s *stationService) AddTrack(ctx context.Context, audioPath, title, artist, isrc, proAffiliation string) (string, error) {
	if meta, err := audio.ReadMetadata(ctx, audioPath); err != nil {
		s.log.Debugf("no metadata for %s: %v", audioPath, err)
	} else {
		title = firstNonEmpty(title, meta.Title)
		artist = firstNonEmpty(artist, meta.Artist)
		isrc = firstNonEmpty(isrc, meta.ISRC)
	}
	if title == "" || artist == "" {
		return "", errors.New("track needs a title and an artist")
	}
	s.log.Infof("Processing track: %s by %s", title, artist)

	wavPath, err := audio.ConvertToMonoWAV(ctx, audioPath, s.config.TempDir, audio.ConvertWAVConfig{
		SampleRate: s.config.Monitor.SampleRate,
		FFmpegPath: s.config.FFmpegPath,
	})
	if err != nil {
		return "", fmt.Errorf("audio conversion failed: %w", err)
	}
	defer os.Remove(wavPath)

	samples, sampleRate, err := audio.ReadWAV(wavPath)
	if err != nil {
		return "", fmt.Errorf("failed to read WAV file: %w", err)
	}
	durationMs := len(samples) * 1000 / sampleRate

	trackID, err := s.storage.RegisterTrack(ctx, models.Track{
		Title:          title,
		Artist:         artist,
		ISRC:           isrc,
		ProAffiliation: strings.ToUpper(proAffiliation),
		DurationMs:     durationMs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to register track: %w", err)
	}

	entries, err := fingerprint.Generator{}.FingerprintSamples(samples, sampleRate, trackID)
	if err != nil {
		s.storage.DeleteTrack(ctx, trackID)
		return "", fmt.Errorf("fingerprinting failed: %w", err)
	}
	s.log.Infof("Generated %s hashes over %s", humanize.Comma(int64(len(entries))), time.Duration(durationMs)*time.Millisecond)

	if err := s.storage.StoreFingerprints(ctx, entries); err != nil {
		s.storage.DeleteTrack(ctx, trackID) // Rollback
		return "", fmt.Errorf("failed to store fingerprints: %w", err)
	}
	s.index.Invalidate()

	s.log.Infof("Successfully added track ID=%s", trackID)
	return trackID, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (s *stationService) GetTrack(ctx context.Context, trackID string) (*models.Track, error) {
	return s.storage.GetTrack(ctx, trackID)
}

func (s *stationService) ListTracks(ctx context.Context) ([]models.Track, error) {
	return s.storage.ListTracks(ctx)
}

// DeleteTrack removes a track and forces the next index read to reload.
func (s *stationService) DeleteTrack(ctx context.Context, trackID string) error {
	if err := s.storage.DeleteTrack(ctx, trackID); err != nil {
		return err
	}
	s.index.Invalidate()
	return nil
}

func (s *stationService) AddStation(ctx context.Context, name, streamURL, territory string) (string, error) {
	kind, err := utils.ClassifyStreamURL(streamURL)
	if err != nil {
		return "", err
	}
	id, err := s.storage.AddStation(ctx, models.Station{Name: name, StreamURL: streamURL, Territory: territory})
	if err != nil {
		return "", err
	}
	s.log.Infof("Added station %s (%s stream)", name, kind)
	return id, nil
}

func (s *stationService) ListStations(ctx context.Context) ([]models.Station, error) {
	return s.storage.ListStations(ctx)
}

// Identify runs one hybrid detection on s16le PCM at the configured rate.
func (s *stationService) Identify(ctx context.Context, pcm []byte, territory string) (*Identification, error) {
	res, err := s.detector.Detect(ctx, detect.Input{PCM: pcm, Territory: territory})
	if err != nil {
		return nil, err
	}
	rec := res.Record(detect.RecordInput{AudioTimestamp: time.Now()})
	s.metrics.RecordDetection("adhoc", rec.DetectionSource, rec.ConfidenceScore)

	id := &Identification{
		Matched:         res.Matched(),
		Source:          rec.DetectionSource,
		Confidence:      rec.ConfidenceScore,
		TrackID:         rec.TrackID,
		Title:           rec.DetectedTitle,
		Artist:          rec.DetectedArtist,
		ISRC:            rec.ISRC,
		ProAffiliation:  rec.ProAffiliation,
		LocalConfidence: res.LocalConfidence,
		LocalHashes:     res.LocalHashes,
		CloudConfidence: res.CloudConfidence,
		CloudError:      res.CloudError,
		ProcessingTime:  res.ProcessingTime,
	}
	if nm, ok := res.Outcome.(detect.NoMatch); ok {
		id.Reason = nm.Reason
	}
	return id, nil
}

// IdentifyFile converts a local recording and identifies it.
func (s *stationService) IdentifyFile(ctx context.Context, audioPath, territory string) (*Identification, error) {
	wavPath, err := audio.ConvertToMonoWAV(ctx, audioPath, s.config.TempDir, audio.ConvertWAVConfig{
		SampleRate: s.config.Monitor.SampleRate,
		FFmpegPath: s.config.FFmpegPath,
	})
	if err != nil {
		return nil, fmt.Errorf("audio conversion failed: %w", err)
	}
	defer os.Remove(wavPath)

	samples, _, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file: %w", err)
	}
	return s.Identify(ctx, audio.EncodePCM16(samples), territory)
}

// IdentifyStream captures one window from a live stream and identifies it.
func (s *stationService) IdentifyStream(ctx context.Context, streamURL, territory string) (*Identification, error) {
	direct, err := utils.ResolveStreamURL(ctx, streamURL)
	if err != nil {
		return nil, err
	}
	mc := s.config.Monitor
	pcm, err := s.capturer.Capture(ctx, audio.CaptureRequest{
		StreamURL:  direct,
		Duration:   mc.CaptureDuration,
		SampleRate: mc.SampleRate,
		Channels:   mc.Channels,
		Timeout:    mc.FFmpegTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("capture failed (%s): %w", audio.FailureReason(err), err)
	}
	s.log.Debugf("captured %s from %s", humanize.Bytes(uint64(len(pcm))), streamURL)
	return s.Identify(ctx, pcm, territory)
}

func (s *stationService) Registry() *prometheus.Registry {
	return s.registry
}

// Close stops every session, waits for pending alerts and closes storage.
func (s *stationService) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Monitor.StopJoinTimeout+5*time.Second)
	defer cancel()

	err := s.StopAll(ctx)
	s.health.Wait()
	return errors.Join(err, s.storage.Close())
}
