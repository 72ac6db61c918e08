package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/audio"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/cloud"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/index"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/match"
)

const DefaultConfidenceThreshold = 0.8

// Snapshotter supplies the current fingerprint snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*index.Snapshot, error)
}

// Matcher is the local match engine.
type Matcher interface {
	Match(samples []float64, sampleRate int, snap *index.Snapshot, minHashThreshold int) match.Result
}

// Identifier is the cloud fallback.
type Identifier interface {
	Identify(ctx context.Context, sample []byte, territory string) (*cloud.Match, error)
}

// TrackLookup resolves catalog metadata for local matches.
type TrackLookup interface {
	GetTrack(ctx context.Context, id string) (*models.Track, error)
}

type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type Config struct {
	ConfidenceThreshold float64
	EnableCloud         bool
	MinHashThreshold    int
	SampleRate          int
	Channels            int
}

// Input is one captured window.
type Input struct {
	PCM       []byte // s16le
	Territory string // station territory, for PRO routing of cloud matches
}

// Coordinator runs local matching first and the cloud only as a fallback
// when the local confidence is below the threshold.
type Coordinator struct {
	cfg     Config
	index   Snapshotter
	matcher Matcher
	cloud   Identifier
	tracks  TrackLookup
	log     Logger
}

// NewCoordinator wires the detectors. cloudID and tracks may be nil.
func NewCoordinator(cfg Config, idx Snapshotter, matcher Matcher, cloudID Identifier, tracks TrackLookup, log Logger) *Coordinator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.MinHashThreshold <= 0 {
		cfg.MinHashThreshold = match.DefaultMinHashThreshold
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 11025
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Coordinator{cfg: cfg, index: idx, matcher: matcher, cloud: cloudID, tracks: tracks, log: log}
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

// WithConfig returns a coordinator sharing c's index, matcher and cloud
// client but deciding with cfg. A threshold of 0 accepts any local match.
// The cloud stays off when c has no identifier.
func (c *Coordinator) WithConfig(cfg Config) *Coordinator {
	cfg.ConfidenceThreshold = min(max(cfg.ConfidenceThreshold, 0), 1)
	if cfg.MinHashThreshold <= 0 {
		cfg.MinHashThreshold = c.cfg.MinHashThreshold
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = c.cfg.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = c.cfg.Channels
	}
	cfg.EnableCloud = cfg.EnableCloud && c.cloud != nil
	cp := *c
	cp.cfg = cfg
	return &cp
}

// Detect classifies one window. The only error is an unavailable index,
// which prevents any match attempt; every other problem becomes NoMatch.
func (c *Coordinator) Detect(ctx context.Context, in Input) (Result, error) {
	start := time.Now()

	snap, err := c.index.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading fingerprint index: %w", err)
	}

	samples := audio.DecodePCM16(in.PCM, c.cfg.Channels)
	local := c.matcher.Match(samples, c.cfg.SampleRate, snap, c.cfg.MinHashThreshold)

	res := Result{
		LocalConfidence: local.Confidence,
		LocalHashes:     local.HashesMatched,
		LocalReason:     local.Reason,
	}

	if local.Matched && local.Confidence >= c.cfg.ConfidenceThreshold {
		res.Outcome = LocalMatch{
			TrackID:       local.TrackID,
			HashesMatched: local.HashesMatched,
			Confidence:    local.Confidence,
			OffsetMs:      local.OffsetMs,
			Track:         c.lookupTrack(ctx, local.TrackID),
		}
		res.ProcessingTime = time.Since(start)
		return res, nil
	}

	res.Outcome = NoMatch{Reason: noMatchReason(local, c.cfg.ConfidenceThreshold)}

	if c.cfg.EnableCloud && c.cloud != nil && len(in.PCM) > 0 {
		res.CloudAttempted = true
		cm, err := c.identify(ctx, in)
		switch {
		case err != nil:
			res.CloudError = err.Error()
			if !errors.Is(err, cloud.ErrRateLimited) {
				c.log.Warnf("cloud fallback failed: %v", err)
			}
		case cm == nil:
			res.Outcome = NoMatch{Reason: "local: " + noMatchReason(local, c.cfg.ConfidenceThreshold) + "; cloud: no result"}
		default:
			conf := cm.Confidence
			res.CloudConfidence = &conf
			if conf >= c.cfg.ConfidenceThreshold {
				res.Outcome = CloudMatch{Match: *cm}
			} else {
				res.Outcome = NoMatch{Reason: fmt.Sprintf("cloud confidence %.2f below threshold %.2f", conf, c.cfg.ConfidenceThreshold)}
			}
		}
	}

	res.ProcessingTime = time.Since(start)
	return res, nil
}

func (c *Coordinator) identify(ctx context.Context, in Input) (*cloud.Match, error) {
	wav, err := audio.EncodeWAV(in.PCM, c.cfg.SampleRate, c.cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("encoding sample: %w", err)
	}
	return c.cloud.Identify(ctx, wav, in.Territory)
}

func (c *Coordinator) lookupTrack(ctx context.Context, id string) *models.Track {
	if c.tracks == nil || id == "" {
		return nil
	}
	t, err := c.tracks.GetTrack(ctx, id)
	if err != nil {
		c.log.Warnf("track %s matched but lookup failed: %v", id, err)
		return nil
	}
	return t
}

func noMatchReason(local match.Result, threshold float64) string {
	if local.Reason != "" {
		return local.Reason
	}
	return fmt.Sprintf("local confidence %.2f below threshold %.2f", local.Confidence, threshold)
}
