package session

import (
	"errors"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/stationdna/audio"
)

// Config is the per-session capture configuration.
type Config struct {
	CaptureInterval        time.Duration
	CaptureDuration        time.Duration
	Overlap                time.Duration
	MaxConsecutiveFailures int
	FFmpegTimeout          time.Duration
	HealthCheckInterval    time.Duration // how often the loop logs a health summary
	SampleRate             int
	Channels               int
	ProbeDuration          time.Duration
	StopJoinTimeout        time.Duration
	MinCycleGap            time.Duration // floor for interval - overlap, default 1s

	// Zero MaxRetryAttempts keeps the capturer's own retry policy.
	MaxRetryAttempts int
	RetryDelay       time.Duration

	// Detection policy for this session's detector.
	ConfidenceThreshold   float64
	EnableHybridDetection bool
}

func DefaultConfig() Config {
	return Config{
		CaptureInterval:        30 * time.Second,
		CaptureDuration:        20 * time.Second,
		Overlap:                5 * time.Second,
		MaxConsecutiveFailures: 5,
		FFmpegTimeout:          30 * time.Second,
		HealthCheckInterval:    300 * time.Second,
		SampleRate:             11025,
		Channels:               1,
		ProbeDuration:          3 * time.Second,
		StopJoinTimeout:        10 * time.Second,
		MinCycleGap:            time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CaptureInterval <= 0 {
		c.CaptureInterval = d.CaptureInterval
	}
	if c.CaptureDuration <= 0 {
		c.CaptureDuration = d.CaptureDuration
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.FFmpegTimeout <= 0 {
		c.FFmpegTimeout = d.FFmpegTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = d.Channels
	}
	if c.ProbeDuration <= 0 {
		c.ProbeDuration = d.ProbeDuration
	}
	if c.StopJoinTimeout <= 0 {
		c.StopJoinTimeout = d.StopJoinTimeout
	}
	if c.MinCycleGap <= 0 {
		c.MinCycleGap = d.MinCycleGap
	}
	return c
}

// Validate rejects configurations the loop cannot honour.
func (c Config) Validate() error {
	if c.Overlap >= c.CaptureInterval {
		return errors.New("overlap must be shorter than the capture interval")
	}
	if c.FFmpegTimeout <= c.CaptureDuration {
		return errors.New("ffmpeg timeout must exceed the capture duration")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.New("confidence threshold must be in [0,1]")
	}
	if c.MaxRetryAttempts < 0 || c.RetryDelay < 0 {
		return errors.New("retry attempts and delay must not be negative")
	}
	return nil
}

// retryPolicy is nil when the capturer's default applies.
func (c Config) retryPolicy() *audio.RetryPolicy {
	if c.MaxRetryAttempts <= 0 {
		return nil
	}
	return &audio.RetryPolicy{MaxAttempts: c.MaxRetryAttempts, Delay: c.RetryDelay}
}

// CycleGap is the pause between cycles: max(MinCycleGap, interval - overlap).
func (c Config) CycleGap() time.Duration {
	return max(c.MinCycleGap, c.CaptureInterval-c.Overlap)
}
