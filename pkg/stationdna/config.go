package stationdna

import (
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/stationdna/alert"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/audio"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/cloud"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/session"
	"github.com/prometheus/client_golang/prometheus"
)

// MonitorConfig holds the process-wide monitoring defaults.
type MonitorConfig struct {
	CaptureInterval        time.Duration
	CaptureDuration        time.Duration
	Overlap                time.Duration
	MaxRetryAttempts       int
	RetryDelay             time.Duration
	HealthCheckInterval    time.Duration
	MaxConsecutiveFailures int
	ConfidenceThreshold    float64
	EnableHybridDetection  bool
	FFmpegTimeout          time.Duration

	SampleRate           int
	Channels             int
	MinHashThreshold     int
	ConfidenceDivisor    float64
	StopJoinTimeout      time.Duration
	IndexRefreshInterval time.Duration
	IndexWaitBound       time.Duration
	AlertDedupTTL        time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CaptureInterval:        30 * time.Second,
		CaptureDuration:        20 * time.Second,
		Overlap:                5 * time.Second,
		MaxRetryAttempts:       3,
		RetryDelay:             5 * time.Second,
		HealthCheckInterval:    300 * time.Second,
		MaxConsecutiveFailures: 5,
		ConfidenceThreshold:    0.8,
		EnableHybridDetection:  true,
		FFmpegTimeout:          30 * time.Second,
		SampleRate:             11025,
		Channels:               1,
		MinHashThreshold:       5,
		ConfidenceDivisor:      20,
		StopJoinTimeout:        10 * time.Second,
		IndexRefreshInterval:   5 * time.Minute,
		IndexWaitBound:         2 * time.Second,
		AlertDedupTTL:          15 * time.Minute,
	}
}

func (c MonitorConfig) Validate() error {
	var errs []error
	if c.CaptureInterval <= 0 || c.CaptureDuration <= 0 {
		errs = append(errs, errors.New("capture interval and duration must be positive"))
	}
	if c.Overlap < 0 || c.Overlap >= c.CaptureInterval {
		errs = append(errs, fmt.Errorf("overlap %s must be in [0, capture interval %s)", c.Overlap, c.CaptureInterval))
	}
	if c.FFmpegTimeout <= c.CaptureDuration {
		errs = append(errs, fmt.Errorf("ffmpeg timeout %s must exceed capture duration %s", c.FFmpegTimeout, c.CaptureDuration))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold %.2f must be in [0,1]", c.ConfidenceThreshold))
	}
	if c.MaxRetryAttempts < 1 {
		errs = append(errs, errors.New("max retry attempts must be at least 1"))
	}
	if c.MaxConsecutiveFailures < 1 {
		errs = append(errs, errors.New("max consecutive failures must be at least 1"))
	}
	if c.MinHashThreshold < 1 || c.ConfidenceDivisor <= 0 {
		errs = append(errs, errors.New("min hash threshold and confidence divisor must be positive"))
	}
	return errors.Join(errs...)
}

// SessionConfig projects the defaults onto a session configuration.
func (c MonitorConfig) SessionConfig() session.Config {
	return session.Config{
		CaptureInterval:        c.CaptureInterval,
		CaptureDuration:        c.CaptureDuration,
		Overlap:                c.Overlap,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		FFmpegTimeout:          c.FFmpegTimeout,
		HealthCheckInterval:    c.HealthCheckInterval,
		SampleRate:             c.SampleRate,
		Channels:               c.Channels,
		StopJoinTimeout:        c.StopJoinTimeout,
		MaxRetryAttempts:       c.MaxRetryAttempts,
		RetryDelay:             c.RetryDelay,
		ConfidenceThreshold:    c.ConfidenceThreshold,
		EnableHybridDetection:  c.EnableHybridDetection,
	}
}

// SessionOverride replaces process defaults for one session. Nil fields
// keep the default, so an explicit zero (e.g. no overlap) is honoured.
type SessionOverride struct {
	CaptureInterval        *time.Duration
	CaptureDuration        *time.Duration
	Overlap                *time.Duration
	MaxConsecutiveFailures *int
	FFmpegTimeout          *time.Duration
	HealthCheckInterval    *time.Duration
	MaxRetryAttempts       *int
	RetryDelay             *time.Duration
	ConfidenceThreshold    *float64
	EnableHybridDetection  *bool

	ProbeDuration   *time.Duration
	StopJoinTimeout *time.Duration
	MinCycleGap     *time.Duration
}

// mergeSessionConfig overlays the set fields of o on base.
func mergeSessionConfig(base session.Config, o *SessionOverride) session.Config {
	if o == nil {
		return base
	}
	set(&base.CaptureInterval, o.CaptureInterval)
	set(&base.CaptureDuration, o.CaptureDuration)
	set(&base.Overlap, o.Overlap)
	set(&base.MaxConsecutiveFailures, o.MaxConsecutiveFailures)
	set(&base.FFmpegTimeout, o.FFmpegTimeout)
	set(&base.HealthCheckInterval, o.HealthCheckInterval)
	set(&base.MaxRetryAttempts, o.MaxRetryAttempts)
	set(&base.RetryDelay, o.RetryDelay)
	set(&base.ConfidenceThreshold, o.ConfidenceThreshold)
	set(&base.EnableHybridDetection, o.EnableHybridDetection)
	set(&base.ProbeDuration, o.ProbeDuration)
	set(&base.StopJoinTimeout, o.StopJoinTimeout)
	set(&base.MinCycleGap, o.MinCycleGap)
	return base
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

type Config struct {
	DBPath     string
	TempDir    string
	FFmpegPath string
	Logger     Logger
	Storage    Storage
	AlertSink  alert.Sink
	Cloud      *cloud.Config
	Monitor    MonitorConfig
	Registry   *prometheus.Registry
	Capturer   audio.Capturer
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithFFmpegPath(path string) Option {
	return func(c *Config) {
		c.FFmpegPath = path
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

// WithAlertSink replaces the default log sink.
func WithAlertSink(sink alert.Sink) Option {
	return func(c *Config) {
		c.AlertSink = sink
	}
}

// WithCloud enables the ACRCloud fallback when credentials are set.
func WithCloud(cfg cloud.Config) Option {
	return func(c *Config) {
		c.Cloud = &cfg
	}
}

func WithMonitorConfig(mc MonitorConfig) Option {
	return func(c *Config) {
		c.Monitor = mc
	}
}

func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = reg
	}
}

// WithCapturer replaces the ffmpeg capturer, mostly for tests.
func WithCapturer(capt audio.Capturer) Option {
	return func(c *Config) {
		c.Capturer = capt
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:     "stationdna.sqlite3",
		TempDir:    "/tmp",
		FFmpegPath: "ffmpeg",
		Monitor:    DefaultMonitorConfig(),
	}
}
