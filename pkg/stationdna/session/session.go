package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/audio"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/detect"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/health"
	"github.com/himanishpuri/StationDNA/pkg/utils"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrStopTimeout       = errors.New("session loop did not exit before the join timeout")
	ErrProbeFailed       = errors.New("stream probe failed")
	ErrInvalidConfig     = errors.New("invalid session config")
)

// Detector classifies one captured window.
type Detector interface {
	Detect(ctx context.Context, in detect.Input) (detect.Result, error)
}

// Store persists detection records.
type Store interface {
	CreateDetectionRecord(ctx context.Context, rec models.DetectionRecord) (string, error)
}

// HealthTracker receives every capture attempt.
type HealthTracker interface {
	Record(sessionID, stationID string, a models.CaptureAttempt) health.Assessment
	Raise(a models.Alert) bool
}

// Recorder receives per-cycle metrics.
type Recorder interface {
	RecordCapture(station string, result models.CaptureResult, took time.Duration)
	RecordQuality(station string, score float64)
	RecordDetection(station string, source models.DetectionSource, confidence float64)
	RecordTransition(status models.SessionStatus)
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Deps are the collaborators a session needs. Health and Metrics may be nil.
type Deps struct {
	Capturer audio.Capturer
	Detector Detector
	Store    Store
	Health   HealthTracker
	Metrics  Recorder
	Log      Logger
}

var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.StatusStarting:          {models.StatusActive, models.StatusStopping, models.StatusError},
	models.StatusActive:            {models.StatusPaused, models.StatusHealthCheckFailed, models.StatusStopping, models.StatusError},
	models.StatusPaused:            {models.StatusActive, models.StatusStopping, models.StatusError},
	models.StatusHealthCheckFailed: {models.StatusActive, models.StatusPaused, models.StatusStopping, models.StatusError},
	models.StatusStopping:          {models.StatusStopped, models.StatusError},
}

func canTransition(from, to models.SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session monitors one station. Its counters are written only by its own
// loop goroutine and published to readers as an immutable snapshot.
type Session struct {
	id      string
	station models.Station
	cfg     Config
	deps    Deps
	log     Logger

	transMu sync.Mutex // serializes lifecycle transitions
	status  atomic.Value

	metrics  models.SessionMetrics // loop-owned
	snapshot atomic.Pointer[models.SessionMetrics]

	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

// New creates a session in the starting state. It does not touch the stream.
func New(station models.Station, cfg Config, deps Deps) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if deps.Capturer == nil || deps.Detector == nil || deps.Store == nil {
		return nil, errors.New("session requires a capturer, a detector and a store")
	}
	if station.StreamURL == "" {
		return nil, errors.New("station has no stream URL")
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}

	s := &Session{
		id:      utils.GenerateUUID(),
		station: station,
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.status.Store(models.StatusStarting)
	s.metrics = models.SessionMetrics{
		SessionID: s.id,
		StationID: station.ID,
		StartedAt: time.Now(),
		Status:    models.StatusStarting,
	}
	s.publish()
	return s, nil
}

// WithLogger replaces the logger before Start.
func (s *Session) WithLogger(log Logger) {
	if log != nil {
		s.log = log
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Station() models.Station { return s.station }
func (s *Session) Config() Config          { return s.cfg }

func (s *Session) Status() models.SessionStatus {
	return s.status.Load().(models.SessionStatus)
}

// Metrics returns a copy of the latest published counters.
func (s *Session) Metrics() models.SessionMetrics {
	m := *s.snapshot.Load()
	if m.LastCaptureAt != nil {
		t := *m.LastCaptureAt
		m.LastCaptureAt = &t
	}
	m.Status = s.Status()
	return m
}

// Done is closed when the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) transition(to models.SessionStatus, allowed ...models.SessionStatus) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	from := s.Status()
	if len(allowed) > 0 && !containsStatus(allowed, from) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.status.Store(to)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTransition(to)
	}
	s.log.Infof("session %s: %s -> %s", utils.ShortID(s.id), from, to)
	return nil
}

func containsStatus(list []models.SessionStatus, s models.SessionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Start probes the stream and launches the capture loop. On probe failure
// the session moves to error and no loop is started.
func (s *Session) Start(ctx context.Context) error {
	if s.Status() != models.StatusStarting {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.Status())
	}

	probe := audio.CaptureRequest{
		StreamURL:  s.station.StreamURL,
		Duration:   s.cfg.ProbeDuration,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Timeout:    s.cfg.ProbeDuration + 10*time.Second,
	}
	if _, err := s.deps.Capturer.Capture(ctx, probe); err != nil {
		s.metrics.LastError = err.Error()
		s.publish()
		_ = s.transition(models.StatusError)
		close(s.done)
		return fmt.Errorf("%w: %s: %v", ErrProbeFailed, s.station.StreamURL, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if err := s.transition(models.StatusActive, models.StatusStarting); err != nil {
		cancel()
		close(s.done)
		return err
	}

	go s.run(loopCtx)
	return nil
}

func (s *Session) Pause() error {
	return s.transition(models.StatusPaused, models.StatusActive, models.StatusHealthCheckFailed)
}

func (s *Session) Resume() error {
	if err := s.transition(models.StatusActive, models.StatusPaused); err != nil {
		return err
	}
	s.nudge()
	return nil
}

// Stop cancels the loop and waits up to the join timeout for it to exit.
// Stopping an already stopped or errored session is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	switch s.Status() {
	case models.StatusStopped, models.StatusError:
		return nil
	case models.StatusStarting:
		return fmt.Errorf("%w: stop while starting", ErrInvalidTransition)
	}

	if err := s.transition(models.StatusStopping); err != nil {
		// The loop moved to error concurrently.
		if s.Status() == models.StatusError {
			return nil
		}
		if s.Status() != models.StatusStopping {
			return err
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.nudge()

	timer := time.NewTimer(s.cfg.StopJoinTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		s.log.Errorf("session %s loop still running %s after stop", utils.ShortID(s.id), s.cfg.StopJoinTimeout)
		return ErrStopTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStopTimeout, ctx.Err())
	}

	if err := s.transition(models.StatusStopped, models.StatusStopping); err != nil {
		// A concurrent Stop finished first, or the loop failed on its way out.
		if st := s.Status(); st == models.StatusStopped || st == models.StatusError {
			return nil
		}
		return err
	}
	return nil
}

func (s *Session) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// sleep waits for d, a stop, or a wake-up. It reports false once the loop should exit.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
		return ctx.Err() == nil
	case <-t.C:
		return true
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	s.log.Infof("monitoring %s (%s) every %s", s.station.Name, s.station.StreamURL, s.cfg.CaptureInterval)

	lastSummary := time.Now()
	for ctx.Err() == nil {
		switch s.Status() {
		case models.StatusPaused:
			if !s.sleep(ctx, s.cfg.CycleGap()) {
				return
			}
			continue
		case models.StatusActive, models.StatusHealthCheckFailed:
		default:
			return
		}

		s.cycle(ctx)
		if s.Status() == models.StatusError {
			return
		}

		if time.Since(lastSummary) >= s.cfg.HealthCheckInterval {
			m := s.Metrics()
			s.log.Infof("health: %d captures, %.1f%% success, %.1f%% matched, %d consecutive failures",
				m.TotalCaptures, m.SuccessRate(), m.MatchRate(), m.ConsecutiveFailures)
			lastSummary = time.Now()
		}

		if !s.sleep(ctx, s.cfg.CycleGap()) {
			return
		}
	}
}
