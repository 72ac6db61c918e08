package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/patrickmn/go-cache"
)

// Sink receives alerts. Delivery is best effort.
type Sink interface {
	Publish(ctx context.Context, a models.Alert) error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type Config struct {
	Window          time.Duration // attempts older than this are dropped, default 1h
	MaxAttempts     int           // hard cap per session, default 720
	MinAttempts     int           // attempts needed before evaluating, default 5
	RecentAttempts  int           // attempts the failure ratio is computed over, default 10
	FailureRatio    float64       // alert when the ratio reaches this, default 0.7
	DedupTTL        time.Duration // one alert per session and type within this, default 15m
	DeliveryTimeout time.Duration // per-alert sink timeout, default 5s
	Now             func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 720
	}
	if c.MinAttempts <= 0 {
		c.MinAttempts = 5
	}
	if c.RecentAttempts <= 0 {
		c.RecentAttempts = 10
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.7
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 15 * time.Minute
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Assessment is the health verdict after recording an attempt.
type Assessment struct {
	Evaluated    bool    // enough attempts to judge
	FailureRatio float64 // over the most recent attempts
	Degraded     bool    // ratio at or above the threshold
	Alerted      bool    // an alert was raised for this attempt
}

type window struct {
	mu       sync.Mutex
	attempts []models.CaptureAttempt
}

// Monitor keeps a rolling window of capture attempts per session and raises
// deduplicated alerts on sustained failure.
type Monitor struct {
	cfg  Config
	sink Sink
	log  Logger

	mu      sync.Mutex
	windows map[string]*window

	// no janitor: expired keys are dropped lazily by Add and on prune
	dedup    *cache.Cache
	inflight sync.WaitGroup
}

func New(cfg Config, sink Sink, log Logger) *Monitor {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		sink:    sink,
		log:     log,
		windows: make(map[string]*window),
		dedup:   cache.New(cfg.DedupTTL, 0),
	}
}

func (m *Monitor) window(sessionID string) *window {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[sessionID]
	if !ok {
		w = &window{}
		m.windows[sessionID] = w
	}
	return w
}

// Record adds an attempt and evaluates the session's recent failure ratio.
func (m *Monitor) Record(sessionID, stationID string, a models.CaptureAttempt) Assessment {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.cfg.Now()
	}
	w := m.window(sessionID)

	w.mu.Lock()
	w.attempts = append(w.attempts, a)
	w.attempts = prune(w.attempts, m.cfg.Now().Add(-m.cfg.Window), m.cfg.MaxAttempts)
	ratio, n := failureRatio(w.attempts, m.cfg.RecentAttempts)
	w.mu.Unlock()

	var as Assessment
	if n < m.cfg.MinAttempts {
		return as
	}
	as.Evaluated = true
	as.FailureRatio = ratio
	as.Degraded = ratio >= m.cfg.FailureRatio
	if as.Degraded {
		as.Alerted = m.Raise(models.Alert{
			Type:      models.AlertHighFailureRate,
			SessionID: sessionID,
			StationID: stationID,
			Message:   fmt.Sprintf("%.0f%% of the last %d captures failed", ratio*100, n),
			Value:     ratio,
		})
	}
	return as
}

// Raise delivers an alert unless the same type was raised for the session
// within the dedup TTL. It never blocks on the sink.
func (m *Monitor) Raise(a models.Alert) bool {
	if a.RaisedAt.IsZero() {
		a.RaisedAt = m.cfg.Now()
	}
	key := a.SessionID + "|" + string(a.Type)
	if err := m.dedup.Add(key, a.RaisedAt, m.cfg.DedupTTL); err != nil {
		return false
	}

	m.log.Warnf("alert %s for session %s: %s", a.Type, a.SessionID, a.Message)
	if m.sink == nil {
		return true
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DeliveryTimeout)
		defer cancel()
		if err := m.sink.Publish(ctx, a); err != nil {
			m.log.Warnf("alert delivery failed for session %s: %v", a.SessionID, err)
		}
	}()
	return true
}

// Recent returns a copy of the session's attempts, oldest first.
func (m *Monitor) Recent(sessionID string) []models.CaptureAttempt {
	m.mu.Lock()
	w, ok := m.windows[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts = prune(w.attempts, m.cfg.Now().Add(-m.cfg.Window), m.cfg.MaxAttempts)
	out := make([]models.CaptureAttempt, len(w.attempts))
	copy(out, w.attempts)
	return out
}

// Forget drops a session's window once it is removed from the registry.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.windows, sessionID)
	m.mu.Unlock()
	m.dedup.DeleteExpired()
}

// Wait blocks until in-flight alert deliveries finish.
func (m *Monitor) Wait() {
	m.inflight.Wait()
}

func prune(attempts []models.CaptureAttempt, cutoff time.Time, max int) []models.CaptureAttempt {
	start := 0
	for start < len(attempts) && attempts[start].Timestamp.Before(cutoff) {
		start++
	}
	if len(attempts)-start > max {
		start = len(attempts) - max
	}
	if start == 0 {
		return attempts
	}
	return append(attempts[:0], attempts[start:]...)
}

func failureRatio(attempts []models.CaptureAttempt, recent int) (float64, int) {
	if len(attempts) > recent {
		attempts = attempts[len(attempts)-recent:]
	}
	if len(attempts) == 0 {
		return 0, 0
	}
	failed := 0
	for _, a := range attempts {
		if a.Failed() {
			failed++
		}
	}
	return float64(failed) / float64(len(attempts)), len(attempts)
}
