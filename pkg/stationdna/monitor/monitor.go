// Package monitor keeps the registry of running station sessions.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/session"
	"github.com/patrickmn/go-cache"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("station already has a running session")
)

const DefaultSnapshotTTL = 30 * time.Second

// Factory builds an unstarted session for a station.
type Factory func(station models.Station, cfg session.Config) (*session.Session, error)

// Forgetter drops per-session health state.
type Forgetter interface {
	Forget(sessionID string)
}

// Gauge tracks the number of registered sessions.
type Gauge interface {
	SessionRegistered()
	SessionRemoved()
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type Options struct {
	SnapshotTTL time.Duration // how long a removed session's last metrics stay readable
	Health      Forgetter
	Gauge       Gauge
	Log         Logger
}

// Manager is the session registry. Writers are serialized by mu; a station
// being started is reserved in pending so a slow probe does not hold the lock.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*session.Session
	byStation map[string]string
	pending   map[string]struct{}

	newSession Factory
	snapshots  *cache.Cache
	opts       Options
}

func New(factory Factory, opts Options) *Manager {
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = DefaultSnapshotTTL
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	return &Manager{
		sessions:   make(map[string]*session.Session),
		byStation:  make(map[string]string),
		pending:    make(map[string]struct{}),
		newSession: factory,
		// expired entries are dropped on read; no janitor goroutine
		snapshots: cache.New(opts.SnapshotTTL, 0),
		opts:      opts,
	}
}

// StartSession creates and starts a session for the station. The session is
// registered only if its start succeeds.
func (m *Manager) StartSession(ctx context.Context, station models.Station, cfg session.Config) (string, error) {
	if err := m.reserve(station.ID); err != nil {
		return "", err
	}
	defer m.release(station.ID)

	s, err := m.newSession(station, cfg)
	if err != nil {
		return "", fmt.Errorf("creating session for %s: %w", station.ID, err)
	}
	if err := s.Start(ctx); err != nil {
		m.opts.Log.Warnf("session for %s failed to start: %v", station.Name, err)
		if m.opts.Health != nil {
			m.opts.Health.Forget(s.ID())
		}
		return "", err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.byStation[station.ID] = s.ID()
	m.mu.Unlock()

	if m.opts.Gauge != nil {
		m.opts.Gauge.SessionRegistered()
	}
	m.opts.Log.Infof("registered session %s for station %s", s.ID(), station.Name)
	return s.ID(), nil
}

func (m *Manager) reserve(stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.pending[stationID]; busy {
		return fmt.Errorf("%w: %s is starting", ErrSessionExists, stationID)
	}
	if id, ok := m.byStation[stationID]; ok {
		if st := m.sessions[id].Status(); !st.Terminal() {
			return fmt.Errorf("%w: %s (%s)", ErrSessionExists, stationID, id)
		}
		// an errored session left in the registry is replaced on restart
		m.dropLocked(id)
	}
	m.pending[stationID] = struct{}{}
	return nil
}

func (m *Manager) release(stationID string) {
	m.mu.Lock()
	delete(m.pending, stationID)
	m.mu.Unlock()
}

func (m *Manager) get(sessionID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// dropLocked removes a session from the registry, keeping its final metrics
// readable for the snapshot TTL. Callers hold mu.
func (m *Manager) dropLocked(sessionID string) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	m.snapshots.Set(sessionID, s.Metrics(), cache.DefaultExpiration)
	delete(m.sessions, sessionID)
	if m.byStation[s.Station().ID] == sessionID {
		delete(m.byStation, s.Station().ID)
	}
	if m.opts.Health != nil {
		m.opts.Health.Forget(sessionID)
	}
	if m.opts.Gauge != nil {
		m.opts.Gauge.SessionRemoved()
	}
}

// StopSession stops a session and removes it from the registry once the stop
// has succeeded. A session whose loop misses the join timeout stays registered.
func (m *Manager) StopSession(ctx context.Context, sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if err := s.Stop(ctx); err != nil {
		m.opts.Log.Warnf("session %s did not stop cleanly: %v", sessionID, err)
		return err
	}

	m.mu.Lock()
	m.dropLocked(sessionID)
	m.mu.Unlock()
	m.opts.Log.Infof("removed session %s", sessionID)
	return nil
}

func (m *Manager) PauseSession(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return s.Pause()
}

func (m *Manager) ResumeSession(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return s.Resume()
}

// GetSessionMetrics returns the live snapshot of a registered session, or
// the last snapshot of a recently removed one.
func (m *Manager) GetSessionMetrics(sessionID string) (models.SessionMetrics, error) {
	if s, err := m.get(sessionID); err == nil {
		return s.Metrics(), nil
	}
	if v, ok := m.snapshots.Get(sessionID); ok {
		return v.(models.SessionMetrics), nil
	}
	return models.SessionMetrics{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

// SessionForStation returns the registered session ID for a station.
func (m *Manager) SessionForStation(stationID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byStation[stationID]
	return id, ok
}

// ListActiveSessions returns a snapshot of every registered session, oldest first.
func (m *Manager) ListActiveSessions() []models.SessionMetrics {
	m.mu.Lock()
	out := make([]models.SessionMetrics, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Metrics())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// StopAll stops every registered session in parallel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.StopSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
				emu.Lock()
				errs = append(errs, fmt.Errorf("stopping %s: %w", id, err))
				emu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}
