package index

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"golang.org/x/sync/singleflight"
)

// ErrIndexUnavailable is returned when no snapshot has ever been loaded and
// the catalog cannot be read.
var ErrIndexUnavailable = errors.New("fingerprint index unavailable")

// Source is the catalog collaborator the index is loaded from.
type Source interface {
	ListFingerprints(ctx context.Context) ([]models.FingerprintEntry, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]models.FingerprintEntry, error)

func (f SourceFunc) ListFingerprints(ctx context.Context) ([]models.FingerprintEntry, error) {
	return f(ctx)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type Config struct {
	RefreshInterval time.Duration // snapshot lifetime, default 5m
	WaitBound       time.Duration // how long a caller holding a stale snapshot waits for a refresh, default 2s
	LoadTimeout     time.Duration // upper bound on one catalog load, default 30s
	Now             func() time.Time
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.WaitBound <= 0 {
		c.WaitBound = 2 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// RefreshObserver is notified after every catalog load attempt.
type RefreshObserver func(entries int, took time.Duration, err error)

// Index is a lazily refreshed read-through cache over the catalog's
// fingerprints. The current snapshot is swapped atomically; concurrent
// refreshes are coalesced into one catalog load.
type Index struct {
	source   Source
	cfg      Config
	log      Logger
	observer RefreshObserver

	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	group      singleflight.Group
}

func New(source Source, cfg Config, log Logger) *Index {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Index{source: source, cfg: cfg, log: log}
}

// OnRefresh registers an observer. It must be called before the index is shared.
func (ix *Index) OnRefresh(fn RefreshObserver) {
	ix.observer = fn
}

// Invalidate marks the current snapshot stale so the next Snapshot call
// reloads it, e.g. after a track was added or deleted.
func (ix *Index) Invalidate() {
	ix.generation.Add(1)
}

// Current returns the loaded snapshot without triggering a refresh. It may be nil.
func (ix *Index) Current() *Snapshot {
	return ix.current.Load()
}

// Snapshot returns a valid snapshot, refreshing it if it is missing or stale.
// A caller that already has a stale snapshot available waits at most
// WaitBound for the refresh and otherwise gets the stale one.
func (ix *Index) Snapshot(ctx context.Context) (*Snapshot, error) {
	cur := ix.current.Load()
	if cur != nil && !ix.stale(cur) {
		return cur, nil
	}

	ch := ix.group.DoChan("refresh", func() (any, error) {
		return ix.refresh()
	})

	if cur == nil {
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, res.Err)
			}
			return res.Val.(*Snapshot), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, ctx.Err())
		}
	}

	timer := time.NewTimer(ix.cfg.WaitBound)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return cur, nil
		}
		return res.Val.(*Snapshot), nil
	case <-timer.C:
		ix.log.Warnf("index refresh still running after %s, serving snapshot from %s", ix.cfg.WaitBound, cur.LoadedAt().Format(time.RFC3339))
		return cur, nil
	case <-ctx.Done():
		return cur, nil
	}
}

func (ix *Index) stale(s *Snapshot) bool {
	if s.generation != ix.generation.Load() {
		return true
	}
	return ix.cfg.Now().Sub(s.loadedAt) >= ix.cfg.RefreshInterval
}

// refresh runs detached from any caller's context so a cancelled caller does
// not abort a load other callers are waiting on.
func (ix *Index) refresh() (*Snapshot, error) {
	gen := ix.generation.Load()
	ctx, cancel := context.WithTimeout(context.Background(), ix.cfg.LoadTimeout)
	defer cancel()

	start := time.Now()
	entries, err := ix.source.ListFingerprints(ctx)
	took := time.Since(start)
	if ix.observer != nil {
		ix.observer(len(entries), took, err)
	}
	if err != nil {
		if prev := ix.current.Load(); prev != nil {
			ix.log.Warnf("index refresh failed, keeping snapshot from %s: %v", prev.LoadedAt().Format(time.RFC3339), err)
		}
		return nil, err
	}

	snap := NewSnapshot(entries, ix.cfg.Now())
	snap.generation = gen
	ix.current.Store(snap)
	ix.log.Infof("index loaded %d fingerprints for %d tracks in %s", snap.Len(), snap.TrackCount(), took.Round(time.Millisecond))
	return snap, nil
}
