package index

import (
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
)

// Posting is one occurrence of a hash in a reference track.
type Posting struct {
	TrackID  string
	OffsetMs uint32
}

// Snapshot is an immutable hash -> postings view of the catalog. It is
// never modified after construction, so any number of sessions can read it
// without locking.
type Snapshot struct {
	postings   map[uint32][]Posting
	entries    int
	tracks     int
	loadedAt   time.Time
	generation uint64
}

// NewSnapshot builds a snapshot from catalog entries.
func NewSnapshot(entries []models.FingerprintEntry, loadedAt time.Time) *Snapshot {
	postings := make(map[uint32][]Posting, len(entries)/4+1)
	tracks := make(map[string]struct{})
	for _, e := range entries {
		postings[e.Hash] = append(postings[e.Hash], Posting{TrackID: e.TrackID, OffsetMs: e.OffsetMs})
		tracks[e.TrackID] = struct{}{}
	}
	return &Snapshot{
		postings: postings,
		entries:  len(entries),
		tracks:   len(tracks),
		loadedAt: loadedAt,
	}
}

// Lookup returns the postings for hash. The returned slice must not be modified.
func (s *Snapshot) Lookup(hash uint32) []Posting {
	if s == nil {
		return nil
	}
	return s.postings[hash]
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.entries
}

func (s *Snapshot) TrackCount() int {
	if s == nil {
		return 0
	}
	return s.tracks
}

func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}
