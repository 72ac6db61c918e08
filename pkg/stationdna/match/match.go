package match

import (
	"errors"
	"math"
	"slices"
	"sort"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/audio"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/fingerprint"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/index"
)

const (
	DefaultMinHashThreshold  = 5
	DefaultConfidenceDivisor = 20.0
	DefaultOffsetToleranceMs = 50
)

// No-match reasons.
const (
	ReasonNoSamples      = "no usable samples"
	ReasonSilent         = "input is silent"
	ReasonFingerprint    = "fingerprinting failed"
	ReasonNoHashes       = "no hashes extracted"
	ReasonEmptyIndex     = "fingerprint index is empty"
	ReasonNoCandidates   = "no candidate tracks"
	ReasonBelowThreshold = "best candidate below hash threshold"
)

// Hasher is the fingerprinting primitive: mono samples in, hash/offset pairs out.
type Hasher interface {
	HashSamples(samples []float64, sampleRate int) ([]models.HashOffset, error)
}

// Result is the outcome of one local match. Reason is set whenever Matched is false.
type Result struct {
	Matched       bool
	TrackID       string
	HashesMatched int
	Confidence    float64
	OffsetMs      int32 // reference time minus query time of the aligned hashes
	QueryHashes   int
	Reason        string
}

// Engine matches query audio against a fingerprint snapshot by voting on
// (track, time offset) pairs. It holds no mutable state.
type Engine struct {
	Hasher            Hasher
	ConfidenceDivisor float64
	OffsetToleranceMs int
}

func NewEngine() *Engine {
	return &Engine{
		Hasher:            fingerprint.Generator{},
		ConfidenceDivisor: DefaultConfidenceDivisor,
		OffsetToleranceMs: DefaultOffsetToleranceMs,
	}
}

// Confidence maps an aligned hash count to [0,1]: min(1, h/divisor).
func Confidence(hashesMatched int, divisor float64) float64 {
	if hashesMatched <= 0 {
		return 0
	}
	if divisor <= 0 {
		divisor = DefaultConfidenceDivisor
	}
	return math.Min(1.0, float64(hashesMatched)/divisor)
}

// Match never fails: problems with the input or the snapshot are reported
// as a no-match Result with Reason set. Identical input gives identical output.
func (e *Engine) Match(samples []float64, sampleRate int, snap *index.Snapshot, minHashThreshold int) Result {
	if minHashThreshold <= 0 {
		minHashThreshold = DefaultMinHashThreshold
	}
	if len(samples) == 0 || sampleRate <= 0 {
		return Result{Reason: ReasonNoSamples}
	}
	if audio.IsSilent(samples) {
		return Result{Reason: ReasonSilent}
	}
	if snap.Len() == 0 {
		return Result{Reason: ReasonEmptyIndex}
	}

	hashes, err := e.Hasher.HashSamples(samples, sampleRate)
	if err != nil {
		if errors.Is(err, fingerprint.ErrTooShort) || errors.Is(err, fingerprint.ErrEmptySamples) {
			return Result{Reason: ReasonNoSamples}
		}
		return Result{Reason: ReasonFingerprint + ": " + err.Error()}
	}
	if len(hashes) == 0 {
		return Result{Reason: ReasonNoHashes}
	}

	best := e.vote(hashes, snap)
	res := Result{
		TrackID:       best.trackID,
		HashesMatched: best.count,
		OffsetMs:      best.offsetMs,
		QueryHashes:   len(hashes),
		Confidence:    Confidence(best.count, e.ConfidenceDivisor),
	}
	switch {
	case best.count == 0:
		res.TrackID = ""
		res.Reason = ReasonNoCandidates
	case best.count < minHashThreshold:
		res.Reason = ReasonBelowThreshold
	default:
		res.Matched = true
	}
	return res
}

type candidate struct {
	trackID  string
	offsetMs int32
	count    int
}

func (e *Engine) vote(hashes []models.HashOffset, snap *index.Snapshot) candidate {
	tol := int32(e.OffsetToleranceMs)
	if tol <= 0 {
		tol = 1
	}

	// votes[trackID][exact offset] = aligned hashes
	votes := make(map[string]map[int32]int)
	for _, h := range hashes {
		for _, p := range snap.Lookup(h.Hash) {
			offset := int32(p.OffsetMs) - int32(h.OffsetMs)
			m := votes[p.TrackID]
			if m == nil {
				m = make(map[int32]int)
				votes[p.TrackID] = m
			}
			m[offset]++
		}
	}

	tracks := make([]string, 0, len(votes))
	for id := range votes {
		tracks = append(tracks, id)
	}
	sort.Strings(tracks)

	var best candidate
	for _, id := range tracks {
		if c := densest(id, votes[id], tol); better(c, best) {
			best = c
		}
	}
	return best
}

// densest slides a window of width tol over the sorted offsets and returns
// the one holding the most aligned hashes. Ties keep the earliest offset.
func densest(trackID string, counts map[int32]int, tol int32) candidate {
	offsets := make([]int32, 0, len(counts))
	for o := range counts {
		offsets = append(offsets, o)
	}
	slices.Sort(offsets)

	best := candidate{trackID: trackID}
	sum, lo := 0, 0
	for _, o := range offsets {
		sum += counts[o]
		for o-offsets[lo] >= tol {
			sum -= counts[offsets[lo]]
			lo++
		}
		if sum > best.count {
			best.count, best.offsetMs = sum, offsets[lo]
		}
	}
	return best
}

// better orders candidates by count, then track ID, then offset, so the
// winner does not depend on map iteration order.
func better(a, b candidate) bool {
	if a.count != b.count {
		return a.count > b.count
	}
	if b.trackID == "" {
		return true
	}
	if a.trackID != b.trackID {
		return a.trackID < b.trackID
	}
	return a.offsetMs < b.offsetMs
}
