package match

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/fingerprint"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rate = 11025

func melody(noteDur float64, freqs ...float64) []float64 {
	perNote := int(noteDur * rate)
	out := make([]float64, 0, perNote*len(freqs))
	for _, f := range freqs {
		for i := 0; i < perNote; i++ {
			out = append(out, 0.6*math.Sin(2*math.Pi*f*float64(i)/rate))
		}
	}
	return out
}

var (
	songA = melody(0.25, 440, 660, 550, 880, 330, 990, 440, 770, 600, 500, 700, 350)
	songB = melody(0.25, 1200, 1800, 1500, 2100, 1350, 2400, 1650, 2250)
)

func buildSnapshot(t *testing.T) *index.Snapshot {
	t.Helper()
	g := fingerprint.Generator{}
	a, err := g.FingerprintSamples(songA, rate, "track-a")
	require.NoError(t, err)
	b, err := g.FingerprintSamples(songB, rate, "track-b")
	require.NoError(t, err)
	return index.NewSnapshot(append(a, b...), time.Now())
}

func TestMatchFindsReferenceTrack(t *testing.T) {
	snap := buildSnapshot(t)
	res := NewEngine().Match(songA, rate, snap, DefaultMinHashThreshold)

	assert.True(t, res.Matched)
	assert.Equal(t, "track-a", res.TrackID)
	assert.GreaterOrEqual(t, res.HashesMatched, 20)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.Reason)
}

func TestMatchAlignedExcerpt(t *testing.T) {
	snap := buildSnapshot(t)
	start := 40 * fingerprint.HopSize
	excerpt := songB[start : start+rate]

	res := NewEngine().Match(excerpt, rate, snap, DefaultMinHashThreshold)
	require.True(t, res.Matched, res.Reason)
	assert.Equal(t, "track-b", res.TrackID)
	assert.Greater(t, res.OffsetMs, int32(0))
}

func TestMatchIsDeterministic(t *testing.T) {
	snap := buildSnapshot(t)
	e := NewEngine()
	first := e.Match(songA, rate, snap, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Match(songA, rate, snap, 5))
	}
}

func TestMatchUnknownAudio(t *testing.T) {
	snap := buildSnapshot(t)
	unknown := melody(0.25, 3000, 3600, 3300, 4000)

	res := NewEngine().Match(unknown, rate, snap, DefaultMinHashThreshold)
	assert.False(t, res.Matched)
	assert.NotEmpty(t, res.Reason)
}

func TestMatchSilenceAndEmptyInput(t *testing.T) {
	snap := buildSnapshot(t)
	e := NewEngine()

	for name, samples := range map[string][]float64{
		"nil":     nil,
		"silence": make([]float64, rate*2),
		"tiny":    make([]float64, 3),
	} {
		res := e.Match(samples, rate, snap, 5)
		assert.False(t, res.Matched, name)
		assert.NotEmpty(t, res.Reason, name)
		assert.Zero(t, res.Confidence, name)
	}
}

func TestMatchEmptyIndex(t *testing.T) {
	res := NewEngine().Match(songA, rate, index.NewSnapshot(nil, time.Now()), 5)
	assert.False(t, res.Matched)
	assert.Equal(t, ReasonEmptyIndex, res.Reason)

	res = NewEngine().Match(songA, rate, nil, 5)
	assert.Equal(t, ReasonEmptyIndex, res.Reason)
}

type stubHasher struct {
	hashes []models.HashOffset
	err    error
}

func (s stubHasher) HashSamples([]float64, int) ([]models.HashOffset, error) { return s.hashes, s.err }

func TestMatchBelowThreshold(t *testing.T) {
	snap := index.NewSnapshot([]models.FingerprintEntry{
		{TrackID: "x", Hash: 1, OffsetMs: 1000},
		{TrackID: "x", Hash: 2, OffsetMs: 1100},
		{TrackID: "x", Hash: 3, OffsetMs: 1200},
	}, time.Now())
	e := NewEngine()
	e.Hasher = stubHasher{hashes: []models.HashOffset{{Hash: 1, OffsetMs: 0}, {Hash: 2, OffsetMs: 100}, {Hash: 3, OffsetMs: 200}}}

	res := e.Match(melody(0.5, 440), rate, snap, 5)
	assert.False(t, res.Matched)
	assert.Equal(t, "x", res.TrackID)
	assert.Equal(t, 3, res.HashesMatched)
	assert.InDelta(t, 0.15, res.Confidence, 1e-9)
	assert.Equal(t, ReasonBelowThreshold, res.Reason)

	res = e.Match(melody(0.5, 440), rate, snap, 3)
	assert.True(t, res.Matched)
	assert.Equal(t, int32(1000), res.OffsetMs)
}

func TestMatchTieBreaksByTrackID(t *testing.T) {
	var entries []models.FingerprintEntry
	var query []models.HashOffset
	for i := uint32(0); i < 6; i++ {
		entries = append(entries,
			models.FingerprintEntry{TrackID: "zeta", Hash: i, OffsetMs: i * 100},
			models.FingerprintEntry{TrackID: "alpha", Hash: i, OffsetMs: i * 100})
		query = append(query, models.HashOffset{Hash: i, OffsetMs: i * 100})
	}
	e := NewEngine()
	e.Hasher = stubHasher{hashes: query}

	res := e.Match(melody(0.5, 440), rate, index.NewSnapshot(entries, time.Now()), 5)
	assert.True(t, res.Matched)
	assert.Equal(t, "alpha", res.TrackID)
}

func TestMatchHasherError(t *testing.T) {
	e := NewEngine()
	e.Hasher = stubHasher{err: errors.New("fft exploded")}
	res := e.Match(melody(0.5, 440), rate, buildSnapshot(t), 5)
	assert.False(t, res.Matched)
	assert.Contains(t, res.Reason, "fft exploded")
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(0, 20))
	assert.Equal(t, 0.25, Confidence(5, 20))
	assert.Equal(t, 1.0, Confidence(20, 20))
	assert.Equal(t, 1.0, Confidence(500, 20))

	prev := 0.0
	for h := 0; h <= 100; h++ {
		c := Confidence(h, 20)
		assert.GreaterOrEqual(t, c, prev)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
		prev = c
	}
}

func TestMatchCountsOffsetsAcrossToleranceBoundary(t *testing.T) {
	// Offsets 1048 and 1051 sit either side of a 50ms grid line.
	var entries []models.FingerprintEntry
	var query []models.HashOffset
	for i := uint32(1); i <= 6; i++ {
		ref := i*100 + 1048
		if i%2 == 0 {
			ref = i*100 + 1051
		}
		entries = append(entries, models.FingerprintEntry{TrackID: "straddle", Hash: i, OffsetMs: ref})
		query = append(query, models.HashOffset{Hash: i, OffsetMs: i * 100})
	}
	e := NewEngine()
	e.Hasher = stubHasher{hashes: query}

	res := e.Match(melody(0.5, 440), rate, index.NewSnapshot(entries, time.Now()), 5)
	assert.True(t, res.Matched, res.Reason)
	assert.Equal(t, "straddle", res.TrackID)
	assert.Equal(t, 6, res.HashesMatched)
	assert.Equal(t, int32(1048), res.OffsetMs)
}

func TestDensestWindow(t *testing.T) {
	c := densest("t", map[int32]int{-30: 1, 0: 2, 49: 2, 50: 1, 400: 3}, 50)
	assert.Equal(t, candidate{trackID: "t", offsetMs: 0, count: 4}, c)

	c = densest("t", map[int32]int{10: 1, 11: 1}, 1)
	assert.Equal(t, candidate{trackID: "t", offsetMs: 10, count: 1}, c)
}
