package fingerprint

import (
	"math"
	"sort"

	"github.com/himanishpuri/StationDNA/pkg/models"
)

// pairPeaks walks a time-windowed fan-out: each anchor is paired with up to
// FanOut subsequent peaks that fit the address layout.
func pairPeaks(peaks []Peak, visit func(hash, anchorMs uint32)) {
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].Time < peaks[j].Time })

	for i := 0; i < len(peaks); i++ {
		anchor := peaks[i]
		anchorMs := uint32(math.Round(anchor.Time * 1000.0))
		paired := 0
		for j := i + 1; j < len(peaks) && paired < FanOut; j++ {
			addr, ok := createAddress(anchor, peaks[j])
			if !ok {
				continue
			}
			visit(addr, anchorMs)
			paired++
		}
	}
}

// Hashes derives query hash/offset pairs from peaks.
func Hashes(peaks []Peak) []models.HashOffset {
	out := make([]models.HashOffset, 0, len(peaks)*FanOut)
	pairPeaks(peaks, func(hash, anchorMs uint32) {
		out = append(out, models.HashOffset{Hash: hash, OffsetMs: anchorMs})
	})
	return out
}

// Fingerprint builds catalog entries for a reference track.
func Fingerprint(peaks []Peak, trackID string) []models.FingerprintEntry {
	out := make([]models.FingerprintEntry, 0, len(peaks)*FanOut)
	pairPeaks(peaks, func(hash, anchorMs uint32) {
		out = append(out, models.FingerprintEntry{TrackID: trackID, Hash: hash, OffsetMs: anchorMs})
	})
	return out
}

// Generator is the default fingerprinting primitive: PCM samples in,
// comparable hash/offset pairs out.
type Generator struct {
	WindowSize int
	HopSize    int
}

// HashSamples computes the spectrogram, peaks and hashes of mono samples.
func (g Generator) HashSamples(samples []float64, sampleRate int) ([]models.HashOffset, error) {
	spec, err := ComputeSpectrogram(samples, sampleRate, g.WindowSize, g.HopSize)
	if err != nil {
		return nil, err
	}
	return Hashes(ExtractPeaks(spec, sampleRate)), nil
}

// FingerprintSamples computes catalog entries for a reference recording.
func (g Generator) FingerprintSamples(samples []float64, sampleRate int, trackID string) ([]models.FingerprintEntry, error) {
	spec, err := ComputeSpectrogram(samples, sampleRate, g.WindowSize, g.HopSize)
	if err != nil {
		return nil, err
	}
	return Fingerprint(ExtractPeaks(spec, sampleRate), trackID), nil
}
