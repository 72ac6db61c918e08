package fingerprint

import (
	"math"
	"sort"
)

// Peak is a spectral landmark (constellation point).
type Peak struct {
	TimeIdx int     // frame index in the spectrogram
	FreqIdx int     // frequency bin index
	Time    float64 // seconds
	Freq    float64 // Hz
	MagDB   float64
}

const (
	freqNeighbour = 3 // +/- bins in frequency
	timeNeighbour = 1 // +/- frames in time
	minDbAboveAvg = 3.0
	eps           = 1e-10
)

// bandEdges splits nBins into roughly logarithmic bands: [0,10), [10,20), [20,40) ...
func bandEdges(nBins int) [][2]int {
	bands := [][2]int{{0, min(10, nBins)}}
	for start := 10; start < nBins; start *= 2 {
		end := min(start*2, nBins)
		bands = append(bands, [2]int{start, end})
		if end == nBins {
			break
		}
	}
	return bands
}

// ExtractPeaks picks the strongest bin per band in every frame, keeps it if it
// stands above the frame's average band level and is a local maximum in its
// time/frequency neighbourhood. Peaks are returned sorted by (time, freq).
func ExtractPeaks(spectrogram [][]float64, sampleRate int) []Peak {
	if len(spectrogram) == 0 || len(spectrogram[0]) == 0 {
		return nil
	}

	nFrames := len(spectrogram)
	nBins := len(spectrogram[0])
	freqRes := float64(sampleRate) / float64(WindowSize)
	frameTime := float64(HopSize) / float64(sampleRate)
	bands := bandEdges(nBins)

	peaks := make([]Peak, 0, nFrames*2)
	bandMag := make([]float64, len(bands))
	bandIdx := make([]int, len(bands))

	for t := 0; t < nFrames; t++ {
		frame := spectrogram[t]

		var sumDb float64
		for bi, b := range bands {
			maxMag, maxIdx := 0.0, b[0]
			for i := b[0]; i < b[1]; i++ {
				if frame[i] > maxMag {
					maxMag, maxIdx = frame[i], i
				}
			}
			bandMag[bi], bandIdx[bi] = maxMag, maxIdx
			sumDb += 20.0 * math.Log10(maxMag+eps)
		}
		avgDb := sumDb / float64(len(bands))

		for bi, mag := range bandMag {
			if mag <= 0 {
				continue
			}
			magDb := 20.0 * math.Log10(mag+eps)
			if magDb < avgDb+minDbAboveAvg {
				continue
			}
			bin := bandIdx[bi]
			if !isLocalMax(spectrogram, t, bin, mag) {
				continue
			}
			peaks = append(peaks, Peak{
				TimeIdx: t,
				FreqIdx: bin,
				Time:    float64(t) * frameTime,
				Freq:    float64(bin) * freqRes,
				MagDB:   magDb,
			})
		}
	}

	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].TimeIdx == peaks[j].TimeIdx {
			return peaks[i].FreqIdx < peaks[j].FreqIdx
		}
		return peaks[i].TimeIdx < peaks[j].TimeIdx
	})
	return peaks
}

func isLocalMax(spectrogram [][]float64, t, bin int, mag float64) bool {
	nFrames, nBins := len(spectrogram), len(spectrogram[0])
	for dt := -timeNeighbour; dt <= timeNeighbour; dt++ {
		tIdx := t + dt
		if tIdx < 0 || tIdx >= nFrames {
			continue
		}
		for df := -freqNeighbour; df <= freqNeighbour; df++ {
			fIdx := bin + df
			if fIdx < 0 || fIdx >= nBins || (dt == 0 && df == 0) {
				continue
			}
			if spectrogram[tIdx][fIdx] > mag {
				return false
			}
		}
	}
	return true
}
