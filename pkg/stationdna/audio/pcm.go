package audio

import (
	"encoding/binary"
	"math"
)

// SilenceFloorDBFS is the RMS level below which a window counts as no audio.
const SilenceFloorDBFS = -60.0

// DecodePCM16 converts interleaved little-endian s16 PCM into mono samples
// in [-1, 1], averaging channels. A trailing partial frame is dropped.
func DecodePCM16(data []byte, channels int) []float64 {
	if channels < 1 {
		channels = 1
	}
	frameBytes := 2 * channels
	frames := len(data) / frameBytes
	out := make([]float64, frames)

	const scale = 1.0 / 32768.0
	for i := 0; i < frames; i++ {
		var sum float64
		base := i * frameBytes
		for ch := 0; ch < channels; ch++ {
			s := int16(binary.LittleEndian.Uint16(data[base+2*ch:]))
			sum += float64(s) * scale
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// EncodePCM16 is the inverse of DecodePCM16 for mono samples.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(s*32767))))
	}
	return out
}

// RMS returns the root-mean-square level of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// LevelDBFS returns the RMS level in dBFS, -Inf for digital silence.
func LevelDBFS(samples []float64) float64 {
	rms := RMS(samples)
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// IsSilent reports whether samples carry no detectable energy.
func IsSilent(samples []float64) bool {
	return LevelDBFS(samples) < SilenceFloorDBFS
}

// QualityScore maps the RMS level linearly from the silence floor (0) to
// full scale (1).
func QualityScore(samples []float64) float64 {
	db := LevelDBFS(samples)
	if math.IsInf(db, -1) {
		return 0
	}
	score := (db - SilenceFloorDBFS) / -SilenceFloorDBFS
	return math.Max(0, math.Min(1, score))
}
