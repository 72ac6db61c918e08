package fingerprint

import "math"

const (
	MaxFreqBits  = 9
	MaxDeltaBits = 14
	FanOut       = 6
	MinDeltaMs   = 10
	MaxDeltaMs   = 15000
)

// createAddress packs anchor/target frequency bins and the delta time into a
// 32-bit key: [ anchorFreq (9) | targetFreq (9) | deltaMs (14) ].
// ok is false when the pair does not fit the layout.
func createAddress(anchor, target Peak) (uint32, bool) {
	anchorFreq := uint32(anchor.FreqIdx)
	targetFreq := uint32(target.FreqIdx)
	deltaMs := uint32(math.Round((target.Time - anchor.Time) * 1000.0))

	if deltaMs < MinDeltaMs || deltaMs > MaxDeltaMs {
		return 0, false
	}

	const (
		maxFreqMask  = uint32(1<<MaxFreqBits) - 1
		maxDeltaMask = uint32(1<<MaxDeltaBits) - 1
	)
	if anchorFreq > maxFreqMask || targetFreq > maxFreqMask || deltaMs > maxDeltaMask {
		return 0, false
	}

	return anchorFreq<<(MaxDeltaBits+MaxFreqBits) | targetFreq<<MaxDeltaBits | deltaMs, true
}

// DecodeAddress splits a packed hash back into its fields.
func DecodeAddress(hash uint32) (anchorFreq, targetFreq, deltaMs uint32) {
	deltaMs = hash & (1<<MaxDeltaBits - 1)
	targetFreq = (hash >> MaxDeltaBits) & (1<<MaxFreqBits - 1)
	anchorFreq = (hash >> (MaxDeltaBits + MaxFreqBits)) & (1<<MaxFreqBits - 1)
	return anchorFreq, targetFreq, deltaMs
}
