package fingerprint

import "math"

// melody renders a sequence of pure tones, noteDur seconds each.
func melody(sampleRate int, noteDur float64, freqs ...float64) []float64 {
	perNote := int(noteDur * float64(sampleRate))
	out := make([]float64, 0, perNote*len(freqs))
	for _, f := range freqs {
		for i := 0; i < perNote; i++ {
			out = append(out, 0.6*math.Sin(2*math.Pi*f*float64(i)/float64(sampleRate)))
		}
	}
	return out
}
