package audio

import "math"

// DefaultLevelGain scales the raw RMS of speech-level input into a range
// that is useful for a volume meter.
const DefaultLevelGain = 5.0

// Level returns the root-mean-square of samples multiplied by gain and
// clamped to [0, 1]. It is meant for visualisation only. An empty frame has
// level 0.
func Level(samples []float32, gain float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return min(max(rms*gain, 0), 1)
}
