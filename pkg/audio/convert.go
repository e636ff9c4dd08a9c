package audio

import (
	"log/slog"
	"sync"
)

// FrameConverter resamples capture frames to a fixed target rate. It logs a
// warning on the first rate mismatch so that misconfigured clients are
// visible without flooding the log. Create one per stream; not designed for
// shared use across goroutines.
type FrameConverter struct {
	TargetRate int

	warnedMismatch sync.Once
}

// Convert returns frame resampled to the target rate. If the source rate
// already matches, the frame is returned unchanged (zero allocation). Frames
// with an unknown rate are assumed to already be at the target rate.
func (c *FrameConverter) Convert(frame Frame) Frame {
	if frame.SampleRate == c.TargetRate || frame.SampleRate <= 0 {
		frame.SampleRate = c.TargetRate
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("capture rate differs from target, resampling",
			"from_hz", frame.SampleRate,
			"to_hz", c.TargetRate,
		)
	})

	return Frame{
		Samples:    ResampleMono(frame.Samples, frame.SampleRate, c.TargetRate),
		SampleRate: c.TargetRate,
	}
}

// ResampleMono resamples mono float samples from srcRate to dstRate using
// linear interpolation. If the rates are equal or invalid, the input is
// returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
