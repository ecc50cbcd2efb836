package audio

import (
	"log/slog"
	"sync"
)

// FrameConverter resamples frames to a target rate. It logs a warning on the
// first rate mismatch only. Create one per stream; not designed for shared use
// across goroutines.
type FrameConverter struct {
	TargetRate int

	warnedMismatch sync.Once
}

// Convert returns frame resampled to the target rate. If the rates already
// match, or either rate is unknown, frame is returned unchanged (zero
// allocation).
func (c *FrameConverter) Convert(frame Frame) Frame {
	if frame.SampleRate == c.TargetRate || frame.SampleRate <= 0 || c.TargetRate <= 0 {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio sample rate mismatch: resampling",
			"from", frame.SampleRate,
			"to", c.TargetRate,
		)
	})

	return Frame{
		Samples:    Resample(frame.Samples, frame.SampleRate, c.TargetRate),
		SampleRate: c.TargetRate,
	}
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates are equal or invalid, src is returned unchanged.
func Resample(src []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(src) == 0 {
		return src
	}
	dstSamples := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := src[srcIdx]
		s1 := s0
		if srcIdx+1 < len(src) {
			s1 = src[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
