package audio

import (
	"math"
	"sync/atomic"
)

// Level is a volume reading for one frame, both values in percent [0, 100].
type Level struct {
	RMS  float64
	Peak float64
}

// RMS returns the root-mean-square of samples times 100, clamped to [0, 100].
// An empty slice yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return clampPercent(math.Sqrt(sum/float64(len(samples))) * 100)
}

// Peak returns the largest absolute sample times 100, clamped to [0, 100].
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return clampPercent(peak * 100)
}

// MeasureLevel computes both readings for samples.
func MeasureLevel(samples []float32) Level {
	return Level{RMS: RMS(samples), Peak: Peak(samples)}
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// LevelMeter holds the level of the most recently processed frame. It has no
// queue of its own; every Observe overwrites the previous reading.
//
// LevelMeter is safe for concurrent use and never blocks, so it may be fed
// from a real-time callback. The zero value reads as silence.
type LevelMeter struct {
	rms  atomic.Uint64
	peak atomic.Uint64
}

// Observe measures samples and stores the result.
func (m *LevelMeter) Observe(samples []float32) Level {
	l := MeasureLevel(samples)
	m.Set(l)
	return l
}

// Set stores l as the current reading.
func (m *LevelMeter) Set(l Level) {
	m.rms.Store(math.Float64bits(l.RMS))
	m.peak.Store(math.Float64bits(l.Peak))
}

// Level returns the current reading.
func (m *LevelMeter) Level() Level {
	return Level{
		RMS:  math.Float64frombits(m.rms.Load()),
		Peak: math.Float64frombits(m.peak.Load()),
	}
}

// Reset freezes the reading to zero. Called on stop and underrun so that
// consumers never display stale levels.
func (m *LevelMeter) Reset() {
	m.rms.Store(0)
	m.peak.Store(0)
}
