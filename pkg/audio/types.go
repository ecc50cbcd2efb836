// Package audio defines the frame type and the pure sample helpers shared by
// every stage of the voxlink PCM pipeline.
//
// The pipeline works on mono audio at a fixed sample rate. Internally samples
// are normalised float32 values in [-1, 1]; on the wire they are 16-bit
// signed little-endian integers (see [AppendPCM16] and [DecodePCM16]).
//
// Sub-packages build the stages on top of this package:
//
//   - audio/capture: turns a real-time callback stream into [Frame] values.
//   - audio/playback: jitter buffer and clock-driven scheduler.
//   - audio/wav: RIFF/WAVE container encoding.
//   - audio/device: miniaudio-backed capture and playback device.
package audio

import "time"

const (
	// DefaultSampleRate is the pipeline sample rate in Hz.
	DefaultSampleRate = 16000

	// DefaultFrameSamples is the nominal number of samples per frame.
	// At [DefaultSampleRate] one frame lasts 256 ms.
	DefaultFrameSamples = 4096

	// BytesPerSample is the width of one sample on the wire.
	BytesPerSample = 2
)

// Frame is one contiguous block of mono audio.
//
// Frames are immutable once constructed. Ownership moves with the value: the
// accumulator owns a frame until it is full, the transport until it is sent,
// and the playback scheduler once it has been dequeued.
type Frame struct {
	// Samples holds normalised samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns the playback length of the frame. A frame with a
// non-positive sample rate has zero duration.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int { return len(f.Samples) }

// SamplesDuration converts a sample count at rate Hz into a duration.
// The computation is exact for the pipeline's rates: 4096 samples at
// 16 kHz is exactly 256ms.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationSamples converts d into a whole number of samples at rate Hz,
// truncating any fractional sample.
func DurationSamples(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int64(d) * int64(rate) / int64(time.Second)
}
