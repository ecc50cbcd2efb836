package audio_test

import (
	"testing"

	"github.com/MrWong99/voxlink/pkg/audio"
)

func TestResample_SameRate(t *testing.T) {
	src := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(src, 16000, 16000)
	if &out[0] != &src[0] {
		t.Error("expected same slice for matching rates")
	}
}

func TestResample_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	out := audio.Resample([]float32{0.25, 0.5}, 16000, 48000)
	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	if out[0] != 0.25 {
		t.Errorf("first sample: got %v, want 0.25", out[0])
	}
	last := out[len(out)-1]
	if last < 0.45 || last > 0.55 {
		t.Errorf("last sample: got %v, want close to 0.5", last)
	}
}

func TestResample_Downsample(t *testing.T) {
	out := audio.Resample([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, 48000, 16000)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
}

func TestResample_InvalidRate(t *testing.T) {
	src := []float32{0.1, 0.2}
	for _, tc := range []struct{ src, dst int }{{0, 48000}, {48000, 0}, {-1, 48000}} {
		if out := audio.Resample(src, tc.src, tc.dst); len(out) != len(src) {
			t.Errorf("Resample(%d→%d): expected unchanged output, got len %d", tc.src, tc.dst, len(out))
		}
	}
}

func TestFrameConverter_NoOp(t *testing.T) {
	conv := audio.FrameConverter{TargetRate: 16000}
	frame := audio.Frame{Samples: []float32{0.1, 0.2}, SampleRate: 16000}
	result := conv.Convert(frame)
	if &result.Samples[0] != &frame.Samples[0] {
		t.Error("expected same slice (zero allocation) for matching rate")
	}
}

func TestFrameConverter_Resamples(t *testing.T) {
	conv := audio.FrameConverter{TargetRate: 48000}
	frame := audio.Frame{Samples: make([]float32, 160), SampleRate: 16000}
	result := conv.Convert(frame)
	if result.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", result.SampleRate)
	}
	if len(result.Samples) != 480 {
		t.Errorf("len = %d, want 480", len(result.Samples))
	}
	if result.Duration() != frame.Duration() {
		t.Errorf("duration changed: %v → %v", frame.Duration(), result.Duration())
	}
}
