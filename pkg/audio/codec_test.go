package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestEncodeSample(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{1.5, 32767},   // clamped
		{-7, -32767},   // clamped, never -32768
		{0.5, 16384},   // 16383.5 rounds away from zero
		{-0.5, -16384}, // symmetric
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := audio.EncodeSample(tt.in); got != tt.want {
			t.Errorf("EncodeSample(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip_WithinTolerance(t *testing.T) {
	t.Parallel()
	const tol = 1.0 / 32767
	for i := -1000; i <= 1000; i++ {
		x := float32(i) / 1000
		got := audio.DecodeSample(audio.EncodeSample(x))
		if d := math.Abs(float64(got - x)); d > tol {
			t.Fatalf("decode(encode(%v)) = %v, off by %v (> %v)", x, got, d, tol)
		}
	}
}

func TestDecodeSample_AsymmetricBoundary(t *testing.T) {
	t.Parallel()
	// -32768 is never produced by EncodeSample and decodes just past -1.
	got := audio.DecodeSample(math.MinInt16)
	if got >= -1 {
		t.Errorf("DecodeSample(-32768) = %v, want < -1", got)
	}
	if audio.EncodeSample(got) != -32767 {
		t.Errorf("EncodeSample(DecodeSample(-32768)) = %d, want -32767", audio.EncodeSample(got))
	}
}

func TestEncodeDecode_Pure(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, -0.9, 0.33, 1}
	a, b := audio.Encode(in), audio.Encode(in)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Encode not deterministic at %d: %d vs %d", i, a[i], b[i])
		}
	}
	da, db := audio.Decode(a), audio.Decode(b)
	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("Decode not deterministic at %d", i)
		}
	}
	if in[0] != 0.1 {
		t.Error("Encode mutated its input")
	}
}

func TestAppendPCM16_LittleEndian(t *testing.T) {
	t.Parallel()
	got := audio.AppendPCM16(nil, []float32{1, -1, 0})
	want := samplesToBytes([]int16{32767, -32767, 0})
	if string(got) != string(want) {
		t.Errorf("AppendPCM16 = %v, want %v", got, want)
	}
}

func TestDecodePCM16(t *testing.T) {
	t.Parallel()
	samples, err := audio.DecodePCM16(samplesToBytes([]int16{32767, 0, -32767}))
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	want := []float32{1, 0, -1}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, samples[i], want[i])
		}
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	t.Parallel()
	_, err := audio.DecodePCM16([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("err = %v, want ErrOddLength", err)
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()
	f := audio.Frame{Samples: make([]float32, audio.DefaultFrameSamples), SampleRate: audio.DefaultSampleRate}
	if got := f.Duration(); got != 256*time.Millisecond {
		t.Errorf("Duration = %v, want exactly 256ms", got)
	}
	if (audio.Frame{Samples: make([]float32, 10)}).Duration() != 0 {
		t.Error("frame without sample rate should have zero duration")
	}
}
