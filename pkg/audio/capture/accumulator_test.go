package capture_test

import (
	"testing"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%1000) / 1000
	}
	return out
}

func drainFrames(q *audio.Queue[audio.Frame]) []audio.Frame {
	var frames []audio.Frame
	q.Clear(func(f audio.Frame) { frames = append(frames, f) })
	return frames
}

// ─── frame counts ────────────────────────────────────────────────────────────

func TestAccumulator_FrameCounts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		total      int
		frameLen   int
		chunk      int
		wantFull   int
		wantRemain int
	}{
		{"exact multiple", 4096 * 3, 4096, 512, 3, 0},
		{"with remainder", 10000, 4096, 480, 2, 10000 - 2*4096},
		{"shorter than one frame", 100, 4096, 33, 0, 100},
		{"chunk larger than frame", 1000, 64, 1000, 15, 1000 - 15*64},
		{"single sample writes", 50, 8, 1, 6, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := audio.NewQueue[audio.Frame](64)
			acc := capture.New(capture.Config{FrameSamples: tt.frameLen, SampleRate: 16000}, q)

			src := ramp(tt.total)
			for off := 0; off < len(src); off += tt.chunk {
				acc.Write(src[off:min(off+tt.chunk, len(src))])
			}
			if got := q.Len(); got != tt.wantFull {
				t.Fatalf("full frames = %d, want %d", got, tt.wantFull)
			}
			if acc.Buffered() != tt.wantRemain {
				t.Fatalf("Buffered = %d, want %d", acc.Buffered(), tt.wantRemain)
			}

			acc.Flush()
			frames := drainFrames(q)
			wantFrames := tt.wantFull
			if tt.wantRemain > 0 {
				wantFrames++
			}
			if len(frames) != wantFrames {
				t.Fatalf("frames after Flush = %d, want %d", len(frames), wantFrames)
			}

			// Emitted samples concatenate back to the input.
			var pos int
			for i, f := range frames {
				if f.SampleRate != 16000 {
					t.Errorf("frame %d SampleRate = %d", i, f.SampleRate)
				}
				if i < tt.wantFull && f.Len() != tt.frameLen {
					t.Errorf("frame %d len = %d, want %d", i, f.Len(), tt.frameLen)
				}
				for _, s := range f.Samples {
					if s != src[pos] {
						t.Fatalf("sample %d = %v, want %v", pos, s, src[pos])
					}
					pos++
				}
			}
			if pos != tt.total {
				t.Errorf("total emitted = %d, want %d", pos, tt.total)
			}
			if acc.Samples() != uint64(tt.total) {
				t.Errorf("Samples() = %d, want %d", acc.Samples(), tt.total)
			}
		})
	}
}

func TestAccumulator_FlushEmpty(t *testing.T) {
	t.Parallel()
	q := audio.NewQueue[audio.Frame](4)
	acc := capture.New(capture.Config{FrameSamples: 16}, q)
	acc.Flush()
	if q.Len() != 0 {
		t.Errorf("Flush on empty accumulator emitted %d frames", q.Len())
	}
	acc.Write(ramp(16))
	acc.Flush()
	if q.Len() != 1 {
		t.Errorf("Flush after exact frame emitted extra frame: Len = %d", q.Len())
	}
}

func TestAccumulator_Defaults(t *testing.T) {
	t.Parallel()
	q := audio.NewQueue[audio.Frame](2)
	acc := capture.New(capture.Config{}, q)
	acc.Write(make([]float32, audio.DefaultFrameSamples))
	f, ok := q.Pop()
	if !ok {
		t.Fatal("no frame emitted at default frame size")
	}
	if f.SampleRate != audio.DefaultSampleRate || f.Len() != audio.DefaultFrameSamples {
		t.Errorf("frame = %d samples @ %d Hz", f.Len(), f.SampleRate)
	}
}

// ─── overflow ────────────────────────────────────────────────────────────────

func TestAccumulator_DropsOldestWhenConsumerStalls(t *testing.T) {
	t.Parallel()
	q := audio.NewQueue[audio.Frame](2)
	acc := capture.New(capture.Config{FrameSamples: 4, PoolSize: 4}, q)

	for i := range 5 {
		acc.Write([]float32{float32(i), float32(i), float32(i), float32(i)})
	}
	if q.Len() != 2 {
		t.Fatalf("queue Len = %d, want bound 2", q.Len())
	}
	if acc.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", acc.Dropped())
	}
	if acc.Frames() != 5 {
		t.Errorf("Frames = %d, want 5", acc.Frames())
	}
	frames := drainFrames(q)
	if frames[0].Samples[0] != 3 || frames[1].Samples[0] != 4 {
		t.Errorf("kept frames start with %v,%v; want newest 3,4", frames[0].Samples[0], frames[1].Samples[0])
	}
	// Evicted buffers went back to the pool.
	if acc.Pool().Available() == 0 {
		t.Error("evicted frame buffers were not recycled")
	}
}

func TestAccumulator_FramesDoNotAliasRing(t *testing.T) {
	t.Parallel()
	q := audio.NewQueue[audio.Frame](4)
	acc := capture.New(capture.Config{FrameSamples: 2}, q)
	acc.Write([]float32{0.1, 0.2})
	acc.Write([]float32{0.3, 0.4})
	first, _ := q.Pop()
	if first.Samples[0] != 0.1 || first.Samples[1] != 0.2 {
		t.Errorf("first frame overwritten: %v", first.Samples)
	}
}
