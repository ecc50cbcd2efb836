package playback_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
)

func constFrame(n int, v float32) audio.Frame {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Frame{Samples: s, SampleRate: 16000}
}

func TestTimeline_ClockAdvancesWithRender(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(16000, 4)
	buf := make([]float32, 160)
	for range 10 {
		tl.Render(buf)
	}
	if tl.Now() != 100*time.Millisecond {
		t.Errorf("Now = %v, want 100ms", tl.Now())
	}
}

func TestTimeline_RendersAtScheduledPosition(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(16000, 4)
	// 10 samples starting at sample 5 (312.5us).
	at := audio.SamplesDuration(5, 16000)
	if err := tl.Schedule(constFrame(10, 0.5), at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	first := make([]float32, 8)
	tl.Render(first)
	for i, s := range first {
		want := float32(0)
		if i >= 5 {
			want = 0.5
		}
		if s != want {
			t.Errorf("first[%d] = %v, want %v", i, s, want)
		}
	}

	second := make([]float32, 10)
	tl.Render(second)
	for i, s := range second {
		want := float32(0)
		if i < 7 {
			want = 0.5
		}
		if s != want {
			t.Errorf("second[%d] = %v, want %v", i, s, want)
		}
	}
}

func TestTimeline_BackToBackSegmentsAreGapless(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(16000, 4)
	_ = tl.Schedule(constFrame(4, 0.25), 0)
	_ = tl.Schedule(constFrame(4, 0.75), audio.SamplesDuration(4, 16000))

	buf := make([]float32, 8)
	tl.Render(buf)
	want := []float32{0.25, 0.25, 0.25, 0.25, 0.75, 0.75, 0.75, 0.75}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("buf[%d] = %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestTimeline_StopSilencesCommittedSegments(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(16000, 4)
	_ = tl.Schedule(constFrame(100, 0.5), 0)

	buf := make([]float32, 10)
	tl.Render(buf)
	if buf[0] != 0.5 {
		t.Fatalf("segment not playing: %v", buf[0])
	}
	if err := tl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	tl.Render(buf)
	for i, s := range buf {
		if s != 0 {
			t.Fatalf("buf[%d] = %v after Stop, want silence", i, s)
		}
	}
	if tl.Now() != audio.SamplesDuration(20, 16000) {
		t.Errorf("clock stopped: Now = %v", tl.Now())
	}
}

func TestTimeline_Full(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(16000, 1)
	if err := tl.Schedule(constFrame(4, 0.1), 0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := tl.Schedule(constFrame(4, 0.1), 0); !errors.Is(err, playback.ErrTimelineFull) {
		t.Errorf("err = %v, want ErrTimelineFull", err)
	}
}

func TestTimeline_ResamplesToDeviceRate(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(48000, 2)
	_ = tl.Schedule(constFrame(160, 0.5), 0) // 10ms at 16 kHz

	buf := make([]float32, 480)
	tl.Render(buf)
	if math.Abs(float64(buf[0])-0.5) > 1e-6 || math.Abs(float64(buf[470])-0.5) > 1e-6 {
		t.Errorf("resampled segment not rendered across 10ms: %v %v", buf[0], buf[470])
	}
	tl.Render(buf)
	if buf[0] != 0 {
		t.Errorf("segment overran its duration: %v", buf[0])
	}
}

func TestTimeline_DropsLateSegments(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(16000, 2)
	tl.Render(make([]float32, 100))
	_ = tl.Schedule(constFrame(10, 0.5), 0)

	buf := make([]float32, 10)
	tl.Render(buf)
	if buf[0] != 0 || tl.Late() != 1 {
		t.Errorf("late segment rendered (buf[0]=%v, Late=%d)", buf[0], tl.Late())
	}
}

func TestTimeline_AsSchedulerOutput(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(16000, 4)
	s := playback.New(tl)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	s.Enqueue(constFrame(32, 0.5))

	deadline := time.After(2 * time.Second)
	for tl.Pending() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never committed to the timeline")
		case <-time.After(time.Millisecond):
		}
	}
	buf := make([]float32, 32)
	tl.Render(buf)
	if buf[0] != 0.5 || buf[31] != 0.5 {
		t.Errorf("rendered %v..%v, want 0.5", buf[0], buf[31])
	}
}

func TestTimeline_FullKeepsQueuedFrames(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(16000, 2)
	statuses := make(chan error, 16)
	s := playback.New(tl,
		playback.WithPrimeFrames(6),
		playback.WithStatusHandler(func(err error) {
			select {
			case statuses <- err:
			default:
			}
		}),
	)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	// 20 ms frames; nothing renders, so the timeline fills after two.
	for range 6 {
		s.Enqueue(constFrame(320, 0.25))
	}
	select {
	case err := <-statuses:
		if !errors.Is(err, playback.ErrTimelineFull) {
			t.Fatalf("status = %v, want ErrTimelineFull", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeline never reported full")
	}

	// Several retry periods pass without losing anything.
	time.Sleep(100 * time.Millisecond)
	st := s.Stats()
	if st.Scheduled != 2 || st.Queued != 4 || st.Failed != 0 {
		t.Errorf("stats = %+v, want 2 scheduled and 4 still queued", st)
	}
	if n := len(statuses); n != 0 {
		t.Errorf("%d extra statuses while retrying, want none", n)
	}

	tl.Render(make([]float32, 640))
	deadline := time.After(2 * time.Second)
	for s.Stats().Scheduled < 3 {
		select {
		case <-deadline:
			t.Fatal("held frame never committed after the timeline drained")
		case <-time.After(time.Millisecond):
		}
	}
}
