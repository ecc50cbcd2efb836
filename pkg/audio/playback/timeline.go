package playback

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrTimelineFull is returned by [Timeline.Schedule] when the real-time side
// has not picked up earlier segments yet.
var ErrTimelineFull = errors.New("playback: timeline segment buffer full")

// DefaultTimelineSegments bounds the number of segments a Timeline holds.
const DefaultTimelineSegments = 8

type segment struct {
	samples []float32
	start   int64 // in device samples
	gen     uint64
}

// Timeline is an [Output] for pull-model devices, where the audio driver asks
// for the next buffer from a real-time callback.
//
// The device clock is the number of samples rendered so far. Schedule converts
// the requested start time into a sample position and hands the segment over
// through a bounded channel; Render mixes every segment overlapping the
// rendered range into dst. Render takes no locks and does not allocate.
type Timeline struct {
	rate  int
	conv  audio.FrameConverter
	segs  chan segment
	clock atomic.Int64
	gen   atomic.Uint64

	// Owned by the Render goroutine.
	active  []segment
	seenGen uint64

	late atomic.Uint64
}

// NewTimeline creates a timeline clocked at rate Hz holding at most maxSegs
// pending or playing segments.
func NewTimeline(rate, maxSegs int) *Timeline {
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	if maxSegs <= 0 {
		maxSegs = DefaultTimelineSegments
	}
	return &Timeline{
		rate:   rate,
		conv:   audio.FrameConverter{TargetRate: rate},
		segs:   make(chan segment, maxSegs),
		active: make([]segment, 0, maxSegs),
	}
}

// Now returns the duration of audio rendered so far.
func (t *Timeline) Now() time.Duration {
	return time.Duration(t.clock.Load() * int64(time.Second) / int64(t.rate))
}

// Schedule queues frame to start at device time at. Frames at a different
// sample rate are resampled first.
func (t *Timeline) Schedule(frame audio.Frame, at time.Duration) error {
	frame = t.conv.Convert(frame)
	seg := segment{
		samples: frame.Samples,
		start:   audio.DurationSamples(at, t.rate),
		gen:     t.gen.Load(),
	}
	select {
	case t.segs <- seg:
		return nil
	default:
		return ErrTimelineFull
	}
}

// Stop discards every pending and playing segment. The clock keeps running.
func (t *Timeline) Stop() error {
	t.gen.Add(1)
	for {
		select {
		case <-t.segs:
		default:
			return nil
		}
	}
}

// Render fills dst with the audio due at the current clock position and
// advances the clock by len(dst) samples. Positions not covered by any
// segment are silent.
func (t *Timeline) Render(dst []float32) {
	gen := t.gen.Load()
	if gen != t.seenGen {
		t.active = t.active[:0]
		t.seenGen = gen
	}
	for len(t.active) < cap(t.active) {
		seg, ok := t.receive()
		if !ok {
			break
		}
		if seg.gen == gen {
			t.active = append(t.active, seg)
		}
	}

	clear(dst)
	from := t.clock.Load()
	to := from + int64(len(dst))

	kept := t.active[:0]
	for _, seg := range t.active {
		end := seg.start + int64(len(seg.samples))
		if end <= from {
			// Arrived after its slot had already been rendered.
			t.late.Add(1)
			continue
		}
		if seg.start < to {
			lo := max(seg.start, from)
			hi := min(end, to)
			src := seg.samples[lo-seg.start : hi-seg.start]
			out := dst[lo-from : hi-from]
			for i, s := range src {
				out[i] += s
			}
		}
		if end > to {
			kept = append(kept, seg)
		}
	}
	t.active = kept

	for i, s := range dst {
		if s > 1 {
			dst[i] = 1
		} else if s < -1 {
			dst[i] = -1
		}
	}
	t.clock.Add(int64(len(dst)))
}

func (t *Timeline) receive() (segment, bool) {
	select {
	case seg := <-t.segs:
		return seg, true
	default:
		return segment{}, false
	}
}

// Pending returns the number of segments handed over but not yet picked up
// by Render.
func (t *Timeline) Pending() int { return len(t.segs) }

// Late returns how many segments were discarded because their whole time
// range had already been rendered.
func (t *Timeline) Late() uint64 { return t.late.Load() }

// SampleRate returns the device clock rate.
func (t *Timeline) SampleRate() int { return t.rate }
