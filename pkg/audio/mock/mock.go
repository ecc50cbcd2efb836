// Package mock provides in-memory test doubles for the audio pipeline: a
// manually clocked [playback.Output] and a frame sink that records what the
// transport delivers.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	out := &mock.Output{}
//	sched := playback.New(out)
//	_ = sched.Start()
//	sched.Enqueue(frame)
//	out.Advance(128 * time.Millisecond)
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
)

var _ playback.Output = (*Output)(nil)

// ─── Output ───────────────────────────────────────────────────────────────────

// ScheduleCall records the arguments of a single [Output.Schedule] invocation.
type ScheduleCall struct {
	// Frame is the frame passed to Schedule.
	Frame audio.Frame
	// At is the requested start time.
	At time.Duration
}

// Output is a mock implementation of [playback.Output] whose clock only
// moves when the test calls [Output.SetNow] or [Output.Advance].
type Output struct {
	mu  sync.Mutex
	now time.Duration

	// ScheduleError is returned by [Output.Schedule]. The call is still
	// recorded.
	ScheduleError error

	// StopError is returned by [Output.Stop].
	StopError error

	// ScheduleCalls records all Schedule invocations in order.
	ScheduleCalls []ScheduleCall

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// Scheduled is signalled (non-blocking) after every Schedule call when
	// non-nil. Create it with capacity to wait for commits in tests.
	Scheduled chan ScheduleCall
}

// Now implements [playback.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the clock to d.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Advance moves the clock forward by d.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Schedule implements [playback.Output]. Records the call and returns
// ScheduleError.
func (o *Output) Schedule(frame audio.Frame, at time.Duration) error {
	o.mu.Lock()
	call := ScheduleCall{Frame: frame, At: at}
	o.ScheduleCalls = append(o.ScheduleCalls, call)
	err := o.ScheduleError
	notify := o.Scheduled
	o.mu.Unlock()

	if notify != nil {
		select {
		case notify <- call:
		default:
		}
	}
	return err
}

// Stop implements [playback.Output]. Returns StopError.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountStop++
	return o.StopError
}

// Calls returns a copy of ScheduleCalls.
func (o *Output) Calls() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduleCall, len(o.ScheduleCalls))
	copy(out, o.ScheduleCalls)
	return out
}

// StopCount returns CallCountStop.
func (o *Output) StopCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountStop
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink records frames delivered by a transport. It satisfies the transport's
// frame sink contract (Enqueue + Stop).
type Sink struct {
	mu sync.Mutex

	// Frames holds every enqueued frame in arrival order.
	Frames []audio.Frame

	// StopError is returned by [Sink.Stop].
	StopError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// Received is signalled (non-blocking) after every Enqueue when non-nil.
	Received chan audio.Frame
}

// Enqueue records frame.
func (s *Sink) Enqueue(frame audio.Frame) {
	s.mu.Lock()
	s.Frames = append(s.Frames, frame)
	notify := s.Received
	s.mu.Unlock()

	if notify != nil {
		select {
		case notify <- frame:
		default:
		}
	}
}

// Stop records the call and returns StopError.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return s.StopError
}

// Snapshot returns a copy of Frames.
func (s *Sink) Snapshot() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.Frames))
	copy(out, s.Frames)
	return out
}

// StopCount returns CallCountStop.
func (s *Sink) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}
